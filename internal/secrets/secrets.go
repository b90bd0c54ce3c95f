// Package secrets wraps the OS keyring for everything the engine must not
// write to disk: IAM user long-lived keys, cached session tokens, and SSO
// integration bearer tokens.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/credmux/credmux/internal/session"
	"github.com/zalando/go-keyring"
)

const ServiceName = "credmux"

var ErrSecretStore = errors.New("secret store failure")

// Keyring is the minimal surface of the OS keyring, kept narrow so tests can
// swap in a map-backed fake.
type Keyring interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// keyRingImpl is the default keyring implementation
type keyRingImpl struct{}

func (k *keyRingImpl) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}
func (k *keyRingImpl) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}
func (k *keyRingImpl) Delete(service, user string) error {
	return keyring.Delete(service, user)
}

type Store struct {
	service string
	keyring Keyring
}

func NewStore() *Store {
	return &Store{service: ServiceName, keyring: &keyRingImpl{}}
}

func (s *Store) WithKeyring(kr Keyring) *Store {
	s.keyring = kr
	return s
}

func IAMUserAccessKeyID(sessionID string) string {
	return fmt.Sprintf("%s-iam-user-access-key-id", sessionID)
}

func IAMUserSecretAccessKey(sessionID string) string {
	return fmt.Sprintf("%s-iam-user-secret-access-key", sessionID)
}

func IAMUserSessionToken(sessionID string) string {
	return fmt.Sprintf("%s-iam-user-session-token", sessionID)
}

func SSOIntegrationAccessToken(integrationID string) string {
	return fmt.Sprintf("aws-sso-integration-access-token-%s", integrationID)
}

// Get returns the secret and whether it was present; absence is not an error.
func (s *Store) Get(key string) (string, bool, error) {
	v, err := s.keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: %s, %w", key, err, ErrSecretStore)
	}
	return v, true, nil
}

func (s *Store) Set(key, value string) error {
	if err := s.keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("%s: %s, %w", key, err, ErrSecretStore)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	if err := s.keyring.Delete(s.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%s: %s, %w", key, err, ErrSecretStore)
	}
	return nil
}

// CachedSessionToken loads the JSON-encoded material cached for an IAM user
// session, if any.
func (s *Store) CachedSessionToken(sessionID string) (*session.CredentialMaterial, bool, error) {
	raw, ok, err := s.Get(IAMUserSessionToken(sessionID))
	if err != nil || !ok {
		return nil, false, err
	}
	material := &session.CredentialMaterial{}
	if err := json.Unmarshal([]byte(raw), material); err != nil {
		return nil, false, fmt.Errorf("cached session token: %s, %w", err, session.ErrParse)
	}
	return material, true, nil
}

func (s *Store) SaveSessionToken(sessionID string, material *session.CredentialMaterial) error {
	b, err := json.Marshal(material)
	if err != nil {
		return err
	}
	return s.Set(IAMUserSessionToken(sessionID), string(b))
}

// PurgeIAMUser removes all three IAM user secrets for a session.
func (s *Store) PurgeIAMUser(sessionID string) error {
	for _, key := range []string{
		IAMUserAccessKeyID(sessionID),
		IAMUserSecretAccessKey(sessionID),
		IAMUserSessionToken(sessionID),
	} {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
