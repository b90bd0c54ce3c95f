package secrets_test

import (
	"errors"
	"testing"
	"time"

	"github.com/credmux/credmux/internal/secrets"
	"github.com/credmux/credmux/internal/session"
	"github.com/zalando/go-keyring"
)

type fakeKeyring struct {
	vals    map[string]string
	setErr  error
	service string
}

func newFakeKeyring() *fakeKeyring {
	return &fakeKeyring{vals: map[string]string{}}
}

func (f *fakeKeyring) Set(service, user, password string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.service = service
	f.vals[user] = password
	return nil
}

func (f *fakeKeyring) Get(service, user string) (string, error) {
	v, ok := f.vals[user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func (f *fakeKeyring) Delete(service, user string) error {
	if _, ok := f.vals[user]; !ok {
		return keyring.ErrNotFound
	}
	delete(f.vals, user)
	return nil
}

func Test_key_naming_scheme(t *testing.T) {
	ttests := map[string]struct {
		got, want string
	}{
		"access key id":     {secrets.IAMUserAccessKeyID("s-1"), "s-1-iam-user-access-key-id"},
		"secret access key": {secrets.IAMUserSecretAccessKey("s-1"), "s-1-iam-user-secret-access-key"},
		"session token":     {secrets.IAMUserSessionToken("s-1"), "s-1-iam-user-session-token"},
		"sso access token":  {secrets.SSOIntegrationAccessToken("i-9"), "aws-sso-integration-access-token-i-9"},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, wanted %s", tt.got, tt.want)
			}
		})
	}
}

func Test_Get_absent_key_is_not_an_error(t *testing.T) {
	store := secrets.NewStore().WithKeyring(newFakeKeyring())
	v, ok, err := store.Get("never-set")
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if ok || v != "" {
		t.Errorf("got (%q, %v), wanted absent", v, ok)
	}
}

func Test_Set_failure_wraps_ErrSecretStore(t *testing.T) {
	kr := newFakeKeyring()
	kr.setErr = errors.New("dbus unavailable")
	store := secrets.NewStore().WithKeyring(kr)
	if err := store.Set("k", "v"); !errors.Is(err, secrets.ErrSecretStore) {
		t.Errorf("got %v, wanted ErrSecretStore", err)
	}
}

func Test_Set_uses_service_name(t *testing.T) {
	kr := newFakeKeyring()
	store := secrets.NewStore().WithKeyring(kr)
	if err := store.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	if kr.service != secrets.ServiceName {
		t.Errorf("got %s, wanted %s", kr.service, secrets.ServiceName)
	}
}

func Test_SessionToken_cache_roundtrip(t *testing.T) {
	store := secrets.NewStore().WithKeyring(newFakeKeyring())

	material := &session.CredentialMaterial{
		AccessKeyID:     "ASIACACHED",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		ExpiresAt:       time.Now().Add(30 * time.Minute).Truncate(time.Second),
	}
	if err := store.SaveSessionToken("s-1", material); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.CachedSessionToken("s-1")
	if err != nil || !ok {
		t.Fatalf("got (%v, %v), wanted cached material", ok, err)
	}
	if got.AccessKeyID != material.AccessKeyID || !got.ExpiresAt.Equal(material.ExpiresAt) {
		t.Errorf("got %+v, wanted %+v", got, material)
	}

	_, ok, err = store.CachedSessionToken("s-other")
	if err != nil || ok {
		t.Errorf("got (%v, %v), wanted no cache for other session", ok, err)
	}
}

func Test_CachedSessionToken_corrupt_payload(t *testing.T) {
	store := secrets.NewStore().WithKeyring(newFakeKeyring())
	if err := store.Set(secrets.IAMUserSessionToken("s-1"), "{not json"); err != nil {
		t.Fatal(err)
	}
	_, _, err := store.CachedSessionToken("s-1")
	if !errors.Is(err, session.ErrParse) {
		t.Errorf("got %v, wanted ErrParse", err)
	}
}

func Test_PurgeIAMUser_removes_all_keys_and_tolerates_absence(t *testing.T) {
	kr := newFakeKeyring()
	store := secrets.NewStore().WithKeyring(kr)
	if err := store.Set(secrets.IAMUserAccessKeyID("s-1"), "AKIA"); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(secrets.IAMUserSecretAccessKey("s-1"), "secret"); err != nil {
		t.Fatal(err)
	}

	if err := store.PurgeIAMUser("s-1"); err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if len(kr.vals) != 0 {
		t.Errorf("got %v, wanted empty keyring", kr.vals)
	}
	// second purge hits only absent keys
	if err := store.PurgeIAMUser("s-1"); err != nil {
		t.Errorf("got %s, wanted <nil>", err)
	}
}
