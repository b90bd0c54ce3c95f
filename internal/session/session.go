package session

import (
	"time"

	"github.com/google/uuid"
)

// Type tags the closed set of cloud-identity methods a session can use.
type Type string

const (
	TypeIAMUser          Type = "iam-user"
	TypeIAMRoleFederated Type = "iam-role-federated"
	TypeIAMRoleChained   Type = "iam-role-chained"
	TypeSSORole          Type = "sso-role"
	TypeAzure            Type = "azure"
)

type Status string

const (
	StatusInactive Status = "inactive"
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
)

// BrowserOpening selects how an SSO integration presents its verification page.
type BrowserOpening string

const (
	BrowserOpeningInApp     BrowserOpening = "in-app"
	BrowserOpeningInBrowser BrowserOpening = "in-browser"
)

// DefaultRoleSessionName is used for chained role sessions that do not set one.
const DefaultRoleSessionName = "assumed-from-leapp"

// DefaultProfileName is reserved; the profile cannot be renamed or deleted.
const DefaultProfileName = "default"

// Session is one configured cloud identity. The Type tag determines which
// single variant pointer is set; every consumer switches exhaustively on it.
type Session struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Region    string     `json:"region"`
	Status    Status     `json:"status"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	ProfileID string     `json:"profileId,omitempty"`
	Type      Type       `json:"type"`

	IAMUser   *IAMUserAttrs   `json:"iamUser,omitempty"`
	Federated *FederatedAttrs `json:"federated,omitempty"`
	Chained   *ChainedAttrs   `json:"chained,omitempty"`
	SSORole   *SSORoleAttrs   `json:"ssoRole,omitempty"`
	Azure     *AzureAttrs     `json:"azure,omitempty"`
}

type IAMUserAttrs struct {
	MFADevice string `json:"mfaDevice,omitempty"`
}

type FederatedAttrs struct {
	IdpURLID string `json:"idpUrlId"`
	IdpARN   string `json:"idpArn"`
	RoleARN  string `json:"roleArn"`
}

type ChainedAttrs struct {
	RoleARN         string `json:"roleArn"`
	RoleSessionName string `json:"roleSessionName,omitempty"`
	ParentSessionID string `json:"parentSessionId"`
}

type SSORoleAttrs struct {
	RoleARN       string `json:"roleArn"`
	Email         string `json:"email,omitempty"`
	IntegrationID string `json:"awsSsoIntegrationId"`
}

type AzureAttrs struct {
	SubscriptionID string `json:"subscriptionId"`
	TenantID       string `json:"tenantId"`
}

// NamedProfile is a named slot in the shared credentials file.
type NamedProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IdpURL is a SAML identity-provider sign-in URL shared by federated sessions.
type IdpURL struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type SsoIntegration struct {
	ID                   string         `json:"id"`
	Alias                string         `json:"alias"`
	Region               string         `json:"region"`
	PortalURL            string         `json:"portalUrl"`
	BrowserOpening       BrowserOpening `json:"browserOpening"`
	AccessTokenExpiresAt *time.Time     `json:"accessTokenExpiration,omitempty"`
}

// CredentialMaterial is the only credential shape ever written to the shared
// credentials file, regardless of which cloud protocol produced it.
type CredentialMaterial struct {
	AccessKeyID     string    `json:"AccessKeyId"`
	SecretAccessKey string    `json:"SecretAccessKey"`
	SessionToken    string    `json:"SessionToken"`
	Region          string    `json:"Region,omitempty"`
	ExpiresAt       time.Time `json:"Expiration"`
}

// ExpiresWithin reports whether the material expires before now+margin.
func (m *CredentialMaterial) ExpiresWithin(margin time.Duration) bool {
	if m.ExpiresAt.IsZero() {
		return true
	}
	return time.Until(m.ExpiresAt) < margin
}

func NewID() string {
	return uuid.NewString()
}

func NewIAMUser(name, region, profileID, mfaDevice string) *Session {
	return &Session{
		ID:        NewID(),
		Name:      name,
		Region:    region,
		Status:    StatusInactive,
		ProfileID: profileID,
		Type:      TypeIAMUser,
		IAMUser:   &IAMUserAttrs{MFADevice: mfaDevice},
	}
}

func NewFederated(name, region, profileID, idpURLID, idpARN, roleARN string) *Session {
	return &Session{
		ID:        NewID(),
		Name:      name,
		Region:    region,
		Status:    StatusInactive,
		ProfileID: profileID,
		Type:      TypeIAMRoleFederated,
		Federated: &FederatedAttrs{IdpURLID: idpURLID, IdpARN: idpARN, RoleARN: roleARN},
	}
}

func NewChained(name, region, profileID, roleARN, roleSessionName, parentSessionID string) *Session {
	return &Session{
		ID:        NewID(),
		Name:      name,
		Region:    region,
		Status:    StatusInactive,
		ProfileID: profileID,
		Type:      TypeIAMRoleChained,
		Chained:   &ChainedAttrs{RoleARN: roleARN, RoleSessionName: roleSessionName, ParentSessionID: parentSessionID},
	}
}

func NewSSORole(name, region, profileID, roleARN, email, integrationID string) *Session {
	return &Session{
		ID:        NewID(),
		Name:      name,
		Region:    region,
		Status:    StatusInactive,
		ProfileID: profileID,
		Type:      TypeSSORole,
		SSORole:   &SSORoleAttrs{RoleARN: roleARN, Email: email, IntegrationID: integrationID},
	}
}

// NewAzure builds an Azure session; the Azure CLI owns the active-account
// state so such sessions have no profile.
func NewAzure(name, region, subscriptionID, tenantID string) *Session {
	return &Session{
		ID:     NewID(),
		Name:   name,
		Region: region,
		Status: StatusInactive,
		Type:   TypeAzure,
		Azure:  &AzureAttrs{SubscriptionID: subscriptionID, TenantID: tenantID},
	}
}
