package workspace

import (
	"github.com/credmux/credmux/internal/session"
)

// Document is the serialized workspace: every session, named profile, IdP URL
// and SSO integration the user has configured, plus process defaults. It is
// read whole into memory on first access and written back whole on every
// mutation.
type Document struct {
	Sessions     []*session.Session       `json:"sessions"`
	Profiles     []session.NamedProfile   `json:"profiles"`
	IdpURLs      []session.IdpURL         `json:"idpUrls"`
	Integrations []session.SsoIntegration `json:"awsSsoIntegrations"`
	Defaults     Defaults                 `json:"defaults"`
}

type Defaults struct {
	Region              string `json:"region,omitempty"`
	RotationAgeSeconds  int    `json:"rotationAgeSeconds,omitempty"`
	SessionDurationSecs int    `json:"sessionDurationSeconds,omitempty"`
}

func newDocument() *Document {
	return &Document{
		Sessions: []*session.Session{},
		Profiles: []session.NamedProfile{
			{ID: session.NewID(), Name: session.DefaultProfileName},
		},
		IdpURLs:      []session.IdpURL{},
		Integrations: []session.SsoIntegration{},
	}
}
