package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/credmux/credmux/internal/session"
	"github.com/werf/lockgate"
	"github.com/werf/lockgate/pkg/file_locker"
)

var (
	ErrPersist             = errors.New("unable to persist workspace")
	ErrCannotLockDir       = errors.New("unable to create lock dir")
	ErrUnableToAcquireLock = errors.New("cannot acquire lock")
	ErrProfileNameTaken    = errors.New("profile name already in use")
	ErrProfileInUse        = errors.New("profile referenced by a session")
)

const lockResource = "workspace"

// Store holds the canonical session list and the rest of the workspace
// document. All mutations are write-through: the full document is persisted
// before the call returns, and a persistence failure surfaces as a fatal
// error. A process mutex plus a lockgate file lock serialize writers within
// and across processes.
type Store struct {
	path   string
	locker lockgate.Locker

	mu sync.Mutex
	// doc holds the document between load and persist within one operation;
	// it is never trusted across operations.
	doc *Document
}

func NewStore(path string) (*Store, error) {
	lockDir := filepath.Join(filepath.Dir(path), ".lock")
	locker, err := file_locker.NewFileLocker(lockDir)
	if err != nil {
		return nil, fmt.Errorf("cannot setup lock dir %s: %s, %w", lockDir, err, ErrCannotLockDir)
	}
	return &Store{path: path, locker: locker}, nil
}

func (s *Store) WithLocker(locker lockgate.Locker) *Store {
	s.locker = locker
	return s
}

func (s *Store) ensureLock() (func(), error) {
	acquired, lock, err := s.locker.Acquire(lockResource, lockgate.AcquireOptions{Shared: false, Timeout: 1 * time.Minute})
	if err != nil {
		return nil, fmt.Errorf("%s, %w", err, ErrUnableToAcquireLock)
	}
	if !acquired {
		return nil, ErrUnableToAcquireLock
	}
	return func() {
		if err := s.locker.Release(lock); err != nil {
			fmt.Fprintf(os.Stderr, "workspace lock release: %v\n", err)
		}
	}, nil
}

// load reads the document from disk. Another process may have persisted
// between two operations of this Store, so every operation re-reads; a cached
// copy written back wholesale would erase the other writer's update. Callers
// hold s.mu, and mutators additionally hold the file lock across
// load-modify-persist. A missing file yields a fresh document.
func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.doc = newDocument()
			return nil
		}
		return err
	}
	doc := &Document{}
	if err := json.Unmarshal(b, doc); err != nil {
		return fmt.Errorf("workspace document: %s, %w", err, session.ErrParse)
	}
	s.doc = doc
	return nil
}

// persist writes the whole document back. Callers hold s.mu.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("%s, %w", err, ErrPersist)
	}
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%s, %w", err, ErrPersist)
	}
	if err := os.WriteFile(s.path, b, 0600); err != nil {
		return fmt.Errorf("%s, %w", err, ErrPersist)
	}
	return nil
}

func (s *Store) mutate(fn func(doc *Document) error) error {
	release, err := s.ensureLock()
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	if err := fn(s.doc); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) view(fn func(doc *Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	fn(s.doc)
	return nil
}

func (s *Store) Sessions() ([]*session.Session, error) {
	var out []*session.Session
	err := s.view(func(doc *Document) {
		for _, sess := range doc.Sessions {
			out = append(out, cloneSession(sess))
		}
	})
	return out, err
}

func (s *Store) Session(id string) (*session.Session, error) {
	var found *session.Session
	err := s.view(func(doc *Document) {
		for _, sess := range doc.Sessions {
			if sess.ID == id {
				found = cloneSession(sess)
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("session %s: %w", id, session.ErrNotFound)
	}
	return found, nil
}

// AddSession validates references before persisting: the profile must exist
// (Azure sessions carry none), a chained parent must exist, and the parent
// chain must not revisit a node or name the session itself.
func (s *Store) AddSession(sess *session.Session) error {
	return s.mutate(func(doc *Document) error {
		if sess.ProfileID != "" {
			if _, ok := profileByID(doc, sess.ProfileID); !ok {
				return fmt.Errorf("profile %s: %w", sess.ProfileID, session.ErrNotFound)
			}
		}
		if sess.Type == session.TypeIAMRoleChained {
			if err := checkChain(doc, sess); err != nil {
				return err
			}
		}
		doc.Sessions = append(doc.Sessions, cloneSession(sess))
		return nil
	})
}

func (s *Store) UpdateSession(sess *session.Session) error {
	return s.mutate(func(doc *Document) error {
		for i, cur := range doc.Sessions {
			if cur.ID == sess.ID {
				doc.Sessions[i] = cloneSession(sess)
				return nil
			}
		}
		return fmt.Errorf("session %s: %w", sess.ID, session.ErrNotFound)
	})
}

func (s *Store) ReplaceSessions(sessions []*session.Session) error {
	return s.mutate(func(doc *Document) error {
		doc.Sessions = make([]*session.Session, 0, len(sessions))
		for _, sess := range sessions {
			doc.Sessions = append(doc.Sessions, cloneSession(sess))
		}
		return nil
	})
}

func (s *Store) RemoveSession(id string) error {
	return s.mutate(func(doc *Document) error {
		for i, cur := range doc.Sessions {
			if cur.ID == id {
				doc.Sessions = append(doc.Sessions[:i], doc.Sessions[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("session %s: %w", id, session.ErrNotFound)
	})
}

func (s *Store) ChainedChildren(parentID string) ([]*session.Session, error) {
	var out []*session.Session
	err := s.view(func(doc *Document) {
		for _, sess := range doc.Sessions {
			if sess.Type == session.TypeIAMRoleChained && sess.Chained.ParentSessionID == parentID {
				out = append(out, cloneSession(sess))
			}
		}
	})
	return out, err
}

func (s *Store) SessionsByProfile(profileID string) ([]*session.Session, error) {
	var out []*session.Session
	err := s.view(func(doc *Document) {
		for _, sess := range doc.Sessions {
			if sess.ProfileID == profileID {
				out = append(out, cloneSession(sess))
			}
		}
	})
	return out, err
}

func (s *Store) Profiles() ([]session.NamedProfile, error) {
	var out []session.NamedProfile
	err := s.view(func(doc *Document) {
		out = append(out, doc.Profiles...)
	})
	return out, err
}

func (s *Store) Profile(id string) (session.NamedProfile, error) {
	var found *session.NamedProfile
	err := s.view(func(doc *Document) {
		if p, ok := profileByID(doc, id); ok {
			found = &p
		}
	})
	if err != nil {
		return session.NamedProfile{}, err
	}
	if found == nil {
		return session.NamedProfile{}, fmt.Errorf("profile %s: %w", id, session.ErrNotFound)
	}
	return *found, nil
}

func (s *Store) ProfileByName(name string) (session.NamedProfile, error) {
	var found *session.NamedProfile
	err := s.view(func(doc *Document) {
		for _, p := range doc.Profiles {
			if p.Name == name {
				prof := p
				found = &prof
				return
			}
		}
	})
	if err != nil {
		return session.NamedProfile{}, err
	}
	if found == nil {
		return session.NamedProfile{}, fmt.Errorf("profile %q: %w", name, session.ErrNotFound)
	}
	return *found, nil
}

func (s *Store) AddProfile(name string) (session.NamedProfile, error) {
	prof := session.NamedProfile{ID: session.NewID(), Name: name}
	err := s.mutate(func(doc *Document) error {
		for _, p := range doc.Profiles {
			if p.Name == name {
				return fmt.Errorf("%q: %w", name, ErrProfileNameTaken)
			}
		}
		doc.Profiles = append(doc.Profiles, prof)
		return nil
	})
	if err != nil {
		return session.NamedProfile{}, err
	}
	return prof, nil
}

func (s *Store) RenameProfile(id, newName string) error {
	return s.mutate(func(doc *Document) error {
		for i, p := range doc.Profiles {
			if p.ID != id {
				continue
			}
			if p.Name == session.DefaultProfileName {
				return fmt.Errorf("%q: %w", p.Name, session.ErrProfileProtected)
			}
			doc.Profiles[i].Name = newName
			return nil
		}
		return fmt.Errorf("profile %s: %w", id, session.ErrNotFound)
	})
}

func (s *Store) RemoveProfile(id string) error {
	return s.mutate(func(doc *Document) error {
		for i, p := range doc.Profiles {
			if p.ID != id {
				continue
			}
			if p.Name == session.DefaultProfileName {
				return fmt.Errorf("%q: %w", p.Name, session.ErrProfileProtected)
			}
			for _, sess := range doc.Sessions {
				if sess.ProfileID == id {
					return fmt.Errorf("%q: %w", p.Name, ErrProfileInUse)
				}
			}
			doc.Profiles = append(doc.Profiles[:i], doc.Profiles[i+1:]...)
			return nil
		}
		return fmt.Errorf("profile %s: %w", id, session.ErrNotFound)
	})
}

func (s *Store) IdpURLs() ([]session.IdpURL, error) {
	var out []session.IdpURL
	err := s.view(func(doc *Document) {
		out = append(out, doc.IdpURLs...)
	})
	return out, err
}

func (s *Store) IdpURL(id string) (session.IdpURL, error) {
	var found *session.IdpURL
	err := s.view(func(doc *Document) {
		for _, u := range doc.IdpURLs {
			if u.ID == id {
				idp := u
				found = &idp
				return
			}
		}
	})
	if err != nil {
		return session.IdpURL{}, err
	}
	if found == nil {
		return session.IdpURL{}, fmt.Errorf("idp url %s: %w", id, session.ErrNotFound)
	}
	return *found, nil
}

func (s *Store) AddIdpURL(url string) (session.IdpURL, error) {
	idp := session.IdpURL{ID: session.NewID(), URL: url}
	err := s.mutate(func(doc *Document) error {
		doc.IdpURLs = append(doc.IdpURLs, idp)
		return nil
	})
	if err != nil {
		return session.IdpURL{}, err
	}
	return idp, nil
}

func (s *Store) Integrations() ([]session.SsoIntegration, error) {
	var out []session.SsoIntegration
	err := s.view(func(doc *Document) {
		out = append(out, doc.Integrations...)
	})
	return out, err
}

func (s *Store) Integration(id string) (session.SsoIntegration, error) {
	var found *session.SsoIntegration
	err := s.view(func(doc *Document) {
		for _, integ := range doc.Integrations {
			if integ.ID == id {
				i := integ
				found = &i
				return
			}
		}
	})
	if err != nil {
		return session.SsoIntegration{}, err
	}
	if found == nil {
		return session.SsoIntegration{}, fmt.Errorf("sso integration %s: %w", id, session.ErrNotFound)
	}
	return *found, nil
}

func (s *Store) AddIntegration(integ session.SsoIntegration) error {
	return s.mutate(func(doc *Document) error {
		doc.Integrations = append(doc.Integrations, integ)
		return nil
	})
}

func (s *Store) SetIntegrationTokenExpiry(id string, expiresAt *time.Time) error {
	return s.mutate(func(doc *Document) error {
		for i, integ := range doc.Integrations {
			if integ.ID == id {
				doc.Integrations[i].AccessTokenExpiresAt = expiresAt
				return nil
			}
		}
		return fmt.Errorf("sso integration %s: %w", id, session.ErrNotFound)
	})
}

func (s *Store) RemoveIntegration(id string) error {
	return s.mutate(func(doc *Document) error {
		for i, integ := range doc.Integrations {
			if integ.ID == id {
				doc.Integrations = append(doc.Integrations[:i], doc.Integrations[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("sso integration %s: %w", id, session.ErrNotFound)
	})
}

func (s *Store) Defaults() (Defaults, error) {
	var out Defaults
	err := s.view(func(doc *Document) {
		out = doc.Defaults
	})
	return out, err
}

func (s *Store) SetDefaults(d Defaults) error {
	return s.mutate(func(doc *Document) error {
		doc.Defaults = d
		return nil
	})
}

func profileByID(doc *Document, id string) (session.NamedProfile, bool) {
	for _, p := range doc.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return session.NamedProfile{}, false
}

// checkChain rejects a chained session whose parent is missing, is itself, or
// whose transitive parent chain loops back on itself.
func checkChain(doc *Document, sess *session.Session) error {
	if sess.Chained.ParentSessionID == sess.ID {
		return fmt.Errorf("session %s names itself as parent: %w", sess.ID, session.ErrChainedCycle)
	}
	byID := map[string]*session.Session{}
	for _, cur := range doc.Sessions {
		byID[cur.ID] = cur
	}
	seen := map[string]bool{sess.ID: true}
	next := sess.Chained.ParentSessionID
	for {
		parent, ok := byID[next]
		if !ok {
			return fmt.Errorf("parent session %s: %w", next, session.ErrNotFound)
		}
		if seen[parent.ID] {
			return fmt.Errorf("parent chain revisits %s: %w", parent.ID, session.ErrChainedCycle)
		}
		if parent.Type != session.TypeIAMRoleChained {
			return nil
		}
		seen[parent.ID] = true
		next = parent.Chained.ParentSessionID
	}
}

func cloneSession(sess *session.Session) *session.Session {
	cp := *sess
	if sess.StartedAt != nil {
		t := *sess.StartedAt
		cp.StartedAt = &t
	}
	if sess.IAMUser != nil {
		v := *sess.IAMUser
		cp.IAMUser = &v
	}
	if sess.Federated != nil {
		v := *sess.Federated
		cp.Federated = &v
	}
	if sess.Chained != nil {
		v := *sess.Chained
		cp.Chained = &v
	}
	if sess.SSORole != nil {
		v := *sess.SSORole
		cp.SSORole = &v
	}
	if sess.Azure != nil {
		v := *sess.Azure
		cp.Azure = &v
	}
	return &cp
}
