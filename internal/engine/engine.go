// Package engine implements the session lifecycle state machine: start, stop,
// rotate and delete, with profile exclusivity and chained-session cascade.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/credmux/credmux/internal/credfile"
	"github.com/credmux/credmux/internal/secrets"
	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/util"
	"github.com/credmux/credmux/internal/workspace"
)

// Engine owns the four lifecycle operations. Operations on the same session
// id are serialized through a per-id mutex; operations on different sessions
// run concurrently. Constructed once at process start with explicit deps.
type Engine struct {
	store   *workspace.Store
	codec   *credfile.Codec
	secrets *secrets.Store
	factory *Factory

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store *workspace.Store, codec *credfile.Codec, secretStore *secrets.Store, factory *Factory) *Engine {
	return &Engine{
		store:   store,
		codec:   codec,
		secrets: secretStore,
		factory: factory,
		locks:   map[string]*sync.Mutex{},
	}
}

func (e *Engine) sessionLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Start activates the session: enforce profile exclusivity, generate
// credentials through the type's strategy, apply them to the credentials
// file, mark Active. Any failure after the Pending transition forces the
// session back to Inactive before the error is returned.
func (e *Engine) Start(ctx context.Context, id string) error {
	l := e.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, err := e.store.Session(id)
	if err != nil {
		return err
	}

	if sess.ProfileID != "" {
		siblings, err := e.store.SessionsByProfile(sess.ProfileID)
		if err != nil {
			return err
		}
		for _, other := range siblings {
			if other.ID == id {
				continue
			}
			if other.Status == session.StatusPending {
				return fmt.Errorf("session %s is activating on the same profile: %w", other.ID, session.ErrConflictingPendingSession)
			}
		}
		for _, other := range siblings {
			if other.ID != id && other.Status == session.StatusActive {
				if err := e.Stop(ctx, other.ID); err != nil {
					return err
				}
			}
		}
	}

	sess.Status = session.StatusPending
	if err := e.store.UpdateSession(sess); err != nil {
		return err
	}

	if err := e.activate(ctx, sess); err != nil {
		e.rollback(ctx, sess)
		return err
	}
	return nil
}

// activate generates material, applies it and marks the session Active.
func (e *Engine) activate(ctx context.Context, sess *session.Session) error {
	generator, err := e.factory.GeneratorFor(sess)
	if err != nil {
		return err
	}
	material, err := generator.Generate(ctx, sess)
	if err != nil {
		return err
	}
	if material != nil && sess.ProfileID != "" {
		profile, err := e.store.Profile(sess.ProfileID)
		if err != nil {
			return err
		}
		if err := e.codec.Apply(profile.Name, material); err != nil {
			return err
		}
	}
	now := time.Now()
	sess.Status = session.StatusActive
	sess.StartedAt = &now
	return e.store.UpdateSession(sess)
}

// rollback forces the session Inactive and removes any credentials block it
// may have applied, so a failed transition never leaves material behind that
// the session's status no longer accounts for. Errors here are logged rather
// than returned so the original failure is what the caller sees.
func (e *Engine) rollback(ctx context.Context, sess *session.Session) {
	if err := e.stopLocked(ctx, sess); err != nil {
		util.Writeln("deactivate %s: %v", sess.ID, err)
	}
}

// Stop removes the session's credentials block and marks it Inactive. The
// Inactive transition happens even when the file write fails: a stopped
// session must never stay Active over stale credentials.
func (e *Engine) Stop(ctx context.Context, id string) error {
	l := e.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, err := e.store.Session(id)
	if err != nil {
		return err
	}
	return e.stopLocked(ctx, sess)
}

func (e *Engine) stopLocked(_ context.Context, sess *session.Session) error {
	var deApplyErr error
	if sess.ProfileID != "" {
		profile, err := e.store.Profile(sess.ProfileID)
		if err != nil {
			deApplyErr = err
		} else {
			deApplyErr = e.codec.DeApply(profile.Name)
		}
	}

	sess.Status = session.StatusInactive
	sess.StartedAt = nil
	if err := e.store.UpdateSession(sess); err != nil {
		if deApplyErr != nil {
			return fmt.Errorf("%s; %w", err, deApplyErr)
		}
		return err
	}
	return deApplyErr
}

// Rotate regenerates credentials for an already Active session, refreshing
// its start time. Profile exclusivity holds by induction so the checks are
// skipped; failure stops the session, clearing its credentials block.
func (e *Engine) Rotate(ctx context.Context, id string) error {
	l := e.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, err := e.store.Session(id)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusActive {
		return fmt.Errorf("session %s: %w", id, session.ErrSessionNotActive)
	}

	if err := e.activate(ctx, sess); err != nil {
		e.rollback(ctx, sess)
		return err
	}
	return nil
}

// Delete removes the session and everything that depends on it: chained
// descendants first (child before parent), then its credentials block, its
// secrets, and finally the stored record.
func (e *Engine) Delete(ctx context.Context, id string) error {
	l := e.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, err := e.store.Session(id)
	if err != nil {
		return err
	}

	if sess.Type != session.TypeAzure {
		children, err := e.store.ChainedChildren(id)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := e.Delete(ctx, child.ID); err != nil {
				return err
			}
		}
	}

	if sess.Status == session.StatusActive || sess.Status == session.StatusPending {
		if err := e.stopLocked(ctx, sess); err != nil {
			return err
		}
	}

	switch sess.Type {
	case session.TypeIAMUser:
		if err := e.secrets.PurgeIAMUser(sess.ID); err != nil {
			return err
		}
	case session.TypeAzure:
		// az owns its account state; sign out best-effort
		if err := e.factory.Azure.Logout(ctx); err != nil {
			util.Traceln("az logout: %v", err)
		}
	}

	e.mu.Lock()
	delete(e.locks, id)
	e.mu.Unlock()
	return e.store.RemoveSession(id)
}
