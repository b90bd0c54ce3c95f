// Package rotation sweeps active sessions on a fixed tick and rotates the
// ones whose credential lifetime has elapsed.
package rotation

import (
	"context"
	"time"

	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/util"
)

const (
	defaultInterval = 1 * time.Second
	defaultMaxAge   = 1 * time.Hour
)

type Rotator interface {
	Rotate(ctx context.Context, id string) error
}

type SessionLister interface {
	Sessions() ([]*session.Session, error)
}

// Driver fires Rotate for each expired active session without waiting for
// completion; one session's failure deactivates only that session (engine
// semantics) and never stops the sweep. The next tick is the only retry.
type Driver struct {
	Engine Rotator
	Store  SessionLister
	// Interval between sweeps.
	Interval time.Duration
	// MaxAge a session may stay on one set of credentials.
	MaxAge time.Duration
}

func (d *Driver) interval() time.Duration {
	if d.Interval <= 0 {
		return defaultInterval
	}
	return d.Interval
}

func (d *Driver) maxAge() time.Duration {
	if d.MaxAge <= 0 {
		return defaultMaxAge
	}
	return d.MaxAge
}

// Run blocks until ctx is canceled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep scans once and fires rotations for expired sessions.
func (d *Driver) Sweep(ctx context.Context) {
	sessions, err := d.Store.Sessions()
	if err != nil {
		util.Traceln("rotation sweep: %v", err)
		return
	}
	now := time.Now()
	for _, sess := range sessions {
		if sess.Status != session.StatusActive || sess.StartedAt == nil {
			continue
		}
		if now.Sub(*sess.StartedAt) < d.maxAge() {
			continue
		}
		go func(id string) {
			if err := d.Engine.Rotate(ctx, id); err != nil {
				util.Writeln("rotate %s: %v", id, err)
			}
		}(sess.ID)
	}
}
