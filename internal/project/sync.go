package project

import (
	"context"
	"fmt"

	"slidehub/internal/auth"
)

// SyncOutcome is the tagged result of one Sync invocation. The store never
// prompts; the caller inspects the outcome and drives any dialog, then calls
// Fork or re-authenticates as appropriate.
type SyncOutcome int

const (
	// SyncNoop: nothing was uploaded and nothing is required of the caller.
	SyncNoop SyncOutcome = iota
	// SyncNeedsFork: no write access, but the session may own a personal
	// copy. The caller asks the user and on acceptance calls Fork.
	SyncNeedsFork
	// SyncNeedsLogin: no write access and no authenticated session. The
	// caller offers login-or-discard (yes / no / don't ask again).
	SyncNeedsLogin
	// SyncUploaded: the serialized project was uploaded to its own id.
	SyncUploaded
	// SyncFailed: a transport or serialization failure; the accompanying
	// error says which.
	SyncFailed
)

func (o SyncOutcome) String() string {
	switch o {
	case SyncNeedsFork:
		return "needs_fork"
	case SyncNeedsLogin:
		return "needs_login"
	case SyncUploaded:
		return "uploaded"
	case SyncFailed:
		return "failed"
	default:
		return "noop"
	}
}

// Sync decides what happens to local edits. The branch order is fixed:
// the editing gate first, then serialization, then the permission check
// (whose transport failure is fatal, never a silent "no access"), then
// fork before login prompt, and an upload only once write access is
// confirmed.
func (s *Store) Sync(ctx context.Context) (SyncOutcome, error) {
	if !s.editing.Load() {
		return s.outcome(SyncNoop), nil
	}
	p := s.project
	if p == nil {
		return s.outcome(SyncFailed), fmt.Errorf("sync: no project loaded")
	}

	payload, err := Serialize(p)
	if err != nil {
		return s.outcome(SyncFailed), fmt.Errorf("sync project %s: %w", p.ID, err)
	}

	canWrite, err := s.authority.HasWriteAccess(ctx, p.ID)
	if err != nil {
		// A destructive fallback on a flaky permission check could fork or
		// drop edits that would have uploaded fine. Stop here.
		return s.outcome(SyncFailed), fmt.Errorf("sync project %s: permission check: %w", p.ID, err)
	}

	if !canWrite {
		if s.authority.HasRole(auth.RoleManagePersonal) {
			return s.outcome(SyncNeedsFork), nil
		}
		mode := s.authority.Mode()
		if mode == auth.ModeUnauthenticated || mode == auth.ModeGuest {
			if s.authority.SuppressLoginPrompt() {
				s.log.Warn("project has unsynced local edits that will be lost when the session ends",
					"id", p.ID)
				return s.outcome(SyncNoop), nil
			}
			return s.outcome(SyncNeedsLogin), nil
		}
		// Authenticated, no write access, and no right to a personal copy:
		// the edits stay local and die with the session.
		s.log.Warn("no write access to project; unsynced local edits will be lost when the session ends",
			"id", p.ID)
		return s.outcome(SyncNoop), nil
	}

	if err := s.api.Save(ctx, p.ID, payload); err != nil {
		return s.outcome(SyncFailed), fmt.Errorf("sync project %s: upload: %w", p.ID, err)
	}
	s.log.Info("project uploaded", "id", p.ID, "entries", len(p.Entries))
	return s.outcome(SyncUploaded), nil
}

// Fork creates a personal copy of the loaded project under a fresh
// server-assigned id and points the store at it. Called by the caller after
// it confirmed a SyncNeedsFork outcome with the user.
func (s *Store) Fork(ctx context.Context) (string, error) {
	p := s.project
	if p == nil {
		return "", fmt.Errorf("fork: no project loaded")
	}

	payload, err := Serialize(p)
	if err != nil {
		return "", fmt.Errorf("fork project %s: %w", p.ID, err)
	}
	newID, err := s.api.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("fork project %s: allocate id: %w", p.ID, err)
	}
	if err := s.api.Save(ctx, newID, payload); err != nil {
		return "", fmt.Errorf("fork project %s: upload copy: %w", p.ID, err)
	}

	s.log.Info("project forked", "from", p.ID, "to", newID)
	p.ID = newID
	return newID, nil
}

func (s *Store) outcome(o SyncOutcome) SyncOutcome {
	if s.metrics != nil {
		s.metrics.SyncOutcomes.WithLabelValues(o.String()).Inc()
	}
	return o
}
