package project

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"slidehub/internal/auth"
	"slidehub/internal/platform/metrics"
)

// ProjectsClient is the slice of the transport layer the store needs.
type ProjectsClient interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Create(ctx context.Context) (string, error)
	Save(ctx context.Context, id string, payload []byte) error
}

// Authority answers the authorization questions the sync protocol asks.
// Implemented by the auth gateway.
type Authority interface {
	HasWriteAccess(ctx context.Context, resourceID string) (bool, error)
	HasRole(role auth.Role) bool
	Mode() auth.Mode
	SuppressLoginPrompt() bool
}

// Store is the remote-backed project store: it mirrors one server-side
// project in memory, accepts local edits, and decides how those edits go
// back to the server. Interactive decisions (fork, login) are returned as
// outcomes, never prompted from here.
type Store struct {
	api       ProjectsClient
	authority Authority
	log       *slog.Logger
	metrics   *metrics.Metrics

	thumbs    ThumbnailSource
	onRefresh func(*ImageEntry)

	editing atomic.Bool
	project *Project
}

func NewStore(api ProjectsClient, authority Authority, log *slog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		api:       api,
		authority: authority,
		log:       log,
		metrics:   m,
	}
}

// SetThumbnailSource binds the thumbnail fetch paths (server property
// lookup, local decode). Without one, Thumbnail never produces an image.
func (s *Store) SetThumbnailSource(thumbs ThumbnailSource) {
	s.thumbs = thumbs
}

// SetRefreshFunc registers the callback invoked when a thumbnail attempt
// finishes. It runs on the fetching goroutine; marshaling onto a UI thread
// is the caller's job.
func (s *Store) SetRefreshFunc(fn func(*ImageEntry)) {
	s.onRefresh = fn
}

// SetEditing flips the editing-enabled gate that Sync checks first.
func (s *Store) SetEditing(enabled bool) {
	s.editing.Store(enabled)
}

func (s *Store) Editing() bool {
	return s.editing.Load()
}

// Project returns the loaded aggregate, nil before the first Load.
func (s *Store) Project() *Project {
	return s.project
}

// Load fetches and parses the project with the given id, replacing any
// previously loaded aggregate. A FormatError aborts the load; nothing of
// the old project is lost in that case.
func (s *Store) Load(ctx context.Context, id string) (*Project, error) {
	raw, err := s.api.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}
	p, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}
	s.project = p
	s.log.Info("project loaded", "id", p.ID, "entries", len(p.Entries), "version", p.Version)
	return p, nil
}

// AddImage appends a new entry for the given pixel source.
func (s *Store) AddImage(builder ServerBuilder, name string) *ImageEntry {
	entry := NewImageEntry(builder, name)
	s.project.Entries = append(s.project.Entries, entry)
	return entry
}

// RemoveImage drops the entry from the project. There is no externally
// stored blob to clean up; removing the entry removes all its data. Handing
// in an entry that does not belong to this project is a caller error and is
// reported as one.
func (s *Store) RemoveImage(entry *ImageEntry) error {
	for i, candidate := range s.project.Entries {
		if candidate == entry {
			s.project.Entries = append(s.project.Entries[:i], s.project.Entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("entry %d is not part of project %s", entry.EntryID, s.project.ID)
}

// EntryForImageID finds the entry whose id an opened image state carries.
// Linear scan; projects hold tens to low hundreds of entries.
func (s *Store) EntryForImageID(id int64) *ImageEntry {
	if s.project == nil {
		return nil
	}
	for _, entry := range s.project.Entries {
		if entry.EntryID == id {
			return entry
		}
	}
	return nil
}
