package project

import (
	"context"
	"image"

	"golang.org/x/sync/errgroup"
)

// ThumbnailSource produces a small preview for an entry. FromServer asks the
// server's property lookup for a prepared thumbnail; FromImage decodes one
// from the entry's pixel source directly. The store tries them in that
// order.
type ThumbnailSource interface {
	FromServer(ctx context.Context, builder ServerBuilder) (image.Image, error)
	FromImage(ctx context.Context, builder ServerBuilder) (image.Image, error)
}

// Thumbnail returns the entry's thumbnail if one is already materialized,
// and nil otherwise. On nil it kicks off at most one asynchronous fetch per
// entry: concurrent calls while a fetch is outstanding are absorbed, not
// queued. A failed attempt is logged and the caller simply keeps seeing nil.
func (s *Store) Thumbnail(entry *ImageEntry) image.Image {
	if img := entry.Thumbnail(); img != nil {
		return img
	}
	if s.thumbs == nil {
		return nil
	}
	if !entry.fetchInFlight.CompareAndSwap(false, true) {
		// single-flight: a fetch is already running for this entry
		return nil
	}
	go s.fetchThumbnail(context.Background(), entry)
	return nil
}

// PrefetchThumbnails warms every entry's thumbnail with bounded
// concurrency. Entries already fetched or currently in flight are skipped.
func (s *Store) PrefetchThumbnails(ctx context.Context, limit int) error {
	if s.project == nil || s.thumbs == nil {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, entry := range s.project.Entries {
		if entry.Thumbnail() != nil {
			continue
		}
		if !entry.fetchInFlight.CompareAndSwap(false, true) {
			continue
		}
		entry := entry
		g.Go(func() error {
			s.fetchThumbnail(ctx, entry)
			return nil
		})
	}
	return g.Wait()
}

// fetchThumbnail runs one attempt: server property lookup first, local
// decode as fallback. Either way the in-flight flag clears and the refresh
// callback fires; producing no thumbnail is not an error anyone above needs
// to handle.
func (s *Store) fetchThumbnail(ctx context.Context, entry *ImageEntry) {
	defer func() {
		entry.fetchInFlight.Store(false)
		if s.onRefresh != nil {
			s.onRefresh(entry)
		}
	}()

	img, err := s.thumbs.FromServer(ctx, entry.ServerBuilder)
	if err != nil || img == nil {
		if err != nil {
			s.log.Debug("server thumbnail lookup failed, decoding locally",
				"entry", entry.EntryID, "error", err)
		}
		img, err = s.thumbs.FromImage(ctx, entry.ServerBuilder)
	}
	if err != nil || img == nil {
		s.thumbCount("miss")
		s.log.Warn("no thumbnail for entry", "entry", entry.EntryID, "error", err)
		return
	}
	entry.setThumbnail(img)
	s.thumbCount("ok")
}

func (s *Store) thumbCount(outcome string) {
	if s.metrics != nil {
		s.metrics.ThumbnailFetches.WithLabelValues(outcome).Inc()
	}
}
