package slides

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"

	"slidehub/internal/platform/metrics"
	"slidehub/internal/project"
)

// propThumbnail optionally names a prepared thumbnail URL in the slide
// properties document.
const propThumbnail = "thumbnail"

// ThumbnailSource implements the project store's thumbnail paths: a server
// property lookup first, then a local decode from the coarsest pyramid
// level of the image source itself.
type ThumbnailSource struct {
	props   PropertiesClient
	fetch   Fetcher
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewThumbnailSource(props PropertiesClient, fetch Fetcher, log *slog.Logger, m *metrics.Metrics) *ThumbnailSource {
	return &ThumbnailSource{props: props, fetch: fetch, log: log, metrics: m}
}

// FromServer asks the slide's properties for a prepared thumbnail URL and
// fetches it.
func (t *ThumbnailSource) FromServer(ctx context.Context, builder project.ServerBuilder) (image.Image, error) {
	slideID := slideIDFromURI(builder.URI)
	doc, err := t.props.Properties(ctx, slideID)
	if err != nil {
		return nil, fmt.Errorf("thumbnail properties for %s: %w", slideID, err)
	}
	thumbURL, ok := doc[propThumbnail]
	if !ok || thumbURL == "" {
		return nil, fmt.Errorf("slide %s has no server thumbnail", slideID)
	}

	payload, err := t.fetch.FetchBytes(ctx, thumbURL)
	if err != nil {
		return nil, fmt.Errorf("fetch thumbnail for %s: %w", slideID, err)
	}
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail for %s: %w", slideID, err)
	}
	return img, nil
}

// FromImage opens the image source and reads the coarsest level's first
// tile, which for pyramidal slides is a whole-image overview.
func (t *ThumbnailSource) FromImage(ctx context.Context, builder project.ServerBuilder) (image.Image, error) {
	server, err := NewImageServer(ctx, builder.URI, t.props, t.fetch, t.log, t.metrics)
	if err != nil {
		return nil, err
	}
	levels := server.Levels()
	coarsest := len(levels) - 1
	tileWidth, tileHeight := server.TileSize()

	img, err := server.ReadTile(ctx, TileRequest{
		Level:      coarsest,
		TileWidth:  tileWidth,
		TileHeight: tileHeight,
	})
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("slide %s produced no overview tile", server.URI())
	}
	return img, nil
}
