package slides

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"slidehub/internal/platform/metrics"
	"slidehub/pkg/platform/sentinel"
)

// PropertiesClient fetches the properties document for a slide id.
// Implemented by the transport layer's slides client.
type PropertiesClient interface {
	Properties(ctx context.Context, id string) (map[string]string, error)
}

// Fetcher performs a signed GET against an absolute URL. Implemented by the
// transport client; render URLs live outside the API tree.
type Fetcher interface {
	FetchBytes(ctx context.Context, absoluteURL string) ([]byte, error)
}

// Level is one resolution tier of the pyramid. Level 0 is full resolution.
// Downsample is derived from dimensions, never read off the wire: some
// third-party backends report floating-point downsamples that do not reduce
// to the exact integer ratios the pyramid math assumes.
type Level struct {
	Width      int
	Height     int
	Downsample float64
}

// TileRequest addresses a single tile.
type TileRequest struct {
	Level      int
	TileX      int
	TileY      int
	TileWidth  int
	TileHeight int
	ZIndex     int
}

// ImageServer presents a remotely hosted, non-locally-stored pyramidal image
// as a tile source. Construction fetches the properties document once;
// after that every tile read is an independent, idempotent render-URL fetch.
type ImageServer struct {
	uri     string
	slideID string

	width, height         int
	tileWidth, tileHeight int
	pixelWidth            float64
	pixelHeight           float64
	magnification         float64
	depth                 int
	background            *color.NRGBA
	template              string
	levels                []Level

	fetch   Fetcher
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewImageServer fetches slide properties and derives the level pyramid.
// An unreachable server or an empty properties document is fatal; there is
// no metadata-less degraded mode.
func NewImageServer(ctx context.Context, uri string, props PropertiesClient, fetch Fetcher, log *slog.Logger, m *metrics.Metrics) (*ImageServer, error) {
	slideID := slideIDFromURI(uri)

	doc, err := props.Properties(ctx, slideID)
	if err != nil {
		return nil, fmt.Errorf("open slide %s: %w", slideID, err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("open slide %s: empty properties document", slideID)
	}
	properties := Properties(doc)

	s := &ImageServer{
		uri:     uri,
		slideID: slideID,
		fetch:   fetch,
		log:     log,
		metrics: m,
	}

	var ok bool
	if s.width, ok = properties.intValue(propWidth); !ok {
		return nil, fmt.Errorf("open slide %s: properties carry no width", slideID)
	}
	if s.height, ok = properties.intValue(propHeight); !ok {
		return nil, fmt.Errorf("open slide %s: properties carry no height", slideID)
	}
	if s.template, ok = properties[propRenderTemplate]; !ok || s.template == "" {
		return nil, fmt.Errorf("open slide %s: properties carry no render URL template", slideID)
	}

	if s.tileWidth, ok = properties.intValue(propTileWidth); !ok {
		s.tileWidth = defaultTileSize
	}
	if s.tileHeight, ok = properties.intValue(propTileHeight); !ok {
		s.tileHeight = defaultTileSize
	}
	s.pixelWidth, _ = properties.floatValue(propPixelWidthMicrons)
	s.pixelHeight, _ = properties.floatValue(propPixelHeightMicron)
	s.magnification, _ = properties.floatValue(propMagnification)
	s.depth, _ = properties.intValue(propDepth)
	if bg, found := properties.backgroundColor(); found {
		s.background = &bg
	}

	levelCount, ok := properties.intValue(propLevelCount)
	if !ok {
		levelCount = 1
	}
	levels, err := buildLevels(properties, levelCount, s.width, s.height)
	if err != nil {
		return nil, fmt.Errorf("open slide %s: %w", slideID, err)
	}
	s.levels = levels

	log.Info("slide opened", "slide", slideID, "width", s.width, "height", s.height,
		"levels", len(levels), "tile", fmt.Sprintf("%dx%d", s.tileWidth, s.tileHeight))
	return s, nil
}

// buildLevels reads each level's dimensions from the properties and derives
// the downsample against level 0.
func buildLevels(properties Properties, levelCount, baseWidth, baseHeight int) ([]Level, error) {
	levels := make([]Level, 0, levelCount)
	for i := 0; i < levelCount; i++ {
		width, height, err := properties.levelDimensions(i)
		if err != nil {
			if i == 0 {
				// a single-level slide may omit per-level keys entirely
				width, height = baseWidth, baseHeight
			} else {
				return nil, err
			}
		}
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("level %d has degenerate dimensions %dx%d", i, width, height)
		}
		downsample := 1.0
		if i > 0 {
			downsample = float64(levels[0].Width) / float64(width)
		}
		levels = append(levels, Level{Width: width, Height: height, Downsample: downsample})
	}
	return levels, nil
}

// URI returns the constructor URI; it is the server's whole identity.
func (s *ImageServer) URI() string { return s.uri }

// Equals reports interchangeability: true iff the URIs are equal.
func (s *ImageServer) Equals(other *ImageServer) bool {
	return other != nil && s.uri == other.uri
}

// Levels returns the immutable level pyramid, full resolution first.
func (s *ImageServer) Levels() []Level { return s.levels }

// Dimensions returns base-level width and height in pixels.
func (s *ImageServer) Dimensions() (width, height int) { return s.width, s.height }

// TileSize returns the tile width and height.
func (s *ImageServer) TileSize() (width, height int) { return s.tileWidth, s.tileHeight }

// PixelSize returns the physical pixel size in microns per axis.
func (s *ImageServer) PixelSize() (x, y float64) { return s.pixelWidth, s.pixelHeight }

// Magnification returns the objective magnification, 0 if unreported.
func (s *ImageServer) Magnification() float64 { return s.magnification }

// Depth returns the z-depth, 0 for flat slides.
func (s *ImageServer) Depth() int { return s.depth }

// ReadTile fetches one tile by substituting the request into the render URL
// template. On failure it degrades instead of erroring: with a configured
// background color it synthesizes a solid tile of the requested dimensions
// so the pyramid never visibly holes out, otherwise it returns no tile.
// Not-found failures are expected at pyramid edges and logged quietly.
func (s *ImageServer) ReadTile(ctx context.Context, req TileRequest) (image.Image, error) {
	renderURL := s.renderURL(req)

	payload, err := s.fetch.FetchBytes(ctx, renderURL)
	if err != nil {
		return s.fallbackTile(req, err), nil
	}
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return s.fallbackTile(req, fmt.Errorf("decode tile: %w", err)), nil
	}
	s.tileCount("ok")
	return img, nil
}

func (s *ImageServer) renderURL(req TileRequest) string {
	return strings.NewReplacer(
		"{slideId}", url.PathEscape(s.slideID),
		"{tileX}", strconv.Itoa(req.TileX),
		"{tileY}", strconv.Itoa(req.TileY),
		"{level}", strconv.Itoa(req.Level),
		"{tileWidth}", strconv.Itoa(req.TileWidth),
		"{tileHeight}", strconv.Itoa(req.TileHeight),
		"{depth}", strconv.Itoa(req.ZIndex),
	).Replace(s.template)
}

func (s *ImageServer) fallbackTile(req TileRequest, cause error) image.Image {
	if errors.Is(cause, sentinel.ErrNotFound) {
		s.log.Debug("tile not found", "slide", s.slideID, "level", req.Level,
			"x", req.TileX, "y", req.TileY)
	} else {
		s.log.Error("tile fetch failed", "slide", s.slideID, "level", req.Level,
			"x", req.TileX, "y", req.TileY, "error", cause)
	}

	if s.background == nil {
		s.tileCount("miss")
		return nil
	}
	s.tileCount("fallback")
	return solidTile(req.TileWidth, req.TileHeight, *s.background)
}

func (s *ImageServer) tileCount(outcome string) {
	if s.metrics != nil {
		s.metrics.TileFetches.WithLabelValues(outcome).Inc()
	}
}

func solidTile(width, height int, fill color.NRGBA) image.Image {
	tile := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(tile, tile.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	return tile
}

// slideIDFromURI extracts the slide id as the last path segment of the
// location URI, falling back to the raw string for bare ids.
func slideIDFromURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if last := segments[len(segments)-1]; last != "" {
		return last
	}
	if parsed.Host != "" {
		return parsed.Host
	}
	return uri
}
