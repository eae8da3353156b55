package slides

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Property keys of the slide properties document. The document is a flat
// string map; unknown keys pass through untouched.
const (
	propWidth             = "width"
	propHeight            = "height"
	propTileWidth         = "tileWidth"
	propTileHeight        = "tileHeight"
	propPixelWidthMicrons = "pixelWidthMicrons"
	propPixelHeightMicron = "pixelHeightMicrons"
	propMagnification     = "magnification"
	propLevelCount        = "levelCount"
	propBackgroundColor   = "backgroundColor"
	propDepth             = "depth"
	propRenderTemplate    = "renderUrlTemplate"
)

const defaultTileSize = 256

// Properties is the flat key/value document describing one remote slide.
type Properties map[string]string

func (p Properties) intValue(key string) (int, bool) {
	raw, ok := p[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p Properties) floatValue(key string) (float64, bool) {
	raw, ok := p[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p Properties) levelDimensions(level int) (width, height int, err error) {
	width, ok := p.intValue(fmt.Sprintf("level.%d.width", level))
	if !ok {
		return 0, 0, fmt.Errorf("properties carry no width for level %d", level)
	}
	height, ok = p.intValue(fmt.Sprintf("level.%d.height", level))
	if !ok {
		return 0, 0, fmt.Errorf("properties carry no height for level %d", level)
	}
	return width, height, nil
}

// backgroundColor parses an optional "#RRGGBB" value.
func (p Properties) backgroundColor() (color.NRGBA, bool) {
	raw, ok := p[propBackgroundColor]
	if !ok {
		return color.NRGBA{}, false
	}
	raw = strings.TrimPrefix(raw, "#")
	if len(raw) != 6 {
		return color.NRGBA{}, false
	}
	value, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{
		R: uint8(value >> 16),
		G: uint8(value >> 8),
		B: uint8(value),
		A: 0xff,
	}, true
}
