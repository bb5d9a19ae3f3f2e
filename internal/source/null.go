package source

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"tileview/internal/tile"
)

type NullMode string

const (
	// NullEmpty finishes tiles with no content, dropping anything partial.
	NullEmpty NullMode = "empty"
	// NullPartial finishes tiles with whatever content they already carry.
	NullPartial NullMode = "partial"
	// NullPlaceholder draws a labelled tile for anything still empty.
	NullPlaceholder NullMode = "placeholder"
)

func ParseNullMode(s string) (NullMode, error) {
	switch m := NullMode(s); m {
	case NullEmpty, NullPartial, NullPlaceholder:
		return m, nil
	case "":
		return NullPlaceholder, nil
	}
	return "", fmt.Errorf("source: unknown null mode %q", s)
}

// NullSource terminates a chain. It never delegates, whatever Options.Next
// says.
type NullSource struct {
	base
	mode NullMode
}

func NewNullSource(env Env, opts Options, mode NullMode) (*NullSource, error) {
	opts.Next = nil
	b, err := newBase(env, opts, "null")
	if err != nil {
		return nil, err
	}
	if _, err := ParseNullMode(string(mode)); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = NullPlaceholder
	}
	return &NullSource{base: b, mode: mode}, nil
}

func (s *NullSource) Next() Source { return nil }

func (s *NullSource) Fill(req *Request) {
	switch s.mode {
	case NullEmpty:
		req.ClearContent()
		s.result("empty")
		req.Finish()
	case NullPartial:
		s.result("partial")
		req.Finish()
	default:
		if req.Tile().HasContent() {
			s.result("partial")
			req.Finish()
			return
		}
		img := Placeholder(req.Key(), s.tileSize(req))
		data, err := EncodePNG(img)
		if err != nil {
			s.logger.Warn("Failed to encode placeholder", zap.Stringer("tile", req.Key()), zap.Error(err))
			req.Finish()
			return
		}
		s.result("placeholder")
		req.Complete(s.ID(), img, data, "", time.Now())
	}
}

var (
	placeholderBackground = color.RGBA{200, 220, 255, 255}
	placeholderBorder     = color.RGBA{100, 100, 100, 255}
	placeholderLabel      = color.RGBA{255, 255, 255, 220}
)

// Placeholder draws a bordered tile labelled with its z/x/y index.
func Placeholder(k tile.Key, size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderBackground), image.Point{}, draw.Src)

	for _, r := range []image.Rectangle{
		image.Rect(0, 0, size, 1),
		image.Rect(0, size-1, size, size),
		image.Rect(0, 0, 1, size),
		image.Rect(size-1, 0, size, size),
	} {
		draw.Draw(img, r, image.NewUniform(placeholderBorder), image.Point{}, draw.Src)
	}

	text := fmt.Sprintf("%d/%d/%d", k.Zoom, k.X, k.Y)
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(placeholderBorder), Face: face}
	width := d.MeasureString(text).Round()
	height := face.Metrics().Height.Round()
	mid := size / 2
	const padding = 6
	label := image.Rect(mid-width/2-padding, mid-height/2-padding, mid+width/2+padding, mid+height/2+padding)
	draw.Draw(img, label, image.NewUniform(placeholderLabel), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{X: fixed.I(mid - width/2), Y: fixed.I(mid + height/2 - face.Descent)}
	d.DrawString(text)
	return img
}
