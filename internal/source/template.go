package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"tileview/internal/projection"
	"tileview/internal/tile"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

var defaultSubdomains = []string{"a", "b", "c"}

// Template builds tile URLs. Supported placeholders:
//
//	{z} {x} {y}  tile index
//	{-y}         row counted from the bottom of the grid (TMS)
//	{s}          subdomain, rotated over a, b and c by tile position
//	{bbox}       EPSG:3857 bounding box minx,miny,maxx,maxy (WMS)
type Template struct {
	raw        string
	subdomains []string
	grid       projection.Grid
	bbox       bool
}

// ParseTemplate validates raw. A template must address a tile either by
// {z}/{x}/{y} (or {-y}) or by {bbox}, and expand to an absolute http(s) URL.
func ParseTemplate(raw string) (*Template, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadTemplate)
	}
	if strings.Count(raw, "{") != strings.Count(raw, "}") {
		return nil, fmt.Errorf("%w: unbalanced braces in %q", ErrBadTemplate, raw)
	}

	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(raw, -1) {
		switch m[1] {
		case "z", "x", "y", "-y", "s", "bbox":
			seen[m[1]] = true
		default:
			return nil, fmt.Errorf("%w: unknown placeholder {%s} in %q", ErrBadTemplate, m[1], raw)
		}
	}
	indexed := seen["z"] && seen["x"] && (seen["y"] || seen["-y"])
	if !indexed && !seen["bbox"] {
		return nil, fmt.Errorf("%w: %q addresses no tile, needs {z}/{x}/{y} or {bbox}", ErrBadTemplate, raw)
	}

	t := &Template{raw: raw, subdomains: defaultSubdomains, grid: projection.Pyramid{}, bbox: seen["bbox"]}
	u, err := url.Parse(t.Expand(tile.Key{}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTemplate, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http url", ErrBadTemplate, raw)
	}
	return t, nil
}

func (t *Template) String() string { return t.raw }

// ForGrid returns a copy of t that counts {-y} rows on g. {bbox} is only
// defined on the Web-Mercator pyramid.
func (t *Template) ForGrid(g projection.Grid) (*Template, error) {
	if _, ok := g.(projection.Pyramid); !ok && t.bbox {
		return nil, fmt.Errorf("%w: {bbox} in %q needs a Web-Mercator grid", ErrBadTemplate, t.raw)
	}
	c := *t
	c.grid = g
	return &c, nil
}

// Expand substitutes k into the template.
func (t *Template) Expand(k tile.Key) string {
	return placeholderRe.ReplaceAllStringFunc(t.raw, func(p string) string {
		switch p {
		case "{z}":
			return strconv.FormatUint(uint64(k.Zoom), 10)
		case "{x}":
			return strconv.FormatUint(uint64(k.X), 10)
		case "{y}":
			return strconv.FormatUint(uint64(k.Y), 10)
		case "{-y}":
			rows := uint64(t.grid.Rows(k.Zoom))
			if uint64(k.Y) >= rows {
				return "0"
			}
			return strconv.FormatUint(rows-1-uint64(k.Y), 10)
		case "{s}":
			return t.subdomains[int(k.X+k.Y)%len(t.subdomains)]
		case "{bbox}":
			b := projection.TileBoundMercator(k.Zoom, k.X, k.Y)
			return strings.Join([]string{
				formatCoord(b.Min.X()), formatCoord(b.Min.Y()),
				formatCoord(b.Max.X()), formatCoord(b.Max.Y()),
			}, ",")
		}
		return p
	})
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
