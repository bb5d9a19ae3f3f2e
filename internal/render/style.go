package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Rule styles the features whose Property equals Value. A rule with an empty
// Property matches every feature.
type Rule struct {
	Property string  `mapstructure:"property"`
	Value    string  `mapstructure:"value"`
	Fill     string  `mapstructure:"fill"`
	Stroke   string  `mapstructure:"stroke"`
	Width    float64 `mapstructure:"width"`
	Radius   float64 `mapstructure:"radius"`
	MinZoom  uint32  `mapstructure:"min_zoom"`
	MaxZoom  uint32  `mapstructure:"max_zoom"`
}

type Style struct {
	Path       string
	Background string `mapstructure:"background"`
	Rules      []Rule `mapstructure:"rules"`
}

func DefaultStyle() *Style {
	return &Style{
		Background: "#00000000",
		Rules: []Rule{{
			Fill:    "#c342f480",
			Stroke:  "#c342f4",
			Width:   1.5,
			Radius:  2,
			MaxZoom: 30,
		}},
	}
}

// LoadStyle reads a rule set from a toml, yaml or json file.
func LoadStyle(path string) (*Style, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read style %s: %w", path, err)
	}
	var s Style
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode style %s: %w", path, err)
	}
	for i := range s.Rules {
		if s.Rules[i].MaxZoom == 0 {
			s.Rules[i].MaxZoom = 30
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.Path = path
	return &s, nil
}

func (s *Style) Validate() error {
	if _, err := ParseColor(s.Background); s.Background != "" && err != nil {
		return fmt.Errorf("background: %w", err)
	}
	for i, r := range s.Rules {
		for _, c := range []string{r.Fill, r.Stroke} {
			if c == "" {
				continue
			}
			if _, err := ParseColor(c); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		}
		if r.MinZoom > r.MaxZoom {
			return fmt.Errorf("rule %d: min_zoom %d exceeds max_zoom %d", i, r.MinZoom, r.MaxZoom)
		}
	}
	return nil
}

// Match returns the first rule that applies to props at zoom.
func (s *Style) Match(props map[string]interface{}, zoom uint32) (Rule, bool) {
	for _, r := range s.Rules {
		if zoom < r.MinZoom || zoom > r.MaxZoom {
			continue
		}
		if r.Property == "" {
			return r, true
		}
		if v, ok := props[r.Property]; ok && fmt.Sprint(v) == r.Value {
			return r, true
		}
	}
	return Rule{}, false
}

// ParseColor parses #rgb, #rrggbb and #rrggbbaa.
func ParseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}) + "ff"
	case 6:
		hex += "ff"
	case 8:
	default:
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
