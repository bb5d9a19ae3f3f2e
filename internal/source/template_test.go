package source

import (
	"errors"
	"testing"

	"tileview/internal/projection"
	"tileview/internal/tile"
)

func TestParseTemplate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"missing y", "https://tile.example.com/{z}/{x}.png"},
		{"unknown placeholder", "https://tile.example.com/{z}/{x}/{y}/{r}.png"},
		{"unbalanced", "https://tile.example.com/{z}/{x}/{y.png"},
		{"relative", "/tiles/{z}/{x}/{y}.png"},
		{"not http", "ftp://tile.example.com/{z}/{x}/{y}.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTemplate(tt.raw); !errors.Is(err, ErrBadTemplate) {
				t.Errorf("expected ErrBadTemplate for %q, got %v", tt.raw, err)
			}
		})
	}
}

func TestTemplate_Expand(t *testing.T) {
	tests := []struct {
		raw      string
		key      tile.Key
		expected string
	}{
		{
			"https://{s}.tile.example.com/{z}/{x}/{y}.png",
			tile.Key{Zoom: 3, X: 1, Y: 2},
			"https://a.tile.example.com/3/1/2.png",
		},
		{
			"https://{s}.tile.example.com/{z}/{x}/{y}.png",
			tile.Key{Zoom: 3, X: 1, Y: 0},
			"https://b.tile.example.com/3/1/0.png",
		},
		{
			"https://tms.example.com/{z}/{x}/{-y}.png",
			tile.Key{Zoom: 3, X: 1, Y: 2},
			"https://tms.example.com/3/1/5.png",
		},
		{
			"https://wms.example.com/wms?SERVICE=WMS&BBOX={bbox}&WIDTH=256",
			tile.Key{Zoom: 0},
			"https://wms.example.com/wms?SERVICE=WMS&BBOX=-20037508.342789,-20037508.342789,20037508.342789,20037508.342789&WIDTH=256",
		},
		{
			"https://wms.example.com/wms?BBOX={bbox}",
			tile.Key{Zoom: 1, X: 1, Y: 0},
			"https://wms.example.com/wms?BBOX=0.000000,0.000000,20037508.342789,20037508.342789",
		},
	}
	for _, tt := range tests {
		tmpl, err := ParseTemplate(tt.raw)
		if err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		if got := tmpl.Expand(tt.key); got != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, got)
		}
	}
}

func TestTemplate_FlipsOnSourceGrid(t *testing.T) {
	tmpl, err := ParseTemplate("https://tms.example.com/{z}/{x}/{-y}.png")
	if err != nil {
		t.Fatal(err)
	}
	// 1000x600 at 256px: zoom 2 is full resolution with 3 rows.
	grid := projection.ImageGrid{Width: 1000, Height: 600, TileSize: 256, MaxZoom: 2}
	onImage, err := tmpl.ForGrid(grid)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key      tile.Key
		expected string
	}{
		{tile.Key{Zoom: 2, X: 1, Y: 0}, "https://tms.example.com/2/1/2.png"},
		{tile.Key{Zoom: 2, X: 3, Y: 2}, "https://tms.example.com/2/3/0.png"},
		{tile.Key{Zoom: 0, X: 0, Y: 0}, "https://tms.example.com/0/0/0.png"},
	}
	for _, tt := range tests {
		if got := onImage.Expand(tt.key); got != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, got)
		}
	}
	if got := tmpl.Expand(tile.Key{Zoom: 2, X: 1, Y: 0}); got != "https://tms.example.com/2/1/3.png" {
		t.Errorf("expected the original template to keep the pyramid, got %s", got)
	}

	wms, err := ParseTemplate("https://wms.example.com/wms?BBOX={bbox}")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wms.ForGrid(grid); !errors.Is(err, ErrBadTemplate) {
		t.Errorf("expected ErrBadTemplate for {bbox} on an image grid, got %v", err)
	}
	if _, err := wms.ForGrid(projection.Pyramid{}); err != nil {
		t.Errorf("expected {bbox} on the pyramid to be accepted: %v", err)
	}
}
