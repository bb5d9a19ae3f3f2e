package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.Network.MaxInFlight != 2 {
		t.Errorf("expected network.max_inflight 2, got %d", cfg.Network.MaxInFlight)
	}
	if cfg.Render.Workers != 4 {
		t.Errorf("expected render.workers 4, got %d", cfg.Render.Workers)
	}
	expected := []string{"network", "file", "render", "null"}
	if !reflect.DeepEqual(cfg.Chain, expected) {
		t.Errorf("expected chain %v, got %v", expected, cfg.Chain)
	}
	if cfg.Cache.Dir != filepath.Join("/data", "cache") {
		t.Errorf("expected cache dir under data dir, got %s", cfg.Cache.Dir)
	}
	if cfg.Transition.Grace != 1500*time.Millisecond {
		t.Errorf("expected grace 1.5s, got %s", cfg.Transition.Grace)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tileview.toml")
	content := `
port = 9090
chain = ["file", "null"]

[view]
min_zoom = 3
max_zoom = 12

[cache]
type = "file"
max_age = "1h"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if !reflect.DeepEqual(cfg.Chain, []string{"file", "null"}) {
		t.Errorf("unexpected chain %v", cfg.Chain)
	}
	if cfg.View.MinZoom != 3 || cfg.View.MaxZoom != 12 {
		t.Errorf("unexpected zoom range %d..%d", cfg.View.MinZoom, cfg.View.MaxZoom)
	}
	if cfg.Cache.Type != "file" || cfg.Cache.MaxAge != time.Hour {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("TILEVIEW_PORT", "7070")
	t.Setenv("TILEVIEW_NETWORK_MAX_INFLIGHT", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Port)
	}
	if cfg.Network.MaxInFlight != 5 {
		t.Errorf("expected max_inflight 5, got %d", cfg.Network.MaxInFlight)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{TileSize: 256, Chain: []string{"null"}}
	cfg.View.MinZoom = 5
	cfg.View.MaxZoom = 2
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for inverted zoom range")
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"view max zoom too deep", func(c *Config) { c.View.MaxZoom = 32 }},
		{"network max zoom too deep", func(c *Config) { c.Network.MaxZoom = 31 }},
		{"network inverted", func(c *Config) { c.Network.MinZoom = 10; c.Network.MaxZoom = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{TileSize: 256, Chain: []string{"null"}}
			c.View.MaxZoom = 19
			c.Network.MaxZoom = 19
			tt.modify(c)
			if err := c.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	ok := &Config{TileSize: 256, Chain: []string{"null"}}
	ok.View.MaxZoom = 30
	ok.Network.MaxZoom = 30
	if err := ok.Validate(); err != nil {
		t.Errorf("expected zoom 30 to be accepted: %v", err)
	}
}
