package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tileview/internal/projection"
)

type Config struct {
	Port          int      `mapstructure:"port"`
	DataDir       string   `mapstructure:"data_dir"`
	LogLevel      string   `mapstructure:"log_level"`
	LogDev        bool     `mapstructure:"log_dev"`
	TileSize      int      `mapstructure:"tile_size"`
	Chain         []string `mapstructure:"chain"`
	MetricsPath   string   `mapstructure:"metrics_path"`
	AllowedOrigin string   `mapstructure:"allowed_origin"`

	View       ViewConfig       `mapstructure:"view"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Network    NetworkConfig    `mapstructure:"network"`
	File       FileConfig       `mapstructure:"file"`
	Render     RenderConfig     `mapstructure:"render"`
	Imagery    ImageryConfig    `mapstructure:"imagery"`
	Null       NullConfig       `mapstructure:"null"`
	Transition TransitionConfig `mapstructure:"transition"`
	Prefetch   PrefetchConfig   `mapstructure:"prefetch"`
}

type ViewConfig struct {
	MinZoom uint32 `mapstructure:"min_zoom"`
	MaxZoom uint32 `mapstructure:"max_zoom"`
}

type CacheConfig struct {
	Type        string        `mapstructure:"type"`
	Dir         string        `mapstructure:"dir"`
	MemoryTiles int           `mapstructure:"memory_tiles"`
	MaxAge      time.Duration `mapstructure:"max_age"`
}

type NetworkConfig struct {
	SourceID    string `mapstructure:"source_id"`
	URLTemplate string `mapstructure:"url_template"`
	MaxInFlight int    `mapstructure:"max_inflight"`
	UserAgent   string `mapstructure:"user_agent"`
	MinZoom     uint32 `mapstructure:"min_zoom"`
	MaxZoom     uint32 `mapstructure:"max_zoom"`
	Attribution string `mapstructure:"attribution"`
}

type FileConfig struct {
	SourceID string `mapstructure:"source_id"`
	Dir      string `mapstructure:"dir"`
	Ext      string `mapstructure:"ext"`
}

type RenderConfig struct {
	SourceID string `mapstructure:"source_id"`
	Dataset  string `mapstructure:"dataset"`
	Style    string `mapstructure:"style"`
	Workers  int    `mapstructure:"workers"`
	Watch    bool   `mapstructure:"watch"`
}

type ImageryConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Dir             string `mapstructure:"dir"`
	ImageID         string `mapstructure:"image_id"`
	VipsMaxCacheMB  int    `mapstructure:"vips_max_cache_mb"`
	VipsConcurrency int    `mapstructure:"vips_concurrency"`
}

type NullConfig struct {
	Mode string `mapstructure:"mode"`
}

type TransitionConfig struct {
	Grace time.Duration `mapstructure:"grace"`
}

type PrefetchConfig struct {
	Workers int `mapstructure:"workers"`
}

// Load reads the optional config file at path, then applies TILEVIEW_*
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("tileview")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.DataDir, "cache")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", "/data")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("tile_size", 256)
	v.SetDefault("chain", []string{"network", "file", "render", "null"})
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("allowed_origin", "")

	v.SetDefault("view.min_zoom", 0)
	v.SetDefault("view.max_zoom", 19)

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.memory_tiles", 2000)
	v.SetDefault("cache.max_age", 24*time.Hour)

	v.SetDefault("network.source_id", "osm")
	v.SetDefault("network.url_template", "https://tile.openstreetmap.org/{z}/{x}/{y}.png")
	v.SetDefault("network.max_inflight", 2)
	v.SetDefault("network.user_agent", "tileview/1.0")
	v.SetDefault("network.min_zoom", 0)
	v.SetDefault("network.max_zoom", 19)
	v.SetDefault("network.attribution", "© OpenStreetMap contributors")

	v.SetDefault("file.source_id", "local")
	v.SetDefault("file.dir", "tiles")
	v.SetDefault("file.ext", "png")

	v.SetDefault("render.source_id", "vector")
	v.SetDefault("render.dataset", "")
	v.SetDefault("render.style", "")
	v.SetDefault("render.workers", 4)
	v.SetDefault("render.watch", true)

	v.SetDefault("imagery.enabled", false)
	v.SetDefault("imagery.dir", "images")
	v.SetDefault("imagery.image_id", "")
	v.SetDefault("imagery.vips_max_cache_mb", 256)
	v.SetDefault("imagery.vips_concurrency", 1)

	v.SetDefault("null.mode", "placeholder")
	v.SetDefault("transition.grace", 1500*time.Millisecond)
	v.SetDefault("prefetch.workers", 2)
}

func (c *Config) Validate() error {
	if c.TileSize <= 0 {
		return fmt.Errorf("tile_size must be positive, got %d", c.TileSize)
	}
	if c.View.MinZoom > c.View.MaxZoom {
		return fmt.Errorf("view.min_zoom %d exceeds view.max_zoom %d", c.View.MinZoom, c.View.MaxZoom)
	}
	if c.View.MaxZoom > projection.MaxZoom {
		return fmt.Errorf("view.max_zoom %d exceeds %d", c.View.MaxZoom, projection.MaxZoom)
	}
	if c.Network.MinZoom > c.Network.MaxZoom {
		return fmt.Errorf("network.min_zoom %d exceeds network.max_zoom %d", c.Network.MinZoom, c.Network.MaxZoom)
	}
	if c.Network.MaxZoom > projection.MaxZoom {
		return fmt.Errorf("network.max_zoom %d exceeds %d", c.Network.MaxZoom, projection.MaxZoom)
	}
	if len(c.Chain) == 0 {
		return fmt.Errorf("chain must name at least one source")
	}
	return nil
}
