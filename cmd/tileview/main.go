package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.in/cheggaaa/pb.v1"

	"tileview/internal/config"
	httphandlers "tileview/internal/http"
	"tileview/internal/logger"
	"tileview/internal/pipeline"
	"tileview/internal/tile"
)

func main() {
	configPath := flag.String("c", "", "config file (toml, yaml or json)")
	prefetch := flag.Bool("prefetch", false, "walk a bounding box through the chain and exit")
	bbox := flag.String("bbox", "", "prefetch bounds as minLon,minLat,maxLon,maxLat")
	zooms := flag.String("zooms", "0-10", "prefetch zoom range as min-max")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if cfg.Imagery.Enabled {
		startVips(cfg, log)
		defer vips.Shutdown()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := pipeline.New(cfg, log, registry)
	if err != nil {
		log.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Error("Pipeline shutdown failed", zap.Error(err))
		}
	}()

	if *prefetch {
		if err := runPrefetch(p, cfg, *bbox, *zooms, log); err != nil {
			log.Error("Prefetch failed", zap.Error(err))
		}
		return
	}
	serve(p, cfg, registry, log)
}

func startVips(cfg *config.Config, log *zap.Logger) {
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.Imagery.VipsConcurrency,
		MaxCacheMem:      cfg.Imagery.VipsMaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	})

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.Imagery.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.Imagery.VipsConcurrency),
	)
}

func serve(p *pipeline.Pipeline, cfg *config.Config, registry *prometheus.Registry, log *zap.Logger) {
	handlers := httphandlers.New(cfg, log, p)

	mux := http.NewServeMux()
	handlers.Routes(mux)
	mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port), zap.Strings("chain", cfg.Chain))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

func runPrefetch(p *pipeline.Pipeline, cfg *config.Config, bbox, zooms string, log *zap.Logger) error {
	bound, err := parseBound(bbox)
	if err != nil {
		return err
	}
	minZoom, maxZoom, err := parseZooms(zooms)
	if err != nil {
		return err
	}
	ranges, total, err := p.PrefetchPlan(bound, minZoom, maxZoom)
	if err != nil {
		return err
	}
	log.Info("Starting prefetch",
		zap.Float64s("bbox", []float64{bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat()}),
		zap.Uint32("min_zoom", minZoom),
		zap.Uint32("max_zoom", maxZoom),
		zap.Int("tiles", total),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bar := pb.New(total).Prefix("Prefetch ")
	bar.SetRefreshRate(time.Second)
	bar.Start()
	stats, err := p.Prefetch(ctx, ranges, cfg.Prefetch.Workers, func(tile.Outcome) { bar.Increment() })
	bar.FinishPrint(fmt.Sprintf("Prefetched %d tiles: %d with content, %d empty, %d failed",
		stats.Tiles, stats.Content, stats.Empty, stats.Failed))
	return err
}

func parseBound(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must be minLon,minLat,maxLon,maxLat, got %q", s)
	}
	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bbox value %q: %w", part, err)
		}
		v[i] = f
	}
	b := orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	if b.Min.Lon() > b.Max.Lon() || b.Min.Lat() > b.Max.Lat() {
		return orb.Bound{}, fmt.Errorf("bbox min exceeds max: %q", s)
	}
	return b, nil
}

func parseZooms(s string) (uint32, uint32, error) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	minZoom, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid zoom range %q: %w", s, err)
	}
	maxZoom, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid zoom range %q: %w", s, err)
	}
	if minZoom > maxZoom {
		return 0, 0, fmt.Errorf("invalid zoom range %q: min exceeds max", s)
	}
	return uint32(minZoom), uint32(maxZoom), nil
}
