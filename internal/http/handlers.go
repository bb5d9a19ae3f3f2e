package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tileview/internal/config"
	"tileview/internal/imagery"
	"tileview/internal/pipeline"
	"tileview/internal/scheduler"
	"tileview/internal/source"
)

// Viewport edges are capped in pixels: plans list every tile, views
// composite them.
const (
	maxPlanEdge = 16384
	maxViewEdge = 4096
)

// Pipeline is what the handlers need from the tile pipeline.
type Pipeline interface {
	FetchTile(ctx context.Context, zoom, x, y uint32) (pipeline.Result, error)
	Plan(viewport r2.Rect, zoom uint32) (pipeline.Plan, error)
	RenderView(ctx context.Context, viewport r2.Rect, zoom uint32) (*image.RGBA, error)
	Status(ctx context.Context) (pipeline.Status, error)
	Images() []imagery.Image
}

type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	pipeline Pipeline
	timeout  time.Duration
}

func New(config *config.Config, logger *zap.Logger, p Pipeline) *Handlers {
	return &Handlers{
		config:   config,
		logger:   logger,
		pipeline: p,
		timeout:  30 * time.Second,
	}
}

// Routes registers the tile and api endpoints on mux.
func (h *Handlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/tiles/{z}/{x}/{file}", h.HandleTile)
	mux.HandleFunc("/api/plan", h.HandlePlan)
	mux.HandleFunc("/api/view.png", h.HandleView)
	mux.HandleFunc("/api/status", h.HandleStatus)
	mux.HandleFunc("/api/images", h.HandleImages)
	mux.HandleFunc("/healthz", h.HandleHealthz)
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleTile serves /tiles/{z}/{x}/{y}.{ext} by running the tile through the
// source chain.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	z, err := parseIndex(r.PathValue("z"))
	if err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	x, err := parseIndex(r.PathValue("x"))
	if err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}
	file := r.PathValue("file")
	ext := filepath.Ext(file)
	switch strings.TrimPrefix(ext, ".") {
	case "", "png", "jpg", "jpeg", "webp":
	default:
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}
	y, err := parseIndex(strings.TrimSuffix(file, ext))
	if err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.pipeline.FetchTile(ctx, z, x, y)
	switch {
	case errors.Is(err, source.ErrZoomOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Tile timed out", http.StatusGatewayTimeout)
		return
	case errors.Is(err, context.Canceled):
		h.logger.Debug("Tile request cancelled", zap.Uint32("z", z), zap.Uint32("x", x), zap.Uint32("y", y))
		return
	case err != nil:
		h.logger.Error("Failed to fetch tile", zap.Error(err))
		http.Error(w, "Failed to fetch tile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-Tile-Outcome", result.Outcome.String())
	if !result.HasContent() {
		http.Error(w, "No data for tile", http.StatusNotFound)
		return
	}

	etag := `"` + tileETag(result) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if !result.LastModified.IsZero() {
		w.Header().Set("Last-Modified", result.LastModified.UTC().Format(http.TimeFormat))
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(result.Data))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(result.Data)
}

// tileETag prefers the validator the source supplied and falls back to a
// content hash.
func tileETag(res pipeline.Result) string {
	if res.ETag != "" {
		return strings.Trim(res.ETag, `"`)
	}
	sum := sha256.Sum256(res.Data)
	return hex.EncodeToString(sum[:])[:16]
}

// HandlePlan answers /api/plan?x=&y=&w=&h=&z= with the tiles the viewport
// needs in load order.
func (h *Handlers) HandlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	viewport, zoom, err := parseViewport(r, maxPlanEdge)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	plan, err := h.pipeline.Plan(viewport, zoom)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrZoomOutOfRange) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, plan)
}

// HandleView composites the viewport given as in HandlePlan into a PNG once
// every tile has finished loading.
func (h *Handlers) HandleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	viewport, zoom, err := parseViewport(r, maxViewEdge)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	img, err := h.pipeline.RenderView(ctx, viewport, zoom)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scheduler.ErrZoomOutOfRange), errors.Is(err, scheduler.ErrBadViewport):
			status = http.StatusBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		h.logger.Warn("Failed to render view", zap.Error(err))
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		h.logger.Debug("Failed to write view", zap.Error(err))
	}
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := h.pipeline.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, st)
}

func (h *Handlers) HandleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	images := h.pipeline.Images()
	if images == nil {
		images = []imagery.Image{}
	}
	writeJSON(w, images)
}

func parseIndex(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// parseViewport reads x, y, w, h (world pixels) and z from the query.
func parseViewport(r *http.Request, maxEdge float64) (r2.Rect, uint32, error) {
	q := r.URL.Query()
	var vals [4]float64
	for i, name := range []string{"x", "y", "w", "h"} {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return r2.Rect{}, 0, fmt.Errorf("invalid %s", name)
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 || vals[2] > maxEdge || vals[3] > maxEdge {
		return r2.Rect{}, 0, fmt.Errorf("viewport size must be in (0, %g]", maxEdge)
	}
	zoom, err := parseIndex(q.Get("z"))
	if err != nil {
		return r2.Rect{}, 0, fmt.Errorf("invalid z")
	}
	lo := r2.Point{X: vals[0], Y: vals[1]}
	hi := lo.Add(r2.Point{X: vals[2], Y: vals[3]})
	if math.IsInf(hi.X, 0) || math.IsInf(hi.Y, 0) {
		return r2.Rect{}, 0, fmt.Errorf("viewport out of range")
	}
	return r2.RectFromPoints(lo, hi), zoom, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
