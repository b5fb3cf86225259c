package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assetd/internal/events"
	"assetd/internal/fault"
	"assetd/internal/progressive"
	"assetd/internal/recovery"
	"assetd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ExportManifest(w io.Writer) error
	Stats() types.PreloadStats
	Records() types.RecordsResponse
	FallbackChain(id string) ([]types.ModelDescriptor, error)
	Preload(ctx context.Context, id string) (types.RecordStatus, error)
	Asset(id string) ([]byte, types.ModelDescriptor, error)
	SetDisplayed(id string) error
	LoadProgressively(ctx context.Context, id string, from, to types.Quality, onQualityChange func(types.Quality)) (progressive.Result, error)
	Subscribe(ctx context.Context, buffer int) <-chan events.Event
	InitSurface(id string) (*recovery.Controller, bool)
	Surface(id string) (*recovery.Controller, bool)
	RemoveSurface(id string) bool
	SurfaceIDs() []string
	Ready() bool
}

// NewMux builds the chi router for svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Compress(5, "application/json"))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Get("/manifest", h.manifest)
	r.Get("/stats", h.stats)
	r.Get("/records", h.records)
	r.Route("/models/{id}", func(r chi.Router) {
		r.Get("/chain", h.chain)
		r.Post("/preload", h.preload)
		r.Get("/asset", h.asset)
	})
	r.Put("/displayed", h.displayed)
	r.Post("/progressive", h.progressive)
	r.Get("/events", h.events)

	r.Get("/surfaces", h.surfaceList)
	r.Route("/surfaces/{sid}", func(r chi.Router) {
		r.Post("/", h.surfaceInit)
		r.Get("/", h.surfaceStatus)
		r.Delete("/", h.surfaceRemove)
		r.Post("/lost", h.surfaceLost)
		r.Post("/restored", h.surfaceRestored)
		r.Post("/reset", h.surfaceReset)
		r.Post("/diagnostics/reset", h.surfaceResetDiagnostics)
		r.Get("/quality", h.surfaceQuality)
		r.Put("/quality", h.surfaceSetQuality)
	})
	r.Get("/quality/{level}", h.qualityTable)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("warming"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// manifest godoc
// @Summary Export the manifest
// @Produce json
// @Success 200 {object} types.ManifestDocument
// @Router /manifest [get]
func (h *handlers) manifest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.svc.ExportManifest(w); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode manifest", "")
	}
}

// stats godoc
// @Summary Preload statistics
// @Produce json
// @Success 200 {object} types.PreloadStats
// @Router /stats [get]
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

// records godoc
// @Summary Cache entries and memory in use
// @Produce json
// @Success 200 {object} types.RecordsResponse
// @Router /records [get]
func (h *handlers) records(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Records())
}

// chain godoc
// @Summary Validate a fallback chain
// @Param id path string true "model id"
// @Success 200 {object} types.ChainResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 409 {object} types.ErrorResponse
// @Router /models/{id}/chain [get]
func (h *handlers) chain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.svc.FallbackChain(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ChainResponse{Chain: chain})
}

// preload godoc
// @Summary Preload a model into the cache
// @Param id path string true "model id"
// @Success 200 {object} types.PreloadResponse
// @Failure 422 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Failure 504 {object} types.ErrorResponse
// @Router /models/{id}/preload [post]
func (h *handlers) preload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	rec, err := h.svc.Preload(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if ctx.Err() != nil && fault.KindOf(err) == "" {
			// client went away; nothing useful to write
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.PreloadResponse{Record: rec})
}

// asset godoc
// @Summary Cached asset bytes
// @Param id path string true "model id"
// @Produce application/octet-stream
// @Success 200 {file} binary
// @Failure 404 {object} types.ErrorResponse
// @Router /models/{id}/asset [get]
func (h *handlers) asset(w http.ResponseWriter, r *http.Request) {
	b, d, err := h.svc.Asset(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	ct := "model/gltf-binary"
	if strings.EqualFold(path.Ext(strings.SplitN(d.Path, "?", 2)[0]), ".gltf") {
		ct = "model/gltf+json"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	if ch := d.CachingHeaders; ch != nil {
		if ch.CacheControl != "" {
			w.Header().Set("Cache-Control", ch.CacheControl)
		}
		if ch.ETag != "" {
			w.Header().Set("ETag", ch.ETag)
		}
		if ch.LastModified != "" {
			w.Header().Set("Last-Modified", ch.LastModified)
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// displayed godoc
// @Summary Set the displayed model
// @Accept json
// @Param body body types.DisplayedRequest true "model"
// @Success 204
// @Router /displayed [put]
func (h *handlers) displayed(w http.ResponseWriter, r *http.Request) {
	var req types.DisplayedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required", "")
		return
	}
	if err := h.svc.SetDisplayed(req.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// progressive godoc
// @Summary Progressive load, streamed as NDJSON lines
// @Accept json
// @Produce application/x-ndjson
// @Param body body types.ProgressiveRequest true "range"
// @Success 200 {object} types.ProgressiveLine
// @Failure 422 {object} types.ErrorResponse
// @Router /progressive [post]
func (h *handlers) progressive(w http.ResponseWriter, r *http.Request) {
	var req types.ProgressiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required", "")
		return
	}
	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if progressiveTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, progressiveTimeout)
		defer tcancel()
	}

	out := newNDJSON(w, r, "progressive")
	res, err := h.svc.LoadProgressively(ctx, req.ID, from, to, func(q types.Quality) {
		out.send(types.ProgressiveLine{Type: "quality", Quality: q.String()})
	})
	switch {
	case err != nil && r.Context().Err() != nil:
		// client went away
		return
	case err != nil:
		out.send(types.ProgressiveLine{Type: "error", Error: err.Error(), Kind: string(fault.KindOf(err))})
	default:
		out.send(types.ProgressiveLine{Type: "done", Quality: res.Quality.String(), ModelID: res.Model.ID})
	}
}

// events godoc
// @Summary Lifecycle event stream
// @Produce application/x-ndjson
// @Success 200 {object} events.Event
// @Router /events [get]
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	buffer := eventBuffer
	if v, err := strconv.Atoi(r.URL.Query().Get("buffer")); err == nil && v > 0 {
		buffer = v
	}
	only := r.URL.Query().Get("model")
	ch := h.svc.Subscribe(ctx, buffer)
	out := newNDJSON(w, r, "events")
	out.flushHeader()
	for ev := range ch {
		if only != "" && ev.ModelID != only {
			continue
		}
		out.send(ev)
	}
}

// decodeJSON reads a size-limited JSON body into v, writing 4xx on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "")
		return false
	}
	return true
}

func parseRange(from, to string) (types.Quality, types.Quality, error) {
	f, err := types.ParseQuality(from)
	if err != nil {
		return 0, 0, fault.Wrap(fault.InvalidRange, "", err)
	}
	t, err := types.ParseQuality(to)
	if err != nil {
		return 0, 0, fault.Wrap(fault.InvalidRange, "", err)
	}
	if f > t {
		return 0, 0, fault.Newf(fault.InvalidRange, "", "invalid quality range %s..%s", f, t)
	}
	return f, t, nil
}

// ndjson writes one JSON value per line and flushes after each.
type ndjson struct {
	w      http.ResponseWriter
	enc    *json.Encoder
	flush  func()
	stream string
	wrote  bool
}

func newNDJSON(w http.ResponseWriter, r *http.Request, stream string) *ndjson {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	var dst io.Writer = w
	if zlog != nil && requestLogLevel(r) >= LevelDebug {
		dst = io.MultiWriter(w, &streamLogger{log: *zlog, stream: stream})
	}
	n := &ndjson{w: w, enc: json.NewEncoder(dst), stream: stream}
	if f, ok := w.(http.Flusher); ok {
		n.flush = f.Flush
	}
	return n
}

// flushHeader commits the 200 status before the first line arrives.
func (n *ndjson) flushHeader() {
	if n.wrote {
		return
	}
	n.w.WriteHeader(http.StatusOK)
	n.wrote = true
	if n.flush != nil {
		n.flush()
	}
}

func (n *ndjson) send(v any) {
	n.wrote = true
	if err := n.enc.Encode(v); err != nil {
		return
	}
	streamLinesTotal.WithLabelValues(n.stream).Inc()
	if n.flush != nil {
		n.flush()
	}
}
