// Package httpapi exposes the layer registry over HTTP. Uploads and
// deletions are published as requests on the layers channel exactly like
// any other import source; reads go straight to the registry.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"layerdeck/internal/blob"
	"layerdeck/internal/eventbus"
	"layerdeck/internal/logging"
	"layerdeck/internal/notify"
	"layerdeck/pkg/domain"
)

const defaultMaxUpload = 32 << 20

// Layers is the read side of the registry.
type Layers interface {
	Get(id domain.Stamp) (domain.Layer, error)
	List() []domain.Layer
	Len() int
}

// RawSource serves archived payloads.
type RawSource interface {
	Open(ctx context.Context, id domain.Stamp) (blob.Info, io.ReadCloser, error)
}

// Notifications lists user toasts.
type Notifications interface {
	Active() []notify.Notification
	Recent() []notify.Notification
}

// Journal lists recorded registry notifications.
type Journal interface {
	Entries(ctx context.Context) ([]domain.JournalEntry, error)
}

// Config wires a Handler. Layers and Requests are required.
type Config struct {
	Layers         Layers
	Requests       *eventbus.Bus // layers channel
	Notifications  *eventbus.Bus // channel carrying layer:added back, usually the layer list
	Raw            RawSource
	Feed           Notifications
	Journal        Journal
	Metrics        http.Handler
	Clock          clockwork.Clock
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// Handler serves the layer API.
type Handler struct {
	cfg Config
	mux *http.ServeMux
}

// NewHandler builds the routes.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Layers == nil || cfg.Requests == nil {
		return nil, errors.New("httpapi: layers and request bus are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	h := &Handler{cfg: cfg, mux: http.NewServeMux()}
	if cfg.Notifications != nil {
		eventbus.On(cfg.Notifications, func(ctx context.Context, ev eventbus.LayerAdded) {
			if c, ok := ctx.Value(captureKey{}).(*capture); ok {
				c.set(ev.Layer)
			}
		})
	}

	h.mux.HandleFunc("POST /layers", h.handleUpload)
	h.mux.HandleFunc("GET /layers", h.handleList)
	h.mux.HandleFunc("GET /layers/{id}", h.handleGet)
	h.mux.HandleFunc("GET /layers/{id}/raw", h.handleRaw)
	h.mux.HandleFunc("DELETE /layers/{id}", h.handleDelete)
	h.mux.HandleFunc("GET /notifications", h.handleNotifications)
	h.mux.HandleFunc("GET /journal", h.handleJournal)
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	if cfg.Metrics != nil {
		h.mux.Handle("GET /metrics", cfg.Metrics)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", reqID)
	logger := h.cfg.Logger.With("request_id", reqID, "method", r.Method, "path", r.URL.Path)
	h.mux.ServeHTTP(w, r.WithContext(logging.WithLogger(r.Context(), logger)))
}

// capture receives the layer announced while an upload is being published.
type capture struct {
	mu    sync.Mutex
	layer *domain.Layer
}

func (c *capture) set(l domain.Layer) {
	c.mu.Lock()
	c.layer = &l
	c.mu.Unlock()
}

func (c *capture) get() (domain.Layer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.layer == nil {
		return domain.Layer{}, false
	}
	return *c.layer, true
}

type captureKey struct{}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()
	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	modified := h.cfg.Clock.Now()
	if v := r.FormValue("lastModified"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "lastModified must be milliseconds since the epoch")
			return
		}
		modified = time.UnixMilli(ms)
	}

	ev := eventbus.FileAdded{
		File: domain.FileDescriptor{
			Name:         header.Filename,
			LastModified: modified.UTC(),
			ContentType:  header.Header.Get("Content-Type"),
			Size:         int64(len(raw)),
		},
		Raw: raw,
	}
	c := &capture{}
	ctx := context.WithValue(r.Context(), captureKey{}, c)
	if err := h.cfg.Requests.Publish(ctx, ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	layer, ok := c.get()
	if !ok {
		logger.Info("Upload rejected.", "file", header.Filename)
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s could not be added", domain.StripExtension(header.Filename)))
		return
	}
	w.Header().Set("Location", "/layers/"+layer.ID.String())
	writeJSON(w, http.StatusCreated, map[string]any{"layer": layer.Summary()})
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	layers := h.cfg.Layers.List()
	out := make([]domain.Summary, 0, len(layers))
	for _, l := range layers {
		out = append(out, l.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"layers": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	layer, ok := h.lookup(w, domain.Stamp(r.PathValue("id")))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"layer": layer.Summary()})
}

func (h *Handler) lookup(w http.ResponseWriter, id domain.Stamp) (domain.Layer, bool) {
	layer, err := h.cfg.Layers.Get(id)
	if errors.Is(err, domain.ErrLayerNotFound) {
		writeError(w, http.StatusNotFound, domain.ErrLayerNotFound.Error())
		return domain.Layer{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return domain.Layer{}, false
	}
	return layer, true
}

func (h *Handler) handleRaw(w http.ResponseWriter, r *http.Request) {
	id := domain.Stamp(r.PathValue("id"))
	layer, ok := h.lookup(w, id)
	if !ok {
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", layer.Name+".geojson"))
	if h.cfg.Raw == nil {
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(layer.Raw)
		return
	}
	info, rc, err := h.cfg.Raw.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "payload not archived")
			return
		}
		logging.FromContext(r.Context()).Error("Failed to open archived payload.", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	defer func() { _ = rc.Close() }()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+info.ETag+`"`)
	}
	_, _ = io.Copy(w, rc)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Requests.Publish(r.Context(), eventbus.LayerRemoved{ID: domain.Stamp(r.PathValue("id"))}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Feed == nil {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": []notify.Notification{}})
		return
	}
	items := h.cfg.Feed.Active()
	if r.URL.Query().Get("all") != "" {
		items = h.cfg.Feed.Recent()
	}
	if items == nil {
		items = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handler) handleJournal(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Journal == nil {
		http.NotFound(w, r)
		return
	}
	entries, err := h.cfg.Journal.Entries(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("Failed to read journal.", "error", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "layers": h.cfg.Layers.Len()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
