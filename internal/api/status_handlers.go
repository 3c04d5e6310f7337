package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/clock"
	"github.com/JakeFAU/crawler-frontier/internal/frontier"
	"github.com/JakeFAU/crawler-frontier/internal/populator"
)

// StatusSource is implemented by *populator.Populator.
type StatusSource interface {
	Name() string
	Status() populator.Status
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	GeneratedAt time.Time          `json:"generated_at"`
	BufferDepth int                `json:"buffer_depth"`
	Populators  []populator.Status `json:"populators"`
}

// StatusHandler exposes read-only populator state.
type StatusHandler struct {
	sources []StatusSource
	buffer  frontier.Buffer
	clock   frontier.Clock
	logger  *zap.Logger
}

// NewStatusHandler wires the populators and buffer.
func NewStatusHandler(sources []StatusSource, buffer frontier.Buffer, clk frontier.Clock, logger *zap.Logger) *StatusHandler {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{sources: sources, buffer: buffer, clock: clk, logger: logger}
}

// List handles GET /v1/status.
func (h *StatusHandler) List(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		GeneratedAt: h.clock.Now(),
		Populators:  make([]populator.Status, 0, len(h.sources)),
	}
	if h.buffer != nil {
		resp.BufferDepth = h.buffer.Len()
	}
	for _, src := range h.sources {
		resp.Populators = append(resp.Populators, src.Status())
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

// Get handles GET /v1/status/{name}; 404 when no populator has that name.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, src := range h.sources {
		if src.Name() == name {
			writeJSON(w, http.StatusOK, src.Status(), h.logger)
			return
		}
	}
	writeError(w, http.StatusNotFound, "populator not found", h.logger)
}
