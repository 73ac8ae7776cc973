package handlers

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/pavelmac/faceshare/internal/scanner"
)

// ScanRunner runs one library scan.
type ScanRunner interface {
	Scan(ctx context.Context) (*scanner.Report, error)
}

// ScanHandler triggers library scans and reports their outcome. Only one
// scan runs at a time.
type ScanHandler struct {
	runner ScanRunner
	log    *zap.Logger

	mu         sync.Mutex
	running    bool
	lastReport *scanner.Report
	lastErr    error
}

// NewScanHandler creates a scan handler.
func NewScanHandler(runner ScanRunner, log *zap.Logger) *ScanHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ScanHandler{runner: runner, log: log}
}

// Start handles POST /scan: kicks off a scan in the background.
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		respondError(w, http.StatusConflict, "scan already running")
		return
	}
	h.running = true
	h.mu.Unlock()

	go func() {
		// Detached from the request context so the scan survives the
		// HTTP response.
		report, err := h.runner.Scan(context.Background())

		h.mu.Lock()
		h.running = false
		h.lastReport = report
		h.lastErr = err
		h.mu.Unlock()

		if err != nil {
			h.log.Warn("library scan failed", zap.Error(err))
			return
		}
		h.log.Info("library scan finished",
			zap.Int("photos", report.PhotosScanned),
			zap.Int("faces", report.FacesFound),
			zap.Int("groups", report.GroupsStored))
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// scanStatus is the JSON shape of GET /scan.
type scanStatus struct {
	Running bool            `json:"running"`
	Report  *scanner.Report `json:"report,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Status handles GET /scan: reports the running flag and the last result.
func (h *ScanHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	status := scanStatus{
		Running: h.running,
		Report:  h.lastReport,
	}
	if h.lastErr != nil {
		status.Error = h.lastErr.Error()
	}
	h.mu.Unlock()

	respondJSON(w, http.StatusOK, status)
}
