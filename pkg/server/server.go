// Package server exposes report runs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/infralens/infralens/pkg/apierr"
	"github.com/infralens/infralens/pkg/imaging"
	"github.com/infralens/infralens/pkg/metrics"
	"github.com/infralens/infralens/pkg/models"
	"github.com/infralens/infralens/pkg/orchestrator"
)

// Runner executes report runs.
type Runner interface {
	Run(ctx context.Context, in orchestrator.Input, observe orchestrator.Observer) (*orchestrator.Result, error)
	ConfigWarning() string
	UserMessage(err error) string
}

// Server is the InfraLens HTTP API.
type Server struct {
	listen   string
	runner   Runner
	metrics  *metrics.Recorder
	logger   *slog.Logger
	progress *board
	mux      *http.ServeMux
}

// New creates a Server. m may be nil, in which case /metrics is not served.
func New(listen string, runner Runner, m *metrics.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		listen:   listen,
		runner:   runner,
		metrics:  m,
		logger:   logger,
		progress: &board{},
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/reports", s.handleReports)
	s.mux.HandleFunc("/v1/progress", s.handleProgress)
	s.mux.HandleFunc("/v1/status", s.handleStatus)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if m != nil {
		s.mux.Handle("/metrics", m.Handler())
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("infralens server listening", "addr", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// reportResponse is the body of a successful POST /v1/reports.
type reportResponse struct {
	RunID            string             `json:"run_id"`
	CacheHit         bool               `json:"cache_hit"`
	Fallback         bool               `json:"fallback"`
	PlaceholderImage bool               `json:"placeholder_image"`
	Report           *models.ReportData `json:"report"`
}

const maxUploadBytes = imaging.MaxImageBytes + 1<<20

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, string(apierr.KindValidation), "upload is too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, string(apierr.KindValidation), "expected a multipart form with image and description")
		return
	}

	in := orchestrator.Input{Description: r.FormValue("description")}
	file, header, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		in.Filename = header.Filename
		in.Image, err = io.ReadAll(file)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, string(apierr.KindValidation), "failed to read image")
			return
		}
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeJSONError(w, http.StatusBadRequest, string(apierr.KindValidation), "failed to read image")
		return
	}

	res, err := s.runner.Run(r.Context(), in, s.progress.update)
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reportResponse{
		RunID:            res.RunID,
		CacheHit:         res.CacheHit,
		Fallback:         res.Fallback,
		PlaceholderImage: res.Placeholder,
		Report:           res.Report,
	})
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	code := apierr.HTTPStatus(err)
	if code == http.StatusTooManyRequests {
		if wait := apierr.RetryAfter(err); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Warn("report request failed", "status", code, "error", err)
	}
	writeJSONError(w, code, string(apierr.KindOf(err)), s.runner.UserMessage(err))
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.progress.latest())
}

type statusResponse struct {
	Ready   bool   `json:"ready"`
	Warning string `json:"warning,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	warning := s.runner.ConfigWarning()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{Ready: warning == "", Warning: warning})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "ok")
}

// board holds the latest event of the active or last run.
type board struct {
	mu   sync.RWMutex
	last models.RunEvent
}

func (b *board) update(ev models.RunEvent) {
	b.mu.Lock()
	b.last = ev
	b.mu.Unlock()
}

func (b *board) latest() models.RunEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last.State == "" {
		return models.RunEvent{State: models.StateIdle}
	}
	return b.last
}

func writeJSONError(w http.ResponseWriter, code int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"infralens_error","kind":%q,"code":%d}}`, message, kind, code)
}
