package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
)

const (
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20
)

// HTTPConfig carries the HTTP-only settings.
type HTTPConfig struct {
	UploadRatePerMin  int
	MaxImageBytes     int
	MaxImagesPerBatch int
	// Health reports whether the backing store is reachable. Nil means always healthy.
	Health func(ctx context.Context) error
}

// HTTPServer serves the JSON API and the status websocket.
type HTTPServer struct {
	ingest    Ingestion
	exporter  Exporter
	auth      *Authenticator
	limiter   *userLimiter
	cfg       HTTPConfig
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	pingEvery time.Duration
}

func NewHTTPServer(ing Ingestion, exp Exporter, auth *Authenticator, cfg HTTPConfig, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = pipeline.DefaultMaxImageBytes
	}
	if cfg.MaxImagesPerBatch <= 0 {
		cfg.MaxImagesPerBatch = pipeline.DefaultMaxImages
	}
	return &HTTPServer{
		ingest:   ing,
		exporter: exp,
		auth:     auth,
		limiter:  newUserLimiter(cfg.UploadRatePerMin),
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// bearer tokens, not cookies, authenticate the upgrade
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingEvery: 30 * time.Second,
	}
}

// Routes builds the chi router.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.healthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate(s.auth))

		r.With(s.limiter.middleware).Post("/batches", s.submitBatch)
		r.Get("/batches/{id}", s.getBatch)
		r.Get("/batches/{id}/events", s.batchEvents)
		r.Post("/batches/{id}/confirm", s.confirmDuplicate)
		r.Delete("/batches/{id}", s.cancelBatch)
		r.Get("/credits", s.creditBalance)
		r.Get("/attempts/export", s.exportAttempts)
	})
	return r
}

func (s *HTTPServer) healthz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Health(ctx); err != nil {
			common.LoggerFromContext(r.Context()).Error("http.health.failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) submitBatch(w http.ResponseWriter, r *http.Request) {
	log := common.LoggerFromContext(r.Context())
	limit := int64(s.cfg.MaxImageBytes)*int64(s.cfg.MaxImagesPerBatch) + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "upload too large"})
			return
		}
		writeError(w, r, fmt.Errorf("%w: multipart form: %v", common.ErrInvalidInput, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["images"]
	uploads := make([]pipeline.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: open %s: %v", common.ErrInvalidInput, fh.Filename, err))
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read %s: %v", common.ErrInvalidInput, fh.Filename, err))
			return
		}
		uploads = append(uploads, pipeline.Upload{Name: fh.Filename, Data: data})
	}
	opts := pipeline.Options{
		ForceCheap:     formBool(r, "force_cheap"),
		PreferFallback: formBool(r, "prefer_fallback"),
	}

	userID := common.UserIDFromContext(r.Context())
	id, err := s.ingest.Submit(r.Context(), userID, uploads, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info("http.batch.accepted", "batch_id", id, "images", len(uploads))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"batch_id":   id.String(),
		"status_url": "/api/batches/" + id.String(),
	})
}

func (s *HTTPServer) getBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	st, err := s.ingest.GetBatchStatus(r.Context(), common.UserIDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitizeStatus(st))
}

type confirmRequest struct {
	CandidateID uuid.UUID `json:"candidate_id"`
	Proceed     *bool     `json:"proceed"`
}

func (s *HTTPServer) confirmDuplicate(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: request body: %v", common.ErrInvalidInput, err))
		return
	}
	if req.CandidateID == uuid.Nil || req.Proceed == nil {
		writeError(w, r, fmt.Errorf("%w: candidate_id and proceed are required", common.ErrInvalidInput))
		return
	}
	st, err := s.ingest.ConfirmDuplicate(r.Context(), common.UserIDFromContext(r.Context()), id, req.CandidateID, *req.Proceed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitizeStatus(st))
}

func (s *HTTPServer) cancelBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	st, err := s.ingest.CancelBatch(r.Context(), common.UserIDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitizeStatus(st))
}

func (s *HTTPServer) creditBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.ingest.GetCreditBalance(r.Context(), common.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewBalance(bal))
}

// exportAttempts streams the XLSX audit. since is an optional YYYY-MM-DD lower bound.
func (s *HTTPServer) exportAttempts(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: since must be YYYY-MM-DD", common.ErrInvalidInput))
			return
		}
		since = t
	}
	data, err := s.exporter.ExportXLSX(r.Context(), common.UserIDFromContext(r.Context()), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("trade-ingest-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func batchID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: batch id must be a UUID", common.ErrInvalidInput))
		return uuid.Nil, false
	}
	return id, true
}

func formBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.FormValue(key))
	return b
}

type errorBody struct {
	Error string `json:"error"`
	Cause string `json:"cause,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to its status. Internal details are logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	body := errorBody{Error: clean(err.Error())}
	if cause := common.CauseOf(err); cause != constants.CauseNone && cause != constants.CauseInternal {
		body.Cause = string(cause)
	}
	if status >= http.StatusInternalServerError {
		common.LoggerFromContext(r.Context()).Error("http.request.failed", "path", r.URL.Path, "error", err)
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}
