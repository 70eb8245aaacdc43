// Package webapi exposes the try-on wizard as a small JSON API for the local
// web page.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"banana-tryon/internal/gemini"
	"banana-tryon/internal/imagecodec"
	"banana-tryon/internal/library"
	"banana-tryon/internal/wizard"
)

type HistorySource interface {
	History() []library.HistoryItem
	FindHistory(id string) (library.HistoryItem, bool)
}

type Options struct {
	Wizard  *wizard.Controller
	History HistorySource

	MaxUploadBytes int64
	// RequestTimeout bounds generating and fetching requests. Zero leaves
	// them unbounded.
	RequestTimeout time.Duration

	// Static is served at "/" when set.
	Static fs.FS

	Now    func() time.Time
	Logger *slog.Logger
}

type Server struct {
	wiz            *wizard.Controller
	history        HistorySource
	maxUploadBytes int64
	requestTimeout time.Duration
	static         fs.FS
	now            func() time.Time
	logger         *slog.Logger
}

type apiError struct {
	Error string        `json:"error"`
	State *wizard.State `json:"state,omitempty"`
}

type stateResponse struct {
	State wizard.State        `json:"state"`
	Asset *library.ImageAsset `json:"asset,omitempty"`
}

type librariesResponse struct {
	Persons []library.ImageAsset `json:"persons"`
	Cloths  []library.ImageAsset `json:"cloths"`
}

type selectRequest struct {
	Kind string `json:"kind"` // "person" | "cloth"
	ID   string `json:"id"`
}

type generateClothRequest struct {
	Prompt string `json:"prompt"`
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	timeout := opts.RequestTimeout
	if timeout < 0 {
		timeout = 0
	}

	return &Server{
		wiz:            opts.Wizard,
		history:        opts.History,
		maxUploadBytes: maxUpload,
		requestTimeout: timeout,
		static:         opts.Static,
		now:            now,
		logger:         logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/libraries", s.handleLibraries)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/select", s.handleSelect)
	mux.HandleFunc("/api/cloth/generate", s.handleGenerateCloth)
	mux.HandleFunc("/api/next", s.handleNext)
	mux.HandleFunc("/api/back", s.handleBack)
	mux.HandleFunc("/api/tryon", s.handleTryOn)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/dismiss", s.handleDismiss)
	mux.HandleFunc("/api/download", s.handleDownload)

	if s.static != nil {
		mux.Handle("/", http.FileServer(http.FS(s.static)))
	}
	return withLogging(mux, s.logger)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: s.wiz.State()})
}

func (s *Server) handleLibraries(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, librariesResponse{
		Persons: nonNil(s.wiz.Persons()),
		Cloths:  nonNil(s.wiz.Cloths()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(s.history.History()))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing image"})
		return
	}
	defer file.Close()

	mimeHint := header.Header.Get("Content-Type")

	var asset library.ImageAsset
	switch strings.TrimSpace(r.FormValue("kind")) {
	case "person":
		asset, err = s.wiz.UploadPerson(r.Context(), file, mimeHint)
	case "cloth":
		asset, err = s.wiz.UploadCloth(r.Context(), file, mimeHint)
	default:
		writeJSON(w, http.StatusBadRequest, apiError{Error: `kind must be "person" or "cloth"`})
		return
	}
	if err != nil {
		s.writeWizardError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stateResponse{State: s.wiz.State(), Asset: &asset})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	var err error
	switch strings.TrimSpace(req.Kind) {
	case "person":
		err = s.wiz.SelectPerson(ctx, req.ID)
	case "cloth":
		err = s.wiz.SelectCloth(ctx, req.ID)
	default:
		writeJSON(w, http.StatusBadRequest, apiError{Error: `kind must be "person" or "cloth"`})
		return
	}
	if err != nil {
		s.writeWizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: s.wiz.State()})
}

func (s *Server) handleGenerateCloth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req generateClothRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	asset, err := s.wiz.GenerateCloth(ctx, req.Prompt)
	if err != nil {
		s.writeWizardError(w, err)
		return
	}

	resp := stateResponse{State: s.wiz.State()}
	if asset.ID != "" {
		resp.Asset = &asset
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.wiz.Next(ctx); err != nil {
		s.writeWizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: s.wiz.State()})
}

func (s *Server) handleTryOn(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.wiz.TryOn(ctx); err != nil {
		s.writeWizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: s.wiz.State()})
}

// requestContext bounds r by the configured request timeout, if any.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.wiz.Back()
	writeJSON(w, http.StatusOK, stateResponse{State: s.wiz.State()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.wiz.Reset()
	writeJSON(w, http.StatusOK, stateResponse{State: s.wiz.State()})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.wiz.DismissMessage()
	writeJSON(w, http.StatusOK, stateResponse{State: s.wiz.State()})
}

// handleDownload serves the current result, or a history entry's result when
// ?history=<id> is given, as an attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	var (
		mimeType string
		data     []byte
		err      error
	)
	if id := strings.TrimSpace(r.URL.Query().Get("history")); id != "" {
		item, ok := s.history.FindHistory(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "history entry not found"})
			return
		}
		mimeType, data, err = imagecodec.DecodeBytes(item.ResultImage)
	} else {
		mimeType, data, err = s.wiz.Result()
	}
	if err != nil {
		if wizard.IsValidation(err) {
			writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
			return
		}
		s.logger.Error("download decode failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "stored image is not decodable"})
		return
	}

	w.Header().Set("content-type", mimeType)
	w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=%q", imagecodec.DownloadName(s.now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) writeWizardError(w http.ResponseWriter, err error) {
	st := s.wiz.State()
	msg := st.Message
	if msg == "" {
		msg = err.Error()
	}
	writeJSON(w, errorStatus(err), apiError{Error: msg, State: &st})
}

func errorStatus(err error) int {
	var (
		readErr  *imagecodec.ReadError
		fetchErr *imagecodec.FetchError
		genErr   *gemini.GenerationError
		apiErr   *gemini.APIError
		maxErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case wizard.IsValidation(err), errors.As(err, &readErr):
		return http.StatusBadRequest
	case errors.Is(err, wizard.ErrBusy), errors.Is(err, wizard.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &fetchErr), errors.As(err, &genErr), errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body"})
		return false
	}
	return true
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("x-request-id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("x-request-id", reqID)
		next.ServeHTTP(w, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "request_id", reqID, "dur_ms", time.Since(start).Milliseconds())
	})
}
