// Package server exposes the ingestion pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mathblocks/internal/assembler"
	"mathblocks/internal/correction"
	"mathblocks/internal/logger"
	"mathblocks/internal/normalize"
	"mathblocks/internal/types"
)

// MaxBodySize caps request bodies accepted by the ingest endpoint.
const MaxBodySize = 64 << 20

// Service serves ingestion, normalisation and correction requests.
type Service struct {
	asm  *assembler.Assembler
	corr *correction.Corrector
}

// New creates a Service. corr may be nil, in which case /v1/correct answers 503.
func New(asm *assembler.Assembler, corr *correction.Corrector) *Service {
	if asm == nil {
		asm = assembler.New(nil)
	}
	return &Service{asm: asm, corr: corr}
}

// Router builds a chi router with the standard middleware stack.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP registers the HTTP routes.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/ingest", s.handleIngest)
	r.Post("/v1/normalize", s.handleNormalize)
	r.Post("/v1/correct", s.handleCorrect)
}

type normalizeRequest struct {
	LaTeX string `json:"latex"`
}

type correctResponse struct {
	Block  types.Block        `json:"block"`
	Result *correction.Result `json:"result"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"corrector": s.corr != nil,
	})
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(data) > MaxBodySize {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	q := r.URL.Query()
	doc, err := s.asm.Assemble(r.Context(), assembler.Source{
		Format: types.SourceFormat(q.Get("format")),
		Name:   q.Get("name"),
		Data:   data,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Debug("ingest served",
		logger.Component("server"),
		logger.String("requestID", middleware.GetReqID(r.Context())),
		logger.String("format", string(doc.Format)),
		logger.Int("blocks", len(doc.Blocks)))
	writeJSON(w, http.StatusOK, doc)
}

func (s *Service) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req normalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, normalizeRequest{LaTeX: normalize.LaTeX(req.LaTeX)})
}

func (s *Service) handleCorrect(w http.ResponseWriter, r *http.Request) {
	if s.corr == nil {
		http.Error(w, "Formula correction is not configured", http.StatusServiceUnavailable)
		return
	}

	var block types.Block
	if err := json.NewDecoder(r.Body).Decode(&block); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	corrected, res, err := s.corr.Correct(r.Context(), block)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, correctResponse{Block: corrected, Result: res})
}

// statusFor maps application error codes onto HTTP statuses.
func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidInput, types.ErrUnsupportedFormat:
		return http.StatusBadRequest
	case types.ErrFileNotFound:
		return http.StatusNotFound
	case types.ErrExtract:
		return http.StatusUnprocessableEntity
	case types.ErrCorrection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		appErr = types.NewAppError(types.ErrInternal, "internal error", err)
	}
	status := statusFor(appErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", err, logger.Component("server"), logger.String("code", string(appErr.Code)))
	}
	writeJSON(w, status, map[string]string{
		"code":  string(appErr.Code),
		"error": appErr.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.Component("server"), logger.Err(err))
	}
}
