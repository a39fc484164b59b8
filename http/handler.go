package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/partflow/partflow"
)

// Service is the coordinator surface the HTTP layer exposes.
type Service interface {
	Begin(ctx context.Context, principal string, req partflow.BeginTransfer) (partflow.Transfer, error)
	UploadPart(ctx context.Context, transferID uuid.UUID, index int, checksum string, content io.Reader) (partflow.PartRecord, error)
	Complete(ctx context.Context, transferID uuid.UUID) (partflow.CommitResult, error)
	Abort(ctx context.Context, transferID uuid.UUID)
	Status(ctx context.Context, transferID uuid.UUID) (partflow.Transfer, error)
	Parts(ctx context.Context, transferID uuid.UUID) ([]partflow.PartRecord, error)
	IssueDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	IssueUploadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ScopeStore reports the key-prefix an access key is restricted to.
// An empty string means the key may touch any object key.
type ScopeStore interface {
	Scope(accessKey string) string
}

type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

type HandlerConfig struct {
	Verifier RequestVerifier // nil disables authentication
	Scopes   ScopeStore      // nil disables key-prefix scoping
	CORS     CORSConfig
}

// Handler provides HTTP handlers for the transfer API.
type Handler struct {
	config  HandlerConfig
	service Service
}

// NewHandler creates a new Handler with the given configuration and service.
func NewHandler(config *HandlerConfig, service Service) *Handler {
	return &Handler{
		config:  *config,
		service: service,
	}
}

// Router returns an http.Handler with the transfer API mounted under
// /v1. The health endpoint is unauthenticated; everything else goes
// through signature verification when a verifier is configured.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Get("/healthz", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.config.Verifier))

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.handleBegin)
			r.Get("/{id}", h.handleStatus)
			r.Delete("/{id}", h.handleAbort)
			r.Post("/{id}/complete", h.handleComplete)
			r.Get("/{id}/parts", h.handleListParts)
			r.Put("/{id}/parts/{index}", h.handleUploadPart)
		})

		r.Route("/urls", func(r chi.Router) {
			r.Post("/download", h.handleDownloadURL)
			r.Post("/upload", h.handleUploadURL)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req partflow.BeginTransfer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body")
		return
	}

	principal := PrincipalFromContext(r.Context())
	if !h.keyAllowed(principal, req.TargetKey) {
		WriteError(w, http.StatusForbidden, "forbidden", "Access key is not allowed to use this object key")
		return
	}

	t, err := h.service.Begin(r.Context(), principal, req)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	t, err := h.service.Status(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleListParts(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	parts, err := h.service.Parts(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"parts": parts})
}

// handleUploadPart streams the request body as one part. The client
// declares the part's SHA256 via the X-Content-Sha256 header; the body
// is rejected if it does not match.
func (h *Handler) handleUploadPart(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_index", "Part index must be an integer")
		return
	}

	checksum := r.Header.Get("X-Content-Sha256")
	if checksum == "" {
		WriteError(w, http.StatusBadRequest, "missing_checksum", "X-Content-Sha256 header is required")
		return
	}

	rec, err := h.service.UploadPart(r.Context(), id, index, checksum, r.Body)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	res, err := h.service.Complete(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	h.service.Abort(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

type urlRequest struct {
	Key           string `json:"key"`
	ExpirySeconds int64  `json:"expiry_seconds"`
}

type urlResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	h.handleURL(w, r, h.service.IssueDownloadURL)
}

func (h *Handler) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	h.handleURL(w, r, h.service.IssueUploadURL)
}

func (h *Handler) handleURL(w http.ResponseWriter, r *http.Request, issue func(context.Context, string, time.Duration) (string, error)) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body")
		return
	}

	if !h.keyAllowed(PrincipalFromContext(r.Context()), req.Key) {
		WriteError(w, http.StatusForbidden, "forbidden", "Access key is not allowed to use this object key")
		return
	}

	expiry := time.Duration(req.ExpirySeconds) * time.Second
	u, err := issue(r.Context(), req.Key, expiry)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, urlResponse{
		URL:       u,
		ExpiresAt: time.Now().Add(expiry).UTC(),
	})
}

// keyAllowed checks the principal's key-prefix scope against an object
// key. Unauthenticated requests and unscoped keys are unrestricted.
func (h *Handler) keyAllowed(principal, key string) bool {
	if h.config.Scopes == nil || principal == "" {
		return true
	}
	prefix := h.config.Scopes.Scope(principal)
	return prefix == "" || strings.HasPrefix(key, prefix)
}

func transferID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "Transfer id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
