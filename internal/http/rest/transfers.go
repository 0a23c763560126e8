package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/secure_downloader/internal/downloader"
	"github.com/italolelis/secure_downloader/internal/logctx"
	"github.com/italolelis/secure_downloader/internal/transfer"
)

const maxRequestSize = 1 << 20

// TransferService is the part of downloader.Manager the handler uses.
type TransferService interface {
	Submit(ctx context.Context, req transfer.Request) (string, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (downloader.Status, error)
	List(ctx context.Context) ([]downloader.Status, error)
}

// SubmitRequest is the body of POST /transfers.
type SubmitRequest struct {
	ID               string `json:"id,omitempty"`
	Source           string `json:"source"`
	TrackingID       string `json:"tracking_id,omitempty"`
	FileName         string `json:"file_name,omitempty"`
	DisplayName      string `json:"display_name,omitempty"`
	Thumbnail        bool   `json:"thumbnail,omitempty"`
	SecureContentRef string `json:"secure_content_ref,omitempty"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type TransfersHandler struct {
	username string
	password string
	service  TransferService
}

// NewTransfersHandler creates the transfers API. Basic auth is enforced when
// username is not empty.
func NewTransfersHandler(username, password string, service TransferService) *TransfersHandler {
	return &TransfersHandler{
		username: username,
		password: password,
		service:  service,
	}
}

func (h *TransfersHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/", h.HandleSubmit)
	r.Get("/", h.HandleList)
	r.Get("/{id}", h.HandleGet)
	r.Delete("/{id}", h.HandleCancel)

	return r
}

// HandleSubmit queues a new transfer.
func (h *TransfersHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var body SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&body); err != nil {
		logger.Debug("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if body.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")

		return
	}

	req := transfer.NewRequest(body.Source)
	if body.ID != "" {
		req.ID = body.ID
	}

	if body.TrackingID != "" {
		req.TrackingID = body.TrackingID
	}

	req.FileName = body.FileName
	req.DisplayName = body.DisplayName
	req.Thumbnail = body.Thumbnail
	req.SecureContentRef = body.SecureContentRef

	id, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)

		return
	}

	logger.Info("transfer submitted", "transfer_id", id, "source", transfer.RedactSource(body.Source))

	writeJSON(w, r, http.StatusAccepted, submitResponse{ID: id})
}

// HandleList returns every known transfer.
func (h *TransfersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, list)
}

// HandleGet returns one transfer.
func (h *TransfersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, status)
}

// HandleCancel cancels one transfer.
func (h *TransfersHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *TransfersHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, downloader.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, downloader.ErrActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, downloader.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logctx.LoggerFromContext(r.Context()).Error("failed to handle request", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *TransfersHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="secure_downloader"`)
			writeError(w, http.StatusUnauthorized, "invalid authorization format")

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1

		if !userOK || !passOK {
			writeError(w, http.StatusUnauthorized, "invalid username or password")

			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleHealth reports liveness.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
