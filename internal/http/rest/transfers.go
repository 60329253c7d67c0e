package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/fetcher/internal/logctx"
	"github.com/italolelis/fetcher/internal/storage"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// TransfersHandler exposes the transfer journal over HTTP.
type TransfersHandler struct {
	repo storage.TransferReadRepository
}

// NewTransfersHandler creates a new journal handler.
func NewTransfersHandler(repo storage.TransferReadRepository) *TransfersHandler {
	return &TransfersHandler{repo: repo}
}

func (h *TransfersHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.HandleList)
	r.Get("/{id}", h.HandleGet)

	return r
}

type listResponse struct {
	Transfers []storage.TransferRecord `json:"transfers"`
	Count     int                      `json:"count"`
}

// HandleList returns the most recent journal records. ?limit= bounds the
// result and ?status= filters by installed or failed.
func (h *TransfersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	limit := defaultLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")

			return
		}

		limit = min(n, maxLimit)
	}

	status := r.URL.Query().Get("status")
	if status != "" && status != storage.StatusInstalled && status != storage.StatusFailed {
		writeError(w, http.StatusBadRequest, "status must be installed or failed")

		return
	}

	records, err := h.repo.GetTransfers(r.Context(), limit)
	if err != nil {
		logger.Error("failed to list transfers", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list transfers")

		return
	}

	filtered := make([]storage.TransferRecord, 0, len(records))

	for _, rec := range records {
		if status == "" || rec.Status == status {
			filtered = append(filtered, rec)
		}
	}

	writeJSON(w, http.StatusOK, listResponse{Transfers: filtered, Count: len(filtered)})
}

// HandleGet returns a single journal record.
func (h *TransfersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.repo.GetTransfer(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transfer not found")

			return
		}

		logctx.LoggerFromContext(r.Context()).Error("failed to get transfer", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get transfer")

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
