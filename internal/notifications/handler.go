package notifications

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

// Handler exposes the delivery-status callback used by the delivery
// collaborator and the per-appointment notification log.
type Handler struct {
	store  *Store
	logger *logging.Logger
}

// NewHandler creates a notifications handler.
func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

type statusCallback struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// UpdateStatus handles POST /notifications/{id}/status callbacks. Only the
// delivery-status fields are mutable; message content never changes.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}

	var cb statusCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch Status(cb.Status) {
	case StatusSent:
		err = h.store.MarkSent(r.Context(), id)
	case StatusDelivered:
		err = h.store.MarkDelivered(r.Context(), id)
	case StatusRead:
		err = h.store.MarkRead(r.Context(), id)
	case StatusFailed, StatusError:
		err = h.store.MarkFailed(r.Context(), id, cb.FailureReason)
	default:
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "notification not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to update notification status", "error", err, "id", id)
		http.Error(w, "failed to update status", http.StatusInternalServerError)
		return
	}

	h.logger.Info("notification status updated", "id", id, "status", cb.Status)
	w.WriteHeader(http.StatusNoContent)
}
