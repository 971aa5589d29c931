package appointments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vittaclinic/agenda-platform/internal/tenancy"
	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

// Handler exposes the appointment lifecycle over HTTP. Every route expects
// the tenant id in context; the router's tenancy middleware puts it there.
type Handler struct {
	service *Service
	logger  *logging.Logger

	notificationsLog http.HandlerFunc
}

// NewHandler creates an appointments handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("appointments: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// WithNotificationsLog mounts an extra GET /{id}/notifications route serving
// the appointment's notification log.
func (h *Handler) WithNotificationsLog(fn http.HandlerFunc) *Handler {
	h.notificationsLog = fn
	return h
}

// Routes mounts the appointment routes on a fresh sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateAppointment)
	r.Get("/", h.ListAppointments)
	r.Get("/today", h.ListToday)
	r.Get("/lead/{leadID}", h.ListByLead)
	r.Get("/professional/{professionalID}", h.ListByProfessional)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.GetAppointment)
		r.Patch("/", h.UpdateAppointment)
		r.Post("/confirm-payment", h.ConfirmPayment)
		r.Post("/send-anamnesis", h.SendAnamnesis)
		r.Post("/confirm", h.ConfirmByPatient)
		r.Post("/check-in", h.CheckIn)
		r.Post("/start-attendance", h.StartAttendance)
		r.Post("/finalize", h.Finalize)
		r.Post("/cancel", h.Cancel)
		r.Get("/returns", h.ListReturns)
		if h.notificationsLog != nil {
			r.Get("/notifications", h.notificationsLog)
		}
	})
	return r
}

// CreateAppointment handles POST /appointments.
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	in.TenantID = tenantID

	a, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, a)
}

// ListAppointments handles GET /appointments with page/page_size pagination.
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 50)
	if pageSize > 200 {
		pageSize = 200
	}

	result, err := h.service.List(r.Context(), tenantID, pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ListToday handles GET /appointments/today.
func (h *Handler) ListToday(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	data, err := h.service.FindToday(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// ListByLead handles GET /appointments/lead/{leadID}.
func (h *Handler) ListByLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	leadID, err := uuid.Parse(chi.URLParam(r, "leadID"))
	if err != nil {
		http.Error(w, "invalid lead id", http.StatusBadRequest)
		return
	}
	data, err := h.service.ListByLead(r.Context(), tenantID, leadID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// ListByProfessional handles GET /appointments/professional/{professionalID}
// with from/to range parameters (RFC 3339); the range defaults to the
// upcoming week.
func (h *Handler) ListByProfessional(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	professionalID, err := uuid.Parse(chi.URLParam(r, "professionalID"))
	if err != nil {
		http.Error(w, "invalid professional id", http.StatusBadRequest)
		return
	}

	from, to, err := h.queryRange(r)
	if err != nil {
		http.Error(w, "invalid from/to range", http.StatusBadRequest)
		return
	}

	data, err := h.service.ListByProfessional(r.Context(), tenantID, professionalID, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// GetAppointment handles GET /appointments/{id}.
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// UpdateAppointment handles PATCH /appointments/{id}.
func (h *Handler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	var in UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := h.service.Update(r.Context(), tenantID, id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

type confirmPaymentRequest struct {
	PaymentProof  string `json:"payment_proof"`
	PaymentMethod string `json:"payment_method"`
}

// ConfirmPayment handles POST /appointments/{id}/confirm-payment.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := h.service.ConfirmPayment(r.Context(), tenantID, id, req.PaymentProof, req.PaymentMethod)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// SendAnamnesis handles POST /appointments/{id}/send-anamnesis.
func (h *Handler) SendAnamnesis(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	a, err := h.service.SendAnamnesisForm(r.Context(), tenantID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// ConfirmByPatient handles POST /appointments/{id}/confirm.
func (h *Handler) ConfirmByPatient(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	var in ConfirmInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := h.service.ConfirmByPatient(r.Context(), tenantID, id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

type checkInRequest struct {
	StaffID uuid.UUID `json:"staff_id"`
}

// CheckIn handles POST /appointments/{id}/check-in.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := h.service.CheckIn(r.Context(), tenantID, id, req.StaffID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// StartAttendance handles POST /appointments/{id}/start-attendance.
func (h *Handler) StartAttendance(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	a, err := h.service.StartAttendance(r.Context(), tenantID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

type finalizeResponse struct {
	Appointment *Appointment        `json:"appointment"`
	Returns     []AppointmentReturn `json:"returns,omitempty"`
}

// Finalize handles POST /appointments/{id}/finalize.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	var in FinalizeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, returns, err := h.service.Finalize(r.Context(), tenantID, id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, finalizeResponse{Appointment: a, Returns: returns})
}

type cancelRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Reason string    `json:"reason"`
}

// Cancel handles POST /appointments/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := h.service.Cancel(r.Context(), tenantID, id, req.UserID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// ListReturns handles GET /appointments/{id}/returns.
func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}
	returns, err := h.service.ListReturns(r.Context(), tenantID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": returns})
}

func (h *Handler) tenantAndID(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	return tenantID, id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, ErrAlreadyPaid):
		http.Error(w, "payment already confirmed", http.StatusConflict)
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, "invalid status transition", http.StatusConflict)
	case errors.Is(err, ErrMissingTenant), errors.Is(err, ErrMissingLead),
		errors.Is(err, ErrMissingProcedure), errors.Is(err, ErrMissingSchedule),
		errors.Is(err, ErrInvalidLocation), errors.Is(err, ErrInvalidReminderKind):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("appointment request failed",
			"error", err, "method", r.Method, "path", r.URL.Path)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func (h *Handler) queryRange(r *http.Request) (time.Time, time.Time, error) {
	now := h.service.clock.Now().UTC()
	from, to := now, now.AddDate(0, 0, 7)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	return from, to, nil
}
