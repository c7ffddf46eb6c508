package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/medreminder/internal/application"
)

type medicationService interface {
	List(ctx context.Context, principal application.Principal) ([]application.Medication, error)
	Create(ctx context.Context, params application.CreateMedicationParams) (application.Medication, error)
	Update(ctx context.Context, params application.UpdateMedicationParams) (application.Medication, error)
	Delete(ctx context.Context, principal application.Principal, medicationID string) error
}

type MedicationHandler struct {
	service   medicationService
	responder responder
	logger    *slog.Logger
}

func NewMedicationHandler(service medicationService, logger *slog.Logger) *MedicationHandler {
	base := defaultLogger(logger)
	return &MedicationHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *MedicationHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "MedicationHandler", operation, attrs...)
}

func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	medications, err := h.service.List(r.Context(), principal)
	if err != nil {
		h.log(r.Context(), "List").ErrorContext(r.Context(), "medication listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, medicationListResponse{Medications: toMedicationDTOs(medications)})
}

func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req medicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode medication request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create")
	medication, err := h.service.Create(r.Context(), application.CreateMedicationParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "medication creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("medication_id", medication.ID).InfoContext(r.Context(), "medication created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, medicationResponse{Medication: toMedicationDTO(medication)})
}

func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	medicationID := strings.TrimSpace(chi.URLParam(r, "medicationID"))
	if medicationID == "" {
		h.log(r.Context(), "Update", "error_kind", "bad_request").ErrorContext(r.Context(), "missing medication id for update")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidMedicationID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req medicationUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Update", "medication_id", medicationID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode medication update", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Update", "medication_id", medicationID)
	medication, err := h.service.Update(r.Context(), application.UpdateMedicationParams{
		Principal:    principal,
		MedicationID: medicationID,
		Input:        req.toInput(),
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "medication update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "medication updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, medicationResponse{Medication: toMedicationDTO(medication)})
}

func (h *MedicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	medicationID := strings.TrimSpace(chi.URLParam(r, "medicationID"))
	if medicationID == "" {
		h.log(r.Context(), "Delete", "error_kind", "bad_request").ErrorContext(r.Context(), "missing medication id for delete")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidMedicationID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Delete", "medication_id", medicationID)
	if err := h.service.Delete(r.Context(), principal, medicationID); err != nil {
		logger.ErrorContext(r.Context(), "medication delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "medication deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type scheduleDTO struct {
	ID       string `json:"id,omitempty"`
	Time     string `json:"time"`
	Weekdays []int  `json:"weekdays"`
}

type medicationRequest struct {
	Name            string        `json:"name"`
	Dose            string        `json:"dose"`
	Form            string        `json:"form"`
	Quantity        int           `json:"quantity"`
	UnitsPerDose    *int          `json:"units_per_dose"`
	RefillThreshold *int          `json:"refill_threshold"`
	Instructions    string        `json:"instructions"`
	StartDate       string        `json:"start_date"`
	EndDate         string        `json:"end_date"`
	Schedules       []scheduleDTO `json:"schedules"`
}

func (r medicationRequest) toInput() application.MedicationInput {
	return application.MedicationInput{
		Name:            r.Name,
		Dose:            r.Dose,
		Form:            r.Form,
		Quantity:        r.Quantity,
		UnitsPerDose:    r.UnitsPerDose,
		RefillThreshold: r.RefillThreshold,
		Instructions:    r.Instructions,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		Schedules:       toScheduleInputs(r.Schedules),
	}
}

// medicationUpdateRequest leaves absent fields untouched. A present
// schedules array replaces every schedule.
type medicationUpdateRequest struct {
	Name            *string       `json:"name"`
	Dose            *string       `json:"dose"`
	Form            *string       `json:"form"`
	Quantity        *int          `json:"quantity"`
	UnitsPerDose    *int          `json:"units_per_dose"`
	RefillThreshold *int          `json:"refill_threshold"`
	Instructions    *string       `json:"instructions"`
	StartDate       *string       `json:"start_date"`
	EndDate         *string       `json:"end_date"`
	Schedules       []scheduleDTO `json:"schedules"`
}

func (r medicationUpdateRequest) toInput() application.MedicationUpdateInput {
	input := application.MedicationUpdateInput{
		Name:            r.Name,
		Dose:            r.Dose,
		Form:            r.Form,
		Quantity:        r.Quantity,
		UnitsPerDose:    r.UnitsPerDose,
		RefillThreshold: r.RefillThreshold,
		Instructions:    r.Instructions,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
	}
	if r.Schedules != nil {
		input.Schedules = toScheduleInputs(r.Schedules)
	}
	return input
}

func toScheduleInputs(schedules []scheduleDTO) []application.ScheduleInput {
	out := make([]application.ScheduleInput, 0, len(schedules))
	for _, schedule := range schedules {
		out = append(out, application.ScheduleInput{Time: schedule.Time, Weekdays: schedule.Weekdays})
	}
	return out
}

type medicationDTO struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Dose            string        `json:"dose"`
	Form            string        `json:"form"`
	Quantity        int           `json:"quantity"`
	UnitsPerDose    int           `json:"units_per_dose"`
	RefillThreshold int           `json:"refill_threshold"`
	NeedsRefill     bool          `json:"needs_refill"`
	Instructions    string        `json:"instructions,omitempty"`
	StartDate       string        `json:"start_date"`
	EndDate         string        `json:"end_date,omitempty"`
	Schedules       []scheduleDTO `json:"schedules"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

type medicationResponse struct {
	Medication medicationDTO `json:"medication"`
}

type medicationListResponse struct {
	Medications []medicationDTO `json:"medications"`
}

func toMedicationDTO(medication application.Medication) medicationDTO {
	dto := medicationDTO{
		ID:              medication.ID,
		Name:            medication.Name,
		Dose:            medication.Dose,
		Form:            string(medication.Form),
		Quantity:        medication.Quantity,
		UnitsPerDose:    medication.UnitsPerDose,
		RefillThreshold: medication.RefillThreshold,
		NeedsRefill:     medication.Quantity <= medication.RefillThreshold,
		Instructions:    medication.Instructions,
		StartDate:       medication.StartDate.String(),
		Schedules:       make([]scheduleDTO, 0, len(medication.Schedules)),
		CreatedAt:       medication.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       medication.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if medication.EndDate != nil {
		dto.EndDate = medication.EndDate.String()
	}
	for _, rule := range medication.Schedules {
		dto.Schedules = append(dto.Schedules, scheduleDTO{ID: rule.ID, Time: rule.At.String(), Weekdays: rule.Days.Ints()})
	}
	return dto
}

func toMedicationDTOs(medications []application.Medication) []medicationDTO {
	out := make([]medicationDTO, 0, len(medications))
	for _, medication := range medications {
		out = append(out, toMedicationDTO(medication))
	}
	return out
}
