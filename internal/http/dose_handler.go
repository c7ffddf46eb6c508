package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/medreminder/internal/adherence"
	"github.com/example/medreminder/internal/application"
	"github.com/example/medreminder/internal/recurrence"
)

type doseService interface {
	TodaysDoses(ctx context.Context, params application.TodaysDosesParams) (application.DaySchedule, error)
	MarkTaken(ctx context.Context, params application.DoseActionParams) (application.DoseOutcome, error)
	MarkMissed(ctx context.Context, params application.DoseActionParams) (application.DoseOutcome, error)
	Snooze(ctx context.Context, params application.SnoozeParams) (application.DoseOutcome, error)
}

type DoseHandler struct {
	service   doseService
	responder responder
	logger    *slog.Logger
}

func NewDoseHandler(service doseService, logger *slog.Logger) *DoseHandler {
	base := defaultLogger(logger)
	return &DoseHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *DoseHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "DoseHandler", operation, attrs...)
}

// Today materializes the doses of the requested day, today by default.
func (h *DoseHandler) Today(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	date, ok := h.parseDate(w, r, r.URL.Query().Get("date"))
	if !ok {
		return
	}

	day, err := h.service.TodaysDoses(r.Context(), application.TodaysDosesParams{Principal: principal, Date: date})
	if err != nil {
		h.log(r.Context(), "Today").ErrorContext(r.Context(), "dose materialization failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toDayScheduleDTO(day))
}

func (h *DoseHandler) Taken(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "Taken")
}

func (h *DoseHandler) Missed(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "Missed")
}

func (h *DoseHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "Snooze")
}

func (h *DoseHandler) act(w http.ResponseWriter, r *http.Request, operation string) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	medicationID := strings.TrimSpace(chi.URLParam(r, "medicationID"))
	scheduleID := strings.TrimSpace(chi.URLParam(r, "scheduleID"))
	logger := h.log(r.Context(), operation, "medication_id", medicationID, "schedule_id", scheduleID)

	var req doseActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.ErrorContext(r.Context(), "failed to decode dose action", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	date, ok := h.parseDate(w, r, req.Date)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params := application.DoseActionParams{
		Principal:    principal,
		MedicationID: medicationID,
		ScheduleID:   scheduleID,
		Date:         date,
	}

	var (
		outcome application.DoseOutcome
		err     error
	)
	switch operation {
	case "Taken":
		outcome, err = h.service.MarkTaken(r.Context(), params)
	case "Missed":
		outcome, err = h.service.MarkMissed(r.Context(), params)
	default:
		outcome, err = h.service.Snooze(r.Context(), application.SnoozeParams{DoseActionParams: params, Minutes: req.Minutes})
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "dose action failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	if len(outcome.Warnings) > 0 {
		logger.WarnContext(r.Context(), "dose recorded with warnings", "warnings", outcome.Warnings)
	}
	logger.InfoContext(r.Context(), "dose recorded", "entry_id", outcome.Entry.ID, "status", outcome.Entry.Status)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toDoseOutcomeDTO(outcome))
}

func (h *DoseHandler) parseDate(w http.ResponseWriter, r *http.Request, raw string) (recurrence.Date, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return recurrence.Date{}, true
	}
	date, err := recurrence.ParseDate(raw)
	if err != nil {
		h.responder.writeFieldError(r.Context(), w, "date", "must be a YYYY-MM-DD date")
		return recurrence.Date{}, false
	}
	return date, true
}

type doseActionRequest struct {
	Date    string `json:"date"`
	Minutes int    `json:"minutes"`
}

type summaryDTO struct {
	Total         int `json:"total"`
	Taken         int `json:"taken"`
	Missed        int `json:"missed"`
	Snoozed       int `json:"snoozed"`
	Pending       int `json:"pending"`
	AdherenceRate int `json:"adherence_rate"`
}

func toSummaryDTO(summary adherence.Summary) summaryDTO {
	return summaryDTO(summary)
}

type scheduledDoseDTO struct {
	MedicationID string `json:"medication_id"`
	ScheduleID   string `json:"schedule_id"`
	Name         string `json:"name"`
	Dose         string `json:"dose"`
	Form         string `json:"form"`
	Instructions string `json:"instructions,omitempty"`
	Time         string `json:"time"`
	Due          string `json:"due"`
	Status       string `json:"status"`
	EntryID      string `json:"entry_id,omitempty"`
	Quantity     int    `json:"quantity"`
}

type dayScheduleDTO struct {
	Date    string             `json:"date"`
	Doses   []scheduledDoseDTO `json:"doses"`
	Summary summaryDTO         `json:"summary"`
}

func toDayScheduleDTO(day application.DaySchedule) dayScheduleDTO {
	doses := make([]scheduledDoseDTO, 0, len(day.Doses))
	for _, dose := range day.Doses {
		doses = append(doses, scheduledDoseDTO{
			MedicationID: dose.MedicationID,
			ScheduleID:   dose.ScheduleID,
			Name:         dose.Name,
			Dose:         dose.Dose,
			Form:         string(dose.Form),
			Instructions: dose.Instructions,
			Time:         dose.At.String(),
			Due:          dose.Due.Format(time.RFC3339),
			Status:       string(dose.Status),
			EntryID:      dose.EntryID,
			Quantity:     dose.Quantity,
		})
	}
	return dayScheduleDTO{Date: day.Date.String(), Doses: doses, Summary: toSummaryDTO(day.Summary)}
}

type historyEntryDTO struct {
	ID           string `json:"id"`
	MedicationID string `json:"medication_id"`
	ScheduleID   string `json:"schedule_id"`
	Status       string `json:"status"`
	ScheduledAt  string `json:"scheduled_at"`
	ActualAt     string `json:"actual_at"`
	Note         string `json:"note,omitempty"`
}

func toHistoryEntryDTO(entry application.HistoryEntry) historyEntryDTO {
	return historyEntryDTO{
		ID:           entry.ID,
		MedicationID: entry.MedicationID,
		ScheduleID:   entry.ScheduleID,
		Status:       string(entry.Status),
		ScheduledAt:  entry.ScheduledAt.UTC().Format(time.RFC3339),
		ActualAt:     entry.ActualAt.UTC().Format(time.RFC3339),
		Note:         entry.Note,
	}
}

type doseOutcomeDTO struct {
	Entry               historyEntryDTO `json:"entry"`
	Quantity            int             `json:"quantity"`
	RefillAlertSignaled bool            `json:"refill_alert_signaled"`
	Warnings            []string        `json:"warnings,omitempty"`
}

func toDoseOutcomeDTO(outcome application.DoseOutcome) doseOutcomeDTO {
	return doseOutcomeDTO{
		Entry:               toHistoryEntryDTO(outcome.Entry),
		Quantity:            outcome.Quantity,
		RefillAlertSignaled: outcome.RefillAlertSignaled,
		Warnings:            outcome.Warnings,
	}
}
