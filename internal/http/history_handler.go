package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/medreminder/internal/application"
)

type historyService interface {
	List(ctx context.Context, params application.ListHistoryParams) (application.HistoryPage, error)
}

type dataService interface {
	Export(ctx context.Context, principal application.Principal) (application.Snapshot, error)
	Import(ctx context.Context, principal application.Principal, snapshot application.Snapshot) (application.ImportResult, error)
}

// HistoryHandler serves the dose history and the export/import snapshots.
type HistoryHandler struct {
	history   historyService
	data      dataService
	responder responder
	logger    *slog.Logger
}

func NewHistoryHandler(history historyService, data dataService, logger *slog.Logger) *HistoryHandler {
	base := defaultLogger(logger)
	return &HistoryHandler{history: history, data: data, responder: newResponder(base), logger: base}
}

func (h *HistoryHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "HistoryHandler", operation, attrs...)
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.history == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.responder.writeFieldError(r.Context(), w, "limit", "must be an integer")
			return
		}
		limit = parsed
	}

	page, err := h.history.List(r.Context(), application.ListHistoryParams{
		Principal: principal,
		Filter:    application.HistoryFilter(query.Get("status")),
		Limit:     limit,
	})
	if err != nil {
		h.log(r.Context(), "List").ErrorContext(r.Context(), "history listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toHistoryPageDTO(page))
}

// Export streams the caller's snapshot as a JSON attachment.
func (h *HistoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.data == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	snapshot, err := h.data.Export(r.Context(), principal)
	if err != nil {
		h.log(r.Context(), "Export").ErrorContext(r.Context(), "export failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	filename := fmt.Sprintf("medreminder-%s.json", snapshot.ExportedAt.UTC().Format("20060102"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, snapshot)
}

func (h *HistoryHandler) Import(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.data == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var snapshot application.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		h.log(r.Context(), "Import", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode snapshot", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Import")
	result, err := h.data.Import(r.Context(), principal, snapshot)
	if err != nil {
		logger.ErrorContext(r.Context(), "import failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "snapshot imported", "medications", result.Medications, "history", result.History)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, importResultDTO{
		Medications:    result.Medications,
		Schedules:      result.Schedules,
		History:        result.History,
		SkippedHistory: result.SkippedHistory,
	})
}

type historyItemDTO struct {
	historyEntryDTO
	MedicationName string `json:"medication_name"`
	Dose           string `json:"dose"`
	Form           string `json:"form"`
	CreatedAt      string `json:"created_at"`
}

type historyPageDTO struct {
	Items   []historyItemDTO `json:"items"`
	Summary summaryDTO       `json:"summary"`
}

func toHistoryPageDTO(page application.HistoryPage) historyPageDTO {
	items := make([]historyItemDTO, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, historyItemDTO{
			historyEntryDTO: toHistoryEntryDTO(item.HistoryEntry),
			MedicationName:  item.MedicationName,
			Dose:            item.Dose,
			Form:            string(item.Form),
			CreatedAt:       item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return historyPageDTO{Items: items, Summary: toSummaryDTO(page.Summary)}
}

type importResultDTO struct {
	Medications    int `json:"medications"`
	Schedules      int `json:"schedules"`
	History        int `json:"history"`
	SkippedHistory int `json:"skipped_history"`
}
