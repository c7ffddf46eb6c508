package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/medreminder/internal/adherence"
)

// MaxHistoryLimit bounds a single history listing.
const MaxHistoryLimit = 1000

// HistoryService lists recorded dose outcomes.
type HistoryService struct {
	history      HistoryLog
	catalog      MedicationCatalog
	defaultLimit int
	logger       *slog.Logger
}

// NewHistoryService constructs a HistoryService. A non-positive defaultLimit
// falls back to DefaultHistoryLimit.
func NewHistoryService(history HistoryLog, catalog MedicationCatalog, defaultLimit int) *HistoryService {
	return NewHistoryServiceWithLogger(history, catalog, defaultLimit, nil)
}

// NewHistoryServiceWithLogger constructs a HistoryService with a specified logger.
func NewHistoryServiceWithLogger(history HistoryLog, catalog MedicationCatalog, defaultLimit int, logger *slog.Logger) *HistoryService {
	if defaultLimit <= 0 {
		defaultLimit = DefaultHistoryLimit
	}
	return &HistoryService{
		history:      history,
		catalog:      catalog,
		defaultLimit: defaultLimit,
		logger:       defaultLogger(logger),
	}
}

// List returns the newest history entries of the principal, optionally
// restricted to one status. The summary covers the page before filtering.
func (s *HistoryService) List(ctx context.Context, params ListHistoryParams) (page HistoryPage, err error) {
	if s == nil {
		err = fmt.Errorf("HistoryService is nil")
		return
	}
	logger := s.loggerWith(ctx, "List",
		"principal_id", params.Principal.UserID,
		"filter", string(params.Filter),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "list history failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "history listed", "items", len(page.Items), "total", page.Summary.Total)
	}()

	if strings.TrimSpace(params.Principal.UserID) == "" {
		err = ErrUnauthorized
		return
	}

	var (
		filter HistoryFilter
		limit  int
	)
	filter, limit, err = s.normalize(params)
	if err != nil {
		return
	}

	var entries []HistoryEntry
	entries, err = s.history.ListForUser(ctx, params.Principal.UserID, limit)
	if err != nil {
		err = collaboratorError("history.list", err)
		return
	}

	names := map[string]Medication{}
	if s.catalog != nil {
		var medications []Medication
		medications, err = s.catalog.ListAll(ctx, params.Principal.UserID)
		if err != nil {
			err = collaboratorError("medications.list_all", err)
			return
		}
		for _, medication := range medications {
			names[medication.ID] = medication
		}
	}

	statuses := make([]adherence.Status, 0, len(entries))
	page.Items = make([]HistoryItem, 0, len(entries))
	for _, entry := range entries {
		statuses = append(statuses, entry.Status)
		if filter != HistoryFilterAll && string(entry.Status) != string(filter) {
			continue
		}
		item := HistoryItem{HistoryEntry: entry}
		if medication, ok := names[entry.MedicationID]; ok {
			item.MedicationName = medication.Name
			item.Dose = medication.Dose
			item.Form = medication.Form
		}
		page.Items = append(page.Items, item)
	}
	page.Summary = adherence.Summarize(statuses)
	return
}

func (s *HistoryService) normalize(params ListHistoryParams) (HistoryFilter, int, error) {
	vErr := &ValidationError{}

	filter := HistoryFilter(strings.ToLower(strings.TrimSpace(string(params.Filter))))
	switch filter {
	case "":
		filter = HistoryFilterAll
	case HistoryFilterAll, HistoryFilterTaken, HistoryFilterMissed, HistoryFilterSnoozed:
	default:
		vErr.add("status", "status must be one of all, taken, missed, snoozed")
	}

	limit := params.Limit
	switch {
	case limit <= 0:
		limit = s.defaultLimit
	case limit > MaxHistoryLimit:
		vErr.add("limit", fmt.Sprintf("limit must be at most %d", MaxHistoryLimit))
	}

	if vErr.HasErrors() {
		return "", 0, vErr
	}
	return filter, limit, nil
}

func (s *HistoryService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "HistoryService", operation, attrs...)
}
