package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/medreminder/internal/persistence"
	"github.com/example/medreminder/internal/persistence/bridge"
	"github.com/example/medreminder/internal/persistence/memory"
	"github.com/example/medreminder/internal/persistence/sqlite"
)

// Repositories is a storage backend serving every persistence repository.
type Repositories interface {
	persistence.UserRepository
	persistence.SessionRepository
	persistence.PasswordResetRepository
	persistence.MedicationRepository
	persistence.HistoryRepository
	Close() error
}

// Harness wires a storage backend to the application-facing adapters so
// integration tests run services against real repositories.
type Harness struct {
	Store Repositories
	Clock *Clock

	Users          *bridge.Users
	Sessions       *bridge.Sessions
	PasswordResets *bridge.PasswordResets
	Medications    *bridge.Medications
	History        *bridge.History

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *Harness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

func newHarness(tb testing.TB, store Repositories, clock *Clock) *Harness {
	if clock == nil {
		clock = NewClock(ReferenceTime())
	}
	h := &Harness{
		Store:          store,
		Clock:          clock,
		Users:          bridge.NewUsers(store),
		Sessions:       bridge.NewSessions(store),
		PasswordResets: bridge.NewPasswordResets(store),
		Medications:    bridge.NewMedications(store, clock.NowFunc()),
		History:        bridge.NewHistory(store, clock.NowFunc()),
		cleanup: func() {
			_ = store.Close()
		},
	}
	tb.Cleanup(h.Close)
	return h
}

// NewSQLiteHarness opens a migrated SQLite database in a temporary directory.
// Close is registered with tb.
func NewSQLiteHarness(tb testing.TB, clock *Clock) *Harness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "medreminder.db")
	storage, err := sqlite.Open(path, nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return newHarness(tb, storage, clock)
}

// NewMemoryHarness backs the adapters with the in-process store.
func NewMemoryHarness(tb testing.TB, clock *Clock) *Harness {
	tb.Helper()
	return newHarness(tb, memory.New(), clock)
}

// SeedUser stores the fixture user.
func (h *Harness) SeedUser(tb testing.TB, user UserFixture) {
	tb.Helper()
	if err := h.Store.CreateUser(context.Background(), user.Persistence()); err != nil {
		tb.Fatalf("seed user %s: %v", user.ID, err)
	}
}

// SeedMedication stores the fixture medication with its schedules.
func (h *Harness) SeedMedication(tb testing.TB, medication MedicationFixture) {
	tb.Helper()
	if err := h.Store.CreateMedication(context.Background(), medication.Persistence()); err != nil {
		tb.Fatalf("seed medication %s: %v", medication.ID, err)
	}
}

// SeedHistory appends the fixture entries to the history log.
func (h *Harness) SeedHistory(tb testing.TB, entries ...HistoryFixture) {
	tb.Helper()
	for _, entry := range entries {
		if err := h.Store.AppendHistory(context.Background(), entry.Persistence()); err != nil {
			tb.Fatalf("seed history %s: %v", entry.ID, err)
		}
	}
}
