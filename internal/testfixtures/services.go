package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/medreminder/internal/application"
)

// ServiceFactory builds application services over a Harness using
// deterministic identifiers and a shared clock.
type ServiceFactory struct {
	Harness     *Harness
	Clock       *Clock
	IDGenerator *IDGenerator
	Tokens      *IDGenerator
	Location    *time.Location
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory returns a factory bound to h. The harness clock is
// shared so stored timestamps and service decisions agree.
func NewServiceFactory(h *Harness, opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Harness:     h,
		Clock:       h.Clock,
		IDGenerator: NewIDGenerator("id"),
		Tokens:      NewIDGenerator("token"),
		Location:    time.UTC,
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Tokens == nil {
		factory.Tokens = NewIDGenerator("token")
	}
	if factory.Location == nil {
		factory.Location = time.UTC
	}
	return factory
}

// WithIDGenerator overrides the identifier generator used for new records.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLocation sets the default timezone applied to principals without one.
func WithLocation(loc *time.Location) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Location = loc
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// NewMedicationService builds a medication service over the harness store.
func (f *ServiceFactory) NewMedicationService() *application.MedicationService {
	return application.NewMedicationServiceWithLogger(
		f.Harness.Medications,
		f.Location,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		f.Logger,
	)
}

// NewDoseService builds a dose service. A nil notifier disables signals.
func (f *ServiceFactory) NewDoseService(notifier application.NotificationSignal) *application.DoseService {
	return application.NewDoseServiceWithLogger(
		f.Harness.Medications,
		f.Harness.History,
		notifier,
		application.DoseServiceConfig{DefaultLocation: f.Location},
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		f.Logger,
	)
}

// NewHistoryService builds a history service with the default page size.
func (f *ServiceFactory) NewHistoryService() *application.HistoryService {
	return application.NewHistoryServiceWithLogger(
		f.Harness.History,
		f.Harness.Medications,
		0,
		f.Logger,
	)
}

// NewAuthService builds an auth service. Password hashing uses cheap argon2id
// parameters so tests stay fast.
func (f *ServiceFactory) NewAuthService(mailer application.ResetMailer) *application.AuthService {
	return application.NewAuthServiceWithLogger(
		f.Harness.Users,
		f.Harness.Sessions,
		f.Harness.PasswordResets,
		mailer,
		application.AuthServiceConfig{
			DefaultTimezone: f.Location.String(),
			PasswordParams:  FastPasswordParams,
		},
		f.Tokens.NextFunc(),
		f.Clock.NowFunc(),
		f.Logger,
	)
}

// NewProfileService builds a profile service.
func (f *ServiceFactory) NewProfileService() *application.ProfileService {
	return application.NewProfileServiceWithLogger(f.Harness.Users, f.Clock.NowFunc(), f.Logger)
}

// NewDataService builds an export and import service.
func (f *ServiceFactory) NewDataService() *application.DataService {
	return application.NewDataServiceWithLogger(
		f.Harness.Users,
		f.Harness.Medications,
		f.Harness.Medications,
		f.Harness.History,
		f.Location,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		f.Logger,
	)
}

// FastPasswordParams keeps argon2id cheap for tests.
var FastPasswordParams = application.Argon2idParams{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}
