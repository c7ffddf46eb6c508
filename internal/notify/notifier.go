package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"text/template"
	"time"

	"github.com/example/medreminder/internal/application"
	"github.com/example/medreminder/internal/logging"
)

// Directory resolves the account a notification is addressed to.
type Directory interface {
	GetUser(ctx context.Context, id string) (application.User, error)
}

// Config tunes a Notifier.
type Config struct {
	// RefillCooldown is the minimum gap between two refill alerts for the
	// same medication.
	RefillCooldown time.Duration
	// MaxAttempts bounds delivery retries of a queued snooze reminder.
	MaxAttempts int
}

const (
	defaultRefillCooldown = 24 * time.Hour
	defaultMaxAttempts    = 3
)

const refillPlain = `Hi {{.Recipient}},

{{.Name}} ({{.Dose}}) is running low: {{.Quantity}} left, refill threshold {{.RefillThreshold}}.
`

const snoozePlain = `Hi {{.Recipient}},

It is time to take {{.Name}} ({{.Dose}}). You snoozed this dose {{.Minutes}} minutes ago.
`

const resetPlain = `Hi {{.Recipient}},

Use this token to choose a new password:

    {{.Token}}

It expires at {{.ExpiresAt}}. If you did not ask for a reset you can ignore this email.
`

var (
	refillTemplate = template.Must(template.New("refill").Parse(refillPlain))
	snoozeTemplate = template.Must(template.New("snooze").Parse(snoozePlain))
	resetTemplate  = template.Must(template.New("reset").Parse(resetPlain))
)

type pendingReminder struct {
	userID       string
	medicationID string
	name         string
	dose         string
	minutes      int
	due          time.Time
	attempts     int
}

// Notifier turns engine signals into emails. Refill alerts and password
// resets are sent immediately; snooze reminders wait in memory until due and
// are delivered by FlushDue.
type Notifier struct {
	sender      Sender
	directory   Directory
	refills     *cooldown
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingReminder
}

var (
	_ application.NotificationSignal = (*Notifier)(nil)
	_ application.ResetMailer        = (*Notifier)(nil)
)

// NewNotifier constructs a Notifier.
func NewNotifier(sender Sender, directory Directory, cfg Config, now func() time.Time, logger *slog.Logger) *Notifier {
	if sender == nil {
		sender = NewLogSender(logger)
	}
	if cfg.RefillCooldown <= 0 {
		cfg.RefillCooldown = defaultRefillCooldown
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender:      sender,
		directory:   directory,
		refills:     newCooldown(cfg.RefillCooldown, 0, now),
		maxAttempts: cfg.MaxAttempts,
		now:         now,
		logger:      logger,
		pending:     make(map[string]pendingReminder),
	}
}

func (n *Notifier) loggerFor(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, n.logger).With("component", "notifier")
}

// SignalRefillAlert emails the owner that the medication is running low. A
// second alert for the same medication inside the cooldown is dropped.
func (n *Notifier) SignalRefillAlert(ctx context.Context, medication application.Medication) error {
	if !n.refills.Allow(medication.ID) {
		n.loggerFor(ctx).DebugContext(ctx, "refill alert suppressed", "medication_id", medication.ID)
		return nil
	}
	user, err := n.recipient(ctx, medication.UserID)
	if err != nil {
		n.refills.Reset(medication.ID)
		return err
	}
	body, err := render(refillTemplate, map[string]any{
		"Recipient":       recipientName(user),
		"Name":            medication.Name,
		"Dose":            medication.Dose,
		"Quantity":        medication.Quantity,
		"RefillThreshold": medication.RefillThreshold,
	})
	if err != nil {
		return err
	}
	err = n.sender.Send(ctx, Message{
		ToName:  user.DisplayName,
		To:      user.Email,
		Subject: fmt.Sprintf("Refill %s soon", medication.Name),
		Body:    body,
	})
	if err != nil {
		n.refills.Reset(medication.ID)
		return err
	}
	n.loggerFor(ctx).InfoContext(ctx, "refill alert sent", "medication_id", medication.ID, "quantity", medication.Quantity)
	return nil
}

// SignalSnoozeReminder queues a reminder due minutes from now. A newer snooze
// of the same medication replaces the queued one.
func (n *Notifier) SignalSnoozeReminder(ctx context.Context, medication application.Medication, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("snooze minutes must be positive, got %d", minutes)
	}
	reminder := pendingReminder{
		userID:       medication.UserID,
		medicationID: medication.ID,
		name:         medication.Name,
		dose:         medication.Dose,
		minutes:      minutes,
		due:          n.now().Add(time.Duration(minutes) * time.Minute),
	}
	n.mu.Lock()
	n.pending[medication.ID] = reminder
	n.mu.Unlock()

	n.loggerFor(ctx).DebugContext(ctx, "snooze reminder queued", "medication_id", medication.ID, "due", reminder.due)
	return nil
}

// SendPasswordReset emails a reset token to user.
func (n *Notifier) SendPasswordReset(ctx context.Context, user application.User, token string, expiresAt time.Time) error {
	body, err := render(resetTemplate, map[string]any{
		"Recipient": recipientName(user),
		"Token":     token,
		"ExpiresAt": expiresAt.In(userLocation(user)).Format(time.RFC1123),
	})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		ToName:  user.DisplayName,
		To:      user.Email,
		Subject: "Reset your MedReminder password",
		Body:    body,
	})
}

// Pending returns the number of queued snooze reminders.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// FlushDue delivers every queued reminder whose due instant has passed and
// reports how many were sent. Failed deliveries stay queued until they
// exhaust their attempts.
func (n *Notifier) FlushDue(ctx context.Context) (int, error) {
	now := n.now()

	n.mu.Lock()
	due := make([]pendingReminder, 0, len(n.pending))
	for id, reminder := range n.pending {
		if !reminder.due.After(now) {
			due = append(due, reminder)
			delete(n.pending, id)
		}
	}
	n.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })

	var (
		sent int
		errs []error
	)
	for _, reminder := range due {
		if err := ctx.Err(); err != nil {
			n.requeue(reminder)
			errs = append(errs, err)
			continue
		}
		if err := n.deliverSnooze(ctx, reminder); err != nil {
			reminder.attempts++
			if reminder.attempts < n.maxAttempts {
				n.requeue(reminder)
			} else {
				n.loggerFor(ctx).WarnContext(ctx, "snooze reminder dropped", "medication_id", reminder.medicationID, "error", err)
			}
			errs = append(errs, fmt.Errorf("snooze reminder %s: %w", reminder.medicationID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (n *Notifier) requeue(reminder pendingReminder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, replaced := n.pending[reminder.medicationID]; !replaced {
		n.pending[reminder.medicationID] = reminder
	}
}

func (n *Notifier) deliverSnooze(ctx context.Context, reminder pendingReminder) error {
	user, err := n.recipient(ctx, reminder.userID)
	if err != nil {
		return err
	}
	body, err := render(snoozeTemplate, map[string]any{
		"Recipient": recipientName(user),
		"Name":      reminder.name,
		"Dose":      reminder.dose,
		"Minutes":   reminder.minutes,
	})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		ToName:  user.DisplayName,
		To:      user.Email,
		Subject: fmt.Sprintf("Reminder: %s", reminder.name),
		Body:    body,
	})
}

func (n *Notifier) recipient(ctx context.Context, userID string) (application.User, error) {
	if n.directory == nil {
		return application.User{}, errors.New("notifier has no user directory")
	}
	user, err := n.directory.GetUser(ctx, userID)
	if err != nil {
		return application.User{}, fmt.Errorf("look up recipient %s: %w", userID, err)
	}
	if user.Email == "" {
		return application.User{}, fmt.Errorf("recipient %s has no email address", userID)
	}
	return user, nil
}

func recipientName(user application.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Email
}

func userLocation(user application.User) *time.Location {
	if user.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("while templating %s email: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
