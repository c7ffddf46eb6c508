package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store selects the persistence backend.
type Store string

const (
	StoreSQLite    Store = "sqlite"
	StoreMemory    Store = "memory"
	StoreFirestore Store = "firestore"
)

const envPrefix = "MEDREMINDER_"

// Config captures environment driven configuration values for the reminder service.
type Config struct {
	HTTPPort         int
	Store            Store
	SQLiteDSN        string
	FirestoreProject string
	SessionTTL       time.Duration
	DefaultTimezone  string
	DefaultLocation  *time.Location
	HistoryLimit     int
	SendGridAPIKey   string
	NotifyFrom       string
	RefillCooldown   time.Duration
	AllowedOrigins   []string
	LogLevel         slog.Level
}

// Load reads an optional .env file from the working directory and then
// parses the process environment.
func Load() (Config, error) {
	return LoadFiles(".env")
}

// LoadFiles loads the given dotenv files, skipping ones that do not exist,
// and parses the resulting environment. Variables already set in the process
// environment win over file values.
func LoadFiles(paths ...string) (Config, error) {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return FromEnv()
}

// FromEnv parses configuration values from the current process environment.
//
// Defaults apply to optional fields. Every missing or invalid variable is
// collected so a single error reports all of them.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPPort:        8080,
		Store:           StoreSQLite,
		SQLiteDSN:       "file:medreminder.db?_pragma=foreign_keys(1)",
		SessionTTL:      720 * time.Hour,
		DefaultTimezone: "UTC",
		DefaultLocation: time.UTC,
		HistoryLimit:    100,
		NotifyFrom:      "MedReminder <reminders@medreminder.local>",
		RefillCooldown:  24 * time.Hour,
		LogLevel:        slog.LevelInfo,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if portValue := lookup("HTTP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, envPrefix+"HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if storeValue := lookup("STORE"); storeValue != "" {
		switch store := Store(strings.ToLower(storeValue)); store {
		case StoreSQLite, StoreMemory, StoreFirestore:
			cfg.Store = store
		default:
			invalid = append(invalid, envPrefix+"STORE")
		}
	}

	if dsn := lookup("SQLITE_DSN"); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	cfg.FirestoreProject = lookup("FIRESTORE_PROJECT")
	if cfg.Store == StoreFirestore && cfg.FirestoreProject == "" {
		missing = append(missing, envPrefix+"FIRESTORE_PROJECT")
	}

	if ttlValue := lookup("SESSION_TTL"); ttlValue != "" {
		ttl, err := time.ParseDuration(ttlValue)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, envPrefix+"SESSION_TTL")
		} else {
			cfg.SessionTTL = ttl
		}
	}

	if tz := lookup("DEFAULT_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			invalid = append(invalid, envPrefix+"DEFAULT_TIMEZONE")
		} else {
			cfg.DefaultTimezone = tz
			cfg.DefaultLocation = loc
		}
	}

	if limitValue := lookup("HISTORY_LIMIT"); limitValue != "" {
		limit, err := strconv.Atoi(limitValue)
		if err != nil || limit <= 0 {
			invalid = append(invalid, envPrefix+"HISTORY_LIMIT")
		} else {
			cfg.HistoryLimit = limit
		}
	}

	cfg.SendGridAPIKey = lookup("SENDGRID_API_KEY")

	if from := lookup("NOTIFY_FROM"); from != "" {
		if _, err := mail.ParseAddress(from); err != nil {
			invalid = append(invalid, envPrefix+"NOTIFY_FROM")
		} else {
			cfg.NotifyFrom = from
		}
	}

	if cooldownValue := lookup("REFILL_COOLDOWN"); cooldownValue != "" {
		cooldown, err := time.ParseDuration(cooldownValue)
		if err != nil || cooldown <= 0 {
			invalid = append(invalid, envPrefix+"REFILL_COOLDOWN")
		} else {
			cfg.RefillCooldown = cooldown
		}
	}

	if origins := lookup("CORS_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if levelValue := lookup("LOG_LEVEL"); levelValue != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(levelValue)); err != nil {
			invalid = append(invalid, envPrefix+"LOG_LEVEL")
		}
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", ")))
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func lookup(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}
