package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	Auth        *AuthHandler
	Profile     *ProfileHandler
	Medications *MedicationHandler
	Doses       *DoseHandler
	History     *HistoryHandler
	Sessions    SessionValidator
	// AllowedOrigins enables CORS for browser clients. Empty disables it.
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", sessionHeader},
			ExposedHeaders:   []string{sessionHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if cfg.Auth != nil {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", cfg.Auth.SignUp)
			r.Post("/signin", cfg.Auth.SignIn)
			r.Post("/signout", cfg.Auth.SignOut)
			r.Post("/password-reset", cfg.Auth.RequestPasswordReset)
			r.Post("/password-reset/confirm", cfg.Auth.ConfirmPasswordReset)
		})
	}

	if cfg.Sessions == nil {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(cfg.Sessions, cfg.Logger))

		if cfg.Profile != nil {
			r.Get("/profile", cfg.Profile.Get)
			r.Put("/profile", cfg.Profile.Update)
		}

		if cfg.Medications != nil {
			r.Route("/medications", func(r chi.Router) {
				r.Get("/", cfg.Medications.List)
				r.Post("/", cfg.Medications.Create)
				r.Put("/{medicationID}", cfg.Medications.Update)
				r.Delete("/{medicationID}", cfg.Medications.Delete)
			})
		}

		if cfg.Doses != nil {
			r.Route("/doses", func(r chi.Router) {
				r.Get("/today", cfg.Doses.Today)
				r.Post("/{medicationID}/{scheduleID}/taken", cfg.Doses.Taken)
				r.Post("/{medicationID}/{scheduleID}/missed", cfg.Doses.Missed)
				r.Post("/{medicationID}/{scheduleID}/snooze", cfg.Doses.Snooze)
			})
		}

		if cfg.History != nil {
			r.Get("/history", cfg.History.List)
			r.Get("/export", cfg.History.Export)
			r.Post("/import", cfg.History.Import)
		}
	})

	return r
}
