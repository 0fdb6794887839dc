package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"medtrack/internal/adherence"
	"medtrack/internal/config"
	"medtrack/internal/http/handler"
	mw "medtrack/internal/http/middleware"
	"medtrack/internal/realtime"
)

type Deps struct {
	Tracker   *adherence.Tracker
	Reminders *adherence.Coordinator
	Profiles  *adherence.Profiles
	Hub       *realtime.Hub
}

func NewRouter(cfg config.Config, d Deps, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger(log))
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: cfg.CORSAllowCredentials,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	medH := &handler.MedicationHandler{Tracker: d.Tracker, Reminders: d.Reminders}
	remH := &handler.ReminderHandler{Reminders: d.Reminders}
	schedH := &handler.ScheduleHandler{Tracker: d.Tracker}
	patH := &handler.PatientHandler{Profiles: d.Profiles}

	r.Route("/medications", func(r chi.Router) {
		r.Get("/", medH.List)
		r.Post("/", medH.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", medH.Get)
			r.Put("/", medH.Update)
			r.Delete("/", medH.Delete)

			r.Post("/doses", medH.LogDose)
			r.Get("/adherence", medH.History)
			r.Get("/adherence/rate", medH.Rate)

			r.Get("/reminders", remH.ForMedication)
			r.Post("/reminders", remH.Schedule)
			r.Delete("/reminders", remH.Cancel)
			r.Post("/reminders/snooze", remH.Snooze)
		})
	})

	r.Get("/reminders", remH.Active)
	r.Post("/reminders/trigger", remH.Trigger)

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", schedH.ForDate)
		r.Get("/next", schedH.Next)
		r.Post("/{id}/take", schedH.Take)
		r.Post("/{id}/skip", schedH.Skip)
	})
	r.Get("/today", schedH.Today)

	r.Get("/patient", patH.Get)
	r.Post("/patient", patH.Create)
	r.Put("/patient", patH.Update)

	if d.Hub != nil {
		feed := &handler.FeedHandler{Tracker: d.Tracker, Hub: d.Hub}
		r.Get("/ws", feed.Serve)
	}

	return r
}
