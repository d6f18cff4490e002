package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"

	"polar-fitness-sync/internal/metrics"
	"polar-fitness-sync/internal/middleware"
	"polar-fitness-sync/internal/session"
)

// RouterConfig holds the HTTP surface settings
type RouterConfig struct {
	Session            session.Config
	CORSAllowedOrigins []string
	RateLimitPerMinute int
}

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	OAuth   *OAuthHandler
	Cron    *CronHandler
	Webhook *WebhookHandler
	API     *APIHandler
	Events  *EventsHandler
	Health  *HealthHandler
}

// NewRouter builds the application's HTTP routes
func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}).Handler)

	ipLimit := rateLimit(cfg.RateLimitPerMinute, httprate.KeyByIP)

	r.With(middleware.Metrics(metrics.EndpointHealth)).Get("/health", h.Health.HandleHealth)

	// Webhooks are signed and arrive in bursts, so they are not limited per IP
	r.With(middleware.Metrics(metrics.EndpointWebhook)).Post("/webhooks/polar", h.Webhook.HandleEvent)

	// Vendor-facing endpoints
	r.Group(func(r chi.Router) {
		r.Use(ipLimit)

		r.With(middleware.Metrics(metrics.EndpointOAuthCallback)).Get("/oauth-callback", h.OAuth.HandleCallback)

		cron := r.With(middleware.Metrics(metrics.EndpointCronSync))
		cron.Get("/cron/sync", h.Cron.HandleSync)
		cron.Post("/cron/sync", h.Cron.HandleSync)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(session.Middleware(cfg.Session))

		// Long polls hold the connection, so they are not rate limited per request
		r.With(middleware.Metrics(metrics.EndpointEvents)).Get("/events", h.Events.HandleEvents)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(cfg.RateLimitPerMinute, keyBySession))
			r.Use(middleware.Metrics(metrics.EndpointAPI))

			r.Get("/polar/authorize", h.OAuth.HandleAuthorize)
			r.Post("/polar/link", h.OAuth.HandleLink)
			r.Delete("/polar/link", h.OAuth.HandleDisconnect)
			r.Post("/polar/physical-info", h.API.HandlePhysicalInfo)

			r.Post("/sync", h.API.HandleSync)
			r.Get("/records/{category}", h.API.HandleRecords)
			r.Get("/achievements", h.API.HandleAchievements)
			r.Get("/rewards", h.API.HandleRewards)
			r.Get("/sleep/{date}/goal", h.API.HandleSleepGoal)
			r.Get("/baseline", h.API.HandleBaseline)

			r.Route("/instructor", func(r chi.Router) {
				r.Use(session.RequireRole(session.RoleInstructor))
				r.Get("/students", h.API.HandleGetStudents)
				r.Put("/students", h.API.HandlePutStudents)
				r.Get("/students/{userId}/records/{category}", h.API.HandleStudentRecords)
			})
		})
	})

	return r
}

// rateLimit allows perMinute requests per key per minute, answering 429 as JSON
func rateLimit(perMinute int, keyFunc httprate.KeyFunc) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondWithError(w, http.StatusTooManyRequests, "Too many requests")
		}),
	)
}

// keyBySession limits authenticated callers per user, falling back to IP
func keyBySession(r *http.Request) (string, error) {
	if s, ok := session.FromContext(r.Context()); ok {
		return "user:" + s.UserID, nil
	}
	return httprate.KeyByIP(r)
}
