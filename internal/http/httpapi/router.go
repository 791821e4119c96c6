package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"pixelbot/internal/http/handlers"
	"pixelbot/internal/infra/geoip"
	"pixelbot/internal/middleware"
)

// Options configures the router's middleware chain.
type Options struct {
	Logger             zerolog.Logger
	Countries          geoip.CountryResolver
	RateLimitPerMinute int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger, opts.Countries),
	)

	// The webhook carries the bot's traffic; the rate limit shields it from
	// direct abuse without bothering Telegram's relay.
	r.Group(func(r chi.Router) {
		if opts.RateLimitPerMinute > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMinute, time.Minute))
		}
		r.Post("/webhook", app.Webhook)
	})

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/stats", app.StatsSummary)

	return r
}
