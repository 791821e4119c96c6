package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"pixelbot/internal/infra/geoip"
)

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logger emits one structured access line per request. When a country
// resolver is configured the caller's ISO country code is attached, which
// makes webhook traffic from Telegram's relay easy to tell apart from
// direct probes.
func Logger(l zerolog.Logger, countries geoip.CountryResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			evt := l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Dur("duration", time.Since(start))
			if rid := RequestIDFromContext(r.Context()); rid != "" {
				evt = evt.Str("request_id", rid)
			}
			if countries != nil {
				if cc, err := countries.CountryCode(clientIPForRateLimit(r)); err == nil && cc != "" {
					evt = evt.Str("country", cc)
				}
			}
			evt.Msg("http request")
		})
	}
}
