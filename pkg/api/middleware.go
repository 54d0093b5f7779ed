package api

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cuemby/caindex/pkg/metrics"
)

// statusRecorder captures the status code a handler writes, since
// http.ResponseWriter doesn't expose it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps a handler with request logging, panic recovery, and
// the caindex_api_request(s)_* metrics. Every route goes through it; there
// is no read-only enforcement here (§1 Non-goals excludes auth/authz
// entirely, so every route is equally reachable).
func instrument(log zerolog.Logger, name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()

		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("route", name).Msg("handler panicked")
				rec.WriteHeader(http.StatusInternalServerError)
				writeJSON(rec, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
			timer.ObserveDurationVec(metrics.APIRequestDuration, name)
			metrics.APIRequestsTotal.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
			log.Info().Str("route", name).Str("method", r.Method).Int("status", rec.status).
				Dur("duration", timer.Duration()).Msg("handled request")
		}()

		h(rec, r)
	}
}
