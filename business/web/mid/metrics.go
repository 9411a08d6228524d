package mid

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/ledger/foundation/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics updates program counters for every request that passes through
// the application. The collectors are registered against the provided
// registry once, when the middleware is constructed.
func Metrics(registry prometheus.Registerer) web.Middleware {
	factory := promauto.With(registry)

	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of requests handled by the public api.",
	}, []string{"method", "code"})

	errors := factory.NewCounter(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "http",
		Name:      "errors_total",
		Help:      "Number of requests that returned an error.",
	})

	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ledger",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time taken to handle a request.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			start := time.Now()

			// Call the next handler.
			err := handler(ctx, w, r)

			// Errors are turned into responses further up the chain so the
			// status code is not known yet.
			code := "error"
			if v, verr := web.GetValues(ctx); verr == nil && err == nil {
				code = strconv.Itoa(v.StatusCode)
			}

			requests.WithLabelValues(r.Method, code).Inc()
			duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			if err != nil {
				errors.Inc()
			}

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return m
}
