// Package metrics wires up the proxy's Prometheus counters and the
// /metrics HTTP endpoint they're exposed on.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TeardownFlavor labels the teardown counter. TeardownStream is counted
// once for every stream torn down, including both streams of a
// whole-session teardown; TeardownSession is counted once per
// whole-session teardown.
type TeardownFlavor string

const (
	TeardownStream  TeardownFlavor = "stream"
	TeardownSession TeardownFlavor = "session"
)

// Metrics holds every counter the proxy updates while running.
type Metrics struct {
	Accepted               prometheus.Counter
	BackendConnectFailures prometheus.Counter
	BackendSocketFailures  prometheus.Counter
	Rewrites               prometheus.Counter
	RewriteOverflows       prometheus.Counter
	TeardownsTotal         *prometheus.CounterVec
}

// New registers and returns the proxy's counters against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "phishbait_accepted_connections_total",
			Help: "Client connections accepted on the listen socket.",
		}),
		BackendConnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "phishbait_backend_connect_failures_total",
			Help: "Accepted client connections that never reached a connected backend.",
		}),
		BackendSocketFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "phishbait_backend_socket_failures_total",
			Help: "Backend candidate walks that ended with no socket after socket(2) ran out of descriptors or memory.",
		}),
		Rewrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "phishbait_rewrites_total",
			Help: "Requests rewritten to the synthetic phishing-notice form.",
		}),
		RewriteOverflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "phishbait_rewrite_overflows_total",
			Help: "Rewrites abandoned because the synthetic request exceeded the read buffer.",
		}),
		TeardownsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phishbait_teardowns_total",
			Help: "Proxy teardowns: flavor=stream once per stream torn down, flavor=session once per whole-session teardown.",
		}, []string{"flavor"}),
	}
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks until
// ctx is canceled, then shuts the server down.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
