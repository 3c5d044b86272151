// Package metrics records per-phase timings and result counters of a run.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown metrics backend")

// Recorder receives engine measurements.
type Recorder interface {
	// Observe records one operation outcome and its duration.
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	// Add increments a named counter.
	Add(counter string, n int)
}

// Backend names a Recorder implementation.
type Backend string

const (
	BackendNone       Backend = "none"
	BackendPrometheus Backend = "prometheus"
	BackendExpvar     Backend = "expvar"
)

// Config selects a backend and where it is served.
type Config struct {
	Backend Backend `toml:"backend"`
	// Listen is the address of the HTTP endpoint; empty disables serving.
	Listen string `toml:"listen"`
	// Name is the expvar key or the prometheus namespace.
	Name string `toml:"name"`
}

// New returns the Recorder described by cfg together with the HTTP handler
// exposing it (nil for the none backend).
func New(cfg Config) (Recorder, http.Handler, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return Noop{}, nil, nil
	case BackendPrometheus:
		r := NewPrometheus(cfg.Name)
		return r, r.Handler(), nil
	case BackendExpvar:
		r := NewExpvar(cfg.Name)
		return r, r.Handler(), nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) Observe(context.Context, string, bool, time.Duration) {}

func (Noop) Add(string, int) {}

// Serve exposes h on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
