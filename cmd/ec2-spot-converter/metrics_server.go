package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/ec2-spot-converter/pkg/log"
	"github.com/cuemby/ec2-spot-converter/pkg/metrics"
)

// serveMetrics starts a best-effort Prometheus endpoint for the lifetime of a
// single conversion run and returns a func to shut it down. Failures to bind
// are logged, not fatal: a run should never abort because metrics scraping
// couldn't start.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Warn().Err(err).Str("addr", addr).Msg("metrics server exited")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("serving Prometheus metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
