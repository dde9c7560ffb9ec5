package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"go.tigermatt.uk/hil/dispatch"
)

func soakCommand(a *app) *cobra.Command {
	var (
		count       int
		illuminator bool
	)

	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Ping the bench repeatedly and serve exchange metrics",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			a.metrics = dispatch.NewMetrics(reg)

			b, err := a.bench(true, illuminator)
			if err != nil {
				return err
			}
			defer b.Close()

			srv := &http.Server{
				Addr:              a.cfg.Soak.MetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.Error("metrics server", zap.Error(err))
				}
			}()
			defer srv.Close()
			a.log.Info("serving metrics", zap.String("addr", srv.Addr))

			ctx, stop := listenStop()
			defer stop()

			s := soaker{bench: b, log: a.log, illuminator: illuminator}
			err = s.run(ctx, rate.NewLimiter(rate.Every(a.cfg.Soak.Interval), 1), count)
			fmt.Printf("%d rounds, %d failed\n", s.rounds, s.failed)
			return err
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many rounds (0 runs until interrupted)")
	cmd.Flags().BoolVar(&illuminator, "illuminator", false, "Ping the device under test too")

	return cmd
}

type soaker struct {
	bench       *dispatch.Bench
	log         *zap.Logger
	illuminator bool

	rounds, failed int
}

func (s *soaker) run(ctx context.Context, limiter *rate.Limiter, count int) error {
	for count <= 0 || s.rounds < count {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.rounds++

		if _, err := s.bench.HIL.Ping(ctx); err != nil {
			s.failed++
			s.log.Warn("hil ping failed", zap.Int("round", s.rounds), zap.Error(err))
			continue
		}
		if s.illuminator {
			if err := s.bench.Illuminator.Ping(ctx); err != nil {
				s.failed++
				s.log.Warn("illuminator ping failed", zap.Int("round", s.rounds), zap.Error(err))
			}
		}
	}
	return nil
}
