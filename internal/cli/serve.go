package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/config"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/logger"
	"github.com/SmitUplenchwar2687/pacer/internal/metrics"
	"github.com/SmitUplenchwar2687/pacer/internal/recorder"
	"github.com/SmitUplenchwar2687/pacer/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		recordFile string
		lo         limiterOptions
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP server over a shared limiter",
		Long: `Starts an HTTP server that owns one rate limiter. Clients acquire
tokens through the API, report server backoffs and manage hard limits.

Endpoints:
  GET    /                    Server info and current time
  GET    /health              Health check
  GET    /dashboard           Live dashboard
  GET    /api/status          Bucket and hard limit snapshot
  POST   /api/acquire         Acquire tokens (?tokens=N&wait=true&timeout=5s)
  POST   /api/backoff         Apply a Retry-After value
  GET    /api/limits          List hard limits
  PUT    /api/limits/{name}   Install or replace a hard limit
  DELETE /api/limits/{name}   Remove a hard limit
  GET    /metrics             Prometheus metrics
  WS     /ws                  Limiter events`,
		Example: `  pacer serve
  pacer serve --config pacer.yaml --addr :9090
  pacer serve --capacity 5 --refill-rate 0.5 --limit daily:5000:day
  pacer serve --record events.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			lo.applyConfigIfUnset(cmd, cfg.Limiter)
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}

			log, closer, err := logger.Setup(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, serveParams{
				addr:            addr,
				recordFile:      recordFile,
				limiter:         lo,
				readTimeout:     cfg.Server.ReadTimeout,
				writeTimeout:    cfg.Server.WriteTimeout,
				shutdownTimeout: cfg.Server.ShutdownTimeout,
				logger:          log,
				ready:           func(string) {},
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&recordFile, "record", "", "record limiter events to a JSON file (exported on shutdown)")
	lo.addFlags(cmd)

	return cmd
}

type serveParams struct {
	addr            string
	recordFile      string
	limiter         limiterOptions
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	ready           func(addr string)
}

// runServe wires the limiter to its observers and runs the server until ctx
// is done.
func runServe(ctx context.Context, p serveParams) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	hub := server.NewHub(p.logger)
	observers := []limiter.Observer{m, hub}

	var rec *recorder.Recorder
	if p.recordFile != "" {
		rec = recorder.New(nil)
		observers = append(observers, rec)
	}

	lim, err := p.limiter.build(clock.NewRealClock(),
		limiter.WithLogger(p.logger),
		limiter.WithObserver(limiter.Observers(observers...)),
	)
	if err != nil {
		return err
	}
	if err := metrics.RegisterStatus(reg, lim); err != nil {
		return err
	}

	srv := server.New(p.addr, lim,
		server.WithHub(hub),
		server.WithMetrics(metrics.Handler(reg)),
		server.WithLogger(p.logger),
		server.WithTimeouts(p.readTimeout, p.writeTimeout),
	)

	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return err
	}
	p.logger.Info("limiter ready",
		"capacity", lim.Capacity(),
		"refill_rate", lim.RefillRate(),
		"hard_limits", len(lim.HardLimitStatus()),
		"dashboard", fmt.Sprintf("http://%s/dashboard", ln.Addr()))
	p.ready(ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.StartOnListener(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		p.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), p.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if rec != nil {
		p.logger.Info("exporting recorded events", "count", rec.Len(), "file", p.recordFile)
		if exportErr := rec.ExportFile(p.recordFile); exportErr != nil {
			err = errors.Join(err, fmt.Errorf("exporting records: %w", exportErr))
		}
	}
	return err
}
