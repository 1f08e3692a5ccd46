package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"turbo-rpc/codec"
	"turbo-rpc/dispatch"
	"turbo-rpc/internal/demo"
	"turbo-rpc/metrics"
	"turbo-rpc/middleware"
	"turbo-rpc/server"
)

type serveOptions struct {
	addr            string
	udpAddr         string
	codec           string
	logLevel        string
	dev             bool
	callTimeout     time.Duration
	rate            float64
	burst           int
	heartbeat       time.Duration
	shutdownTimeout time.Duration
}

func serveCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo handlers",
		Long: `Serve the demo handlers over WebSocket at /turbocharger_socket,
expose Prometheus metrics at /metrics and, with --udp, serve the
same handlers on a UDP socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&opts.udpAddr, "udp", "", "UDP listen address (disabled when empty)")
	cmd.Flags().StringVar(&opts.codec, "codec", "cbor", "Payload codec: cbor or json")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "Human-readable development logging")
	cmd.Flags().DurationVar(&opts.callTimeout, "call-timeout", 30*time.Second, "Timeout for unary handlers (0 disables)")
	cmd.Flags().Float64Var(&opts.rate, "rate", 0, "Calls per second allowed across all connections (0 disables)")
	cmd.Flags().IntVar(&opts.burst, "burst", 100, "Rate limiter burst")
	cmd.Flags().DurationVar(&opts.heartbeat, "heartbeat", 30*time.Second, "WebSocket keep-alive interval")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "Grace period for open sessions on shutdown")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger(opts.logLevel, opts.dev)
	if err != nil {
		return err
	}
	defer logger.Sync()

	codecType, ok := codec.ParseCodecType(opts.codec)
	if !ok {
		return fmt.Errorf("unknown codec %q", opts.codec)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.WithRegistry(reg))

	table := dispatch.NewTable(codec.GetCodec(codecType))
	table.Use(
		middleware.RecoverMiddleware(logger),
		middleware.TracingMiddleware(),
		middleware.MetricsMiddleware(m),
		middleware.LoggingMiddleware(logger),
	)
	if opts.callTimeout > 0 {
		table.Use(middleware.TimeOutMiddleware(opts.callTimeout))
	}
	if opts.rate > 0 {
		table.Use(middleware.RateLimitMiddleware(opts.rate, opts.burst))
	}
	if err := demo.Register(table); err != nil {
		return err
	}

	srv := server.New(table,
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithHeartbeat(opts.heartbeat),
	)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Handle(server.DefaultPath, srv)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", opts.addr), zap.String("path", server.DefaultPath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if opts.udpAddr != "" {
		g.Go(func() error {
			return srv.ListenUDP(ctx, opts.udpAddr)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
		defer cancel()
		// Hijacked sockets are not tracked by http.Server, so close them through the runtime.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("sessions did not finish", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
