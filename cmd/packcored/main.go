// Command packcored runs the booster-pack marketplace server: the HTTP API,
// the metrics endpoint, and an in-process oracle delivering randomness back
// to the purchase coordinator.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"packcore/internal/adapters/httpapi"
	"packcore/internal/adapters/metadata"
	"packcore/internal/core"
	"packcore/internal/event"
	"packcore/internal/oracle"
	"packcore/pkg/domain"
)

type serverConfig struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8080"`
	OraclePrincipal string        `envconfig:"ORACLE_PRINCIPAL" default:"oracle"`
	MinterAuthority string        `envconfig:"MINTER_AUTHORITY"`
	VRFKey          string        `envconfig:"VRF_KEY" default:"packcore-dev"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg serverConfig
	if err := envconfig.Process("packcore", &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	meta, err := metadata.Open(context.Background())
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}

	bus := event.NewBus(registry, logger)
	defer bus.Stop()

	source := oracle.NewLocal(
		domain.Address(cfg.OraclePrincipal),
		oracle.WithVRFKey([]byte(cfg.VRFKey)),
		oracle.WithLogger(logger),
	)

	opts := []core.Option{
		core.WithLogger(slogAdapter{logger}),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(registry)),
		core.WithEventSink(event.NewSink(bus)),
		core.WithOracle(source, source.Principal()),
	}
	if cfg.MinterAuthority != "" {
		opts = append(opts, core.WithMinterAuthority(domain.Address(cfg.MinterAuthority)))
	}
	svc := core.NewService(store, opts...)

	// The local oracle delivers straight back into the coordinator.
	source.SetHandler(func(ctx context.Context, caller domain.Address, requestID domain.RequestID, seed *big.Int) error {
		_, _, err := svc.HandleRandomness(ctx, caller, requestID, seed)
		return err
	})
	// Deliver pending randomness shortly after each purchase lands.
	bus.SubscribeFunc(event.EventType(core.EventPackOrdered), func(evt event.Event) {
		ordered, ok := evt.Data.(domain.PurchaseOrdered)
		if !ok {
			return
		}
		if err := source.Deliver(context.Background(), ordered.RequestID); err != nil {
			logger.Warn("randomness delivery failed", "request_id", string(ordered.RequestID), "error", err)
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", httpapi.NewHandler(svc, meta))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}
	return nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// slogAdapter bridges *slog.Logger to the service logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
