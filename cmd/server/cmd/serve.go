package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/api"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/auth"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/cleanup"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/config"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/logging"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/metrics"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/middleware"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/ratelimit"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/retry"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/shutdown"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/store"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/tls"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/tracing"
)

const serviceName = "orders"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the pending-order reconciliation loop",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.Int("port", 8080, "HTTP listen port")
	f.String("db-type", "sqlite", "store backend: memory, sqlite or postgres")
	f.String("db-dsn", "orders.db", "SQLite path or PostgreSQL DSN")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.Bool("log-json", false, "emit JSON log lines")
	f.String("log-file", "", "also write logs to this file")
	f.String("tls-cert-file", "", "serve HTTPS with this PEM certificate")
	f.String("tls-key-file", "", "PEM private key for --tls-cert-file")
	f.String("tls-client-ca-file", "", "require client certificates signed by this CA")
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		return logging.NewFileLogger(cfg.LogFile, level, cfg.LogJSON)
	}
	return logging.NewLogger(level, cfg.LogJSON), nil
}

func newKeyStore(cfg *config.Config, logger *logging.Logger) (*auth.KeyStore, error) {
	ks := auth.NewKeyStore(0)
	for _, k := range cfg.APIKeys {
		if err := ks.Register(k.ID, k.Tenant, models.Role(k.Role), k.Hash); err != nil {
			return nil, fmt.Errorf("api key %s: %w", k.ID, err)
		}
	}

	if ks.Len() == 0 {
		token, err := ks.Issue("default", models.RoleAdmin)
		if err != nil {
			return nil, err
		}
		logger.Warn("No API keys configured, issued a bootstrap admin key for tenant default", logging.Fields{
			"token": token,
		})
	}
	return ks, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	shut := shutdown.New(cfg.ShutdownTimeout(), logger)

	st, err := retry.Value(shut.Context(), retry.DefaultConfig(), func(err error, wait time.Duration) {
		logger.Warn("Store not ready, retrying", logging.Fields{"error": err, "wait": wait.String()})
	}, func() (store.Store, error) {
		s, err := store.NewStore(store.Config{Type: cfg.DBType, DSN: cfg.DBDSN})
		if errors.Is(err, store.ErrUnsupportedDatabase) {
			return nil, retry.Permanent(err)
		}
		return s, err
	})
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.DBType, err)
	}
	shut.Register("store", shutdown.CloseResource(st))
	logger.Info("Store ready", logging.Fields{"type": cfg.DBType})

	tp, err := tracing.InitTracer(tracing.Config{
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TracingEnabled,
	}, logger)
	if err != nil {
		return err
	}
	shut.Register("tracing", tp.Shutdown)

	ks, err := newKeyStore(cfg, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	chain := []middleware.Middleware{middleware.Authenticate(ks, "/health")}
	if cfg.RateLimitRPS > 0 {
		chain = append(chain, limiter.Middleware(ratelimit.TenantKeyFunc))
	}
	guardCfg := middleware.GuardConfig{
		Timeout:    cfg.RequestTimeout(),
		Classifier: apperr.NewClassifier(cfg.BusinessRuleStatus),
		Logger:     logger.WithComponent("guard"),
		Observer:   m,
	}
	wrap := func(h middleware.Handler) http.Handler {
		return middleware.Guard(guardCfg, middleware.Chain(h, chain...))
	}

	router := mux.NewRouter()
	api.NewOrderHandler(st).RegisterRoutes(router, wrap)
	if cfg.MetricsEnabled {
		router.Handle("/metrics", m.Handler()).Methods("GET")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           middleware.Stack(router, middleware.AccessLog(logger), m.Middleware, tracing.HTTPMiddleware(tp)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLS().Enabled() {
		srv.TLSConfig, err = tls.LoadServerConfig(cfg.TLS())
		if err != nil {
			return err
		}
	}
	shut.Register("http server", shutdown.StopHTTPServer(srv))

	reconciler := cleanup.NewManager(cfg.ExpiryPolicy(), st, logger)
	reconciler.SetObserver(m)

	g, ctx := errgroup.WithContext(shut.Context())

	g.Go(func() error {
		logger.Info("Listening", logging.Fields{
			"addr":            srv.Addr,
			"tls":             srv.TLSConfig != nil,
			"request_timeout": cfg.RequestTimeout().String(),
		})
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return reconciler.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				limiter.CleanupOldLimiters(30 * time.Minute)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		return shut.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server exited with error", logging.Fields{"error": err})
		return err
	}
	return nil
}
