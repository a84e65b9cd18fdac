package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aspis-finance/treasury/api/config"
	"github.com/aspis-finance/treasury/api/handlers"
	"github.com/aspis-finance/treasury/api/metrics"
	"github.com/aspis-finance/treasury/utils/pkg/logger"
	"github.com/aspis-finance/treasury/vault/pkg/audit"
	"github.com/aspis-finance/treasury/vault/pkg/vault"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "Enable pprof server")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on for API requests")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	noPostgresFlag := flag.Bool("no-postgres", false, "Run without Postgres; events are logged but not persisted")
	allowUnsignedFlag := flag.Bool("allow-unsigned", false, "Trust actor headers without signature verification (development only)")
	rateLimitFlag := flag.Float64("rate-limit", 0, "Mutating requests per second per client IP (0 disables limiting)")
	rateBurstFlag := flag.Int("rate-burst", 10, "Burst size for the per-IP rate limit")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for in-flight requests during graceful shutdown")

	flag.Parse()

	// Best effort; environment variables win over .env contents.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	handlers.Version, handlers.Commit, handlers.Date = version, commit, date
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	var auditStore *audit.Store
	if !*noPostgresFlag {
		if err := config.LoadPostgres(log); err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer config.ClosePostgres()

		var err error
		auditStore, err = audit.NewStore(audit.StoreConfig{
			Logger: log,
			Pool:   config.PgPool,
		})
		if err != nil {
			return fmt.Errorf("failed to create audit store: %w", err)
		}
	} else {
		log.Warn("running without postgres, events will not be persisted")
	}

	vaultCfg := vault.Config{Logger: log}
	if auditStore != nil {
		vaultCfg.Sink = auditStore
	}
	treasury, err := vault.New(vaultCfg)
	if err != nil {
		return fmt.Errorf("failed to create treasury: %w", err)
	}

	api, err := handlers.New(handlers.Config{
		Logger:        log,
		Treasury:      treasury,
		Audit:         auditStore,
		AllowUnsigned: *allowUnsignedFlag,
		RateLimit:     rate.Limit(*rateLimitFlag),
		RateBurst:     *rateBurstFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create API: %w", err)
	}
	if *allowUnsignedFlag {
		log.Warn("signature verification disabled, actor headers are trusted as-is")
	}

	g, gctx := errgroup.WithContext(ctx)

	apiServer := &http.Server{
		Addr:    *listenAddrFlag,
		Handler: api.Router(),
	}
	g.Go(func() error {
		log.Info("API server listening", "address", *listenAddrFlag, "version", version)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if *metricsAddrFlag != "" {
		listener, err := net.Listen("tcp", *metricsAddrFlag)
		if err != nil {
			return fmt.Errorf("failed to start prometheus metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux}
		g.Go(func() error {
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining in-flight requests", "timeout", *shutdownTimeoutFlag)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeoutFlag)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("error shutting down API server", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error("error shutting down metrics server", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("treasury API shut down")
	return nil
}
