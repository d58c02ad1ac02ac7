package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/acme/truckair/dashboard/pkg/clickhouse"
	"github.com/acme/truckair/dashboard/pkg/handlers"
	"github.com/acme/truckair/dashboard/pkg/influx"
	"github.com/acme/truckair/dashboard/pkg/logger"
	"github.com/acme/truckair/dashboard/pkg/metrics"
	"github.com/acme/truckair/dashboard/pkg/trucktelem"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"

	shuttingDown atomic.Bool
)

const (
	defaultListenPort  = "8080"
	defaultMetricsAddr = "0.0.0.0:0"

	backendInflux     = "influx"
	backendClickHouse = "clickhouse"
	backendMock       = "mock"
)

// executor is a store backend the service can query and the process must close.
type executor interface {
	trucktelem.Executor
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	portFlag := flag.String("port", defaultListenPort, "HTTP server port (or set PORT env var)")
	migrationsEnableFlag := flag.Bool("migrations-enable", false, "enable ClickHouse migrations on startup")
	migrationsStatusFlag := flag.Bool("migrations-status", false, "print ClickHouse migration status and exit")

	backendFlag := flag.String("store-backend", backendInflux, "Time-series store: influx, clickhouse or mock (or set STORE_BACKEND env var)")
	measurementFlag := flag.String("measurement", trucktelem.DefaultMeasurement, "Measurement (table) holding truck readings (or set MEASUREMENT env var)")
	titleFlag := flag.String("title", handlers.DefaultTitle, "Dashboard title (or set DASH_TITLE env var)")
	refreshFlag := flag.Duration("refresh-interval", handlers.DefaultRefreshInterval, "Dashboard refresh interval (or set APP_REFRESH_MS env var)")

	// InfluxDB configuration
	influxURLFlag := flag.String("influx-url", "", "InfluxDB 3 URL (or set INFLUX_URL env var)")
	influxTokenFlag := flag.String("influx-token", "", "InfluxDB token (or set INFLUX_TOKEN env var)")
	influxOrgFlag := flag.String("influx-org", "", "InfluxDB organization (or set INFLUX_ORG env var)")
	influxBucketFlag := flag.String("influx-bucket", "", "InfluxDB bucket/database (or set INFLUX_BUCKET env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse server address (e.g., localhost:9000, or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	flag.Parse()

	// godotenv does not override existing env vars, so process env and
	// explicit exports take precedence.
	_ = godotenv.Load()
	_ = godotenv.Load("dashboard/.env")

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		*backendFlag = v
	}
	if os.Getenv("MOCK_STORE") == "true" {
		*backendFlag = backendMock
	}
	if v := os.Getenv("MEASUREMENT"); v != "" {
		*measurementFlag = v
	}
	if v := os.Getenv("DASH_TITLE"); v != "" {
		*titleFlag = v
	}
	if v := os.Getenv("APP_REFRESH_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("invalid APP_REFRESH_MS %q", v)
		}
		*refreshFlag = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("PORT"); v != "" {
		*portFlag = v
	}

	if v := os.Getenv("INFLUX_URL"); v != "" {
		*influxURLFlag = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		*influxTokenFlag = v
	}
	if v := os.Getenv("INFLUX_ORG"); v != "" {
		*influxOrgFlag = v
	}
	if v := os.Getenv("INFLUX_BUCKET"); v != "" {
		*influxBucketFlag = v
	}

	if v := os.Getenv("CLICKHOUSE_ADDR_TCP"); v != "" {
		*clickhouseAddrFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		*clickhouseDatabaseFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_USERNAME"); v != "" {
		*clickhouseUsernameFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		*clickhousePasswordFlag = v
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	log := logger.New(*verboseFlag)

	log.Info("dashboard starting",
		"version", version,
		"commit", commit,
		"date", date,
		"store_backend", *backendFlag,
		"measurement", *measurementFlag)

	sentryDSN := os.Getenv("SENTRY_DSN")
	if sentryDSN != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		release := version
		if commit != "none" {
			release = version + "-" + commit
		}
		tracesSampleRate := 0.1
		if sentryEnv == "development" {
			tracesSampleRate = 1.0
		}
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			Environment:      sentryEnv,
			Release:          release,
			EnableTracing:    true,
			TracesSampleRate: tracesSampleRate,
		})
		if err != nil {
			log.Warn("sentry initialization failed", "error", err)
			sentryDSN = ""
		} else {
			log.Info("sentry initialized", "env", sentryEnv, "release", release)
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chCfg := clickhouse.ClientConfig{
		Logger:   log,
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}

	if *migrationsStatusFlag {
		if err := clickhouse.MigrationStatus(ctx, log, chCfg); err != nil {
			return fmt.Errorf("failed to get ClickHouse migration status: %w", err)
		}
		return nil
	}

	var (
		store   executor
		dialect trucktelem.Dialect = trucktelem.InfluxSQL{}
	)
	switch *backendFlag {
	case backendInflux:
		client, err := influx.NewClient(influx.ClientConfig{
			Logger:       log,
			Host:         *influxURLFlag,
			Token:        *influxTokenFlag,
			Organization: *influxOrgFlag,
			Database:     *influxBucketFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create InfluxDB client: %w", err)
		}
		store = client
	case backendClickHouse:
		if *migrationsEnableFlag {
			if err := clickhouse.RunMigrations(ctx, log, chCfg); err != nil {
				return fmt.Errorf("failed to run ClickHouse migrations: %w", err)
			}
		}
		client, err := clickhouse.NewClient(ctx, chCfg)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		store = client
		dialect = trucktelem.ClickHouseSQL{}
	case backendMock:
		log.Warn("using synthetic fleet instead of a real store")
		store = influx.NewMockClient(influx.MockClientConfig{
			Logger: log,
			Clock:  clockwork.NewRealClock(),
		})
	default:
		return fmt.Errorf("unknown store backend %q (expected %s, %s or %s)",
			*backendFlag, backendInflux, backendClickHouse, backendMock)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close store", "error", err)
		}
	}()

	svc, err := trucktelem.NewService(trucktelem.ServiceConfig{
		Logger:      log,
		Executor:    store,
		Dialect:     dialect,
		Measurement: *measurementFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create telemetry service: %w", err)
	}

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	h, err := handlers.New(handlers.Config{
		Logger:          log,
		Telemetry:       svc,
		Clock:           clockwork.NewRealClock(),
		Title:           *titleFlag,
		RefreshInterval: *refreshFlag,
		CORSOrigins:     corsOrigins,
		EnableSentry:    sentryDSN != "",
		Ready:           func() bool { return !shuttingDown.Load() },
	})
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}

	var metricsServer *http.Server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", *metricsAddrFlag)
		if err != nil {
			log.Error("failed to start prometheus metrics server listener", "error", err)
			return err
		}
		log.Info("prometheus metrics server listening", "address", listener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux}
		go func() {
			if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         ":" + *portFlag,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Info("dashboard server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal, shutting down gracefully")
	case err := <-serverErrCh:
		log.Error("server error", "error", err)
		return err
	}

	shuttingDown.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown error", "error", err)
	} else {
		log.Info("server stopped gracefully")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", "error", err)
		}
	}
	return nil
}
