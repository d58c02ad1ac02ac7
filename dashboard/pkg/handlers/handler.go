package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"

	"github.com/acme/truckair/dashboard/pkg/metrics"
	"github.com/acme/truckair/dashboard/pkg/trucktelem"
)

const (
	DefaultTitle           = "Truck Emissions Dashboard"
	DefaultRefreshInterval = 5 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
)

// Telemetry is the query facade the handlers serve.
type Telemetry interface {
	ListEntities(ctx context.Context) ([]string, error)
	FetchSeries(ctx context.Context, w trucktelem.Window, entities []string) (trucktelem.Frame, error)
	FetchLatestPositions(ctx context.Context, entities []string) ([]trucktelem.PositionRecord, error)
	FetchDashboard(ctx context.Context, w trucktelem.Window, entities []string) trucktelem.Dashboard
}

type Config struct {
	Logger          *slog.Logger
	Telemetry       Telemetry
	Clock           clockwork.Clock
	Title           string
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
	CORSOrigins     []string
	EnableSentry    bool
	// Ready reports whether the server accepts traffic; nil means always.
	Ready func() bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Telemetry == nil {
		return errors.New("telemetry is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return nil
}

type Handler struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handler{log: cfg.Logger, cfg: cfg}, nil
}

// Router wires the dashboard API behind the shared middleware stack.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)

	if h.cfg.EnableSentry {
		sentryHandler := sentryhttp.New(sentryhttp.Options{
			Repanic: true,
		})
		r.Use(sentryHandler.Handle)
		r.Use(sentryTransactionName)
	}

	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/trucks", h.GetTrucks)
		r.Get("/series", h.GetSeries)
		r.Get("/positions", h.GetPositions)
		r.Get("/dashboard", h.GetDashboard)
	})

	return r
}

// sentryTransactionName names transactions after the matched route.
func sentryTransactionName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if txn := sentry.TransactionFromContext(r.Context()); txn != nil {
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					txn.Name = r.Method + " " + pattern
				} else {
					txn.Name = r.Method + " " + r.URL.Path
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Ready != nil && !h.cfg.Ready() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
