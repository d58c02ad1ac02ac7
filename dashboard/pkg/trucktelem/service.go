package trucktelem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/acme/truckair/dashboard/pkg/metrics"
)

const (
	// DefaultEntityLookback is wider than any display window so trucks that
	// report intermittently still show up in the selector.
	DefaultEntityLookback   = 7 * 24 * time.Hour
	DefaultPositionLookback = 24 * time.Hour
)

type ServiceConfig struct {
	Logger           *slog.Logger
	Executor         Executor
	Dialect          Dialect
	Measurement      string
	EntityLookback   time.Duration
	PositionLookback time.Duration
}

func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Dialect == nil {
		cfg.Dialect = InfluxSQL{}
	}
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}
	if cfg.EntityLookback <= 0 {
		cfg.EntityLookback = DefaultEntityLookback
	}
	if cfg.PositionLookback <= 0 {
		cfg.PositionLookback = DefaultPositionLookback
	}
	return nil
}

// Service is the entry point the dashboard refresh cycle calls. It holds no
// mutable state, so calls are independent and may run concurrently as long as
// the Executor allows it.
type Service struct {
	log     *slog.Logger
	cfg     ServiceConfig
	builder *QueryBuilder
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		log:     cfg.Logger,
		cfg:     cfg,
		builder: NewQueryBuilder(cfg.Dialect, cfg.Measurement),
	}, nil
}

// ListEntities returns every truck seen in the entity lookback, sorted and
// deduplicated.
func (s *Service) ListEntities(ctx context.Context) ([]string, error) {
	frame, err := s.run(ctx, s.builder.Entities(s.cfg.EntityLookback))
	if err != nil {
		return nil, err
	}
	entities := frame.Entities()
	slices.Sort(entities)
	return slices.Compact(entities), nil
}

// FetchSeries returns the pollutant time series for the window, restricted to
// entities when it is non-empty. Rows are grouped by metric in co2, hc, co
// order and ascend in time within each group, not across the whole frame.
func (s *Service) FetchSeries(ctx context.Context, w Window, entities []string) (Frame, error) {
	return s.run(ctx, s.builder.Series(w, entities))
}

// FetchLatestPositions joins the fleet's latest positions with its latest
// pollutant readings. Both queries always cover the whole fleet; entities
// only narrows the joined result.
func (s *Service) FetchLatestPositions(ctx context.Context, entities []string) ([]PositionRecord, error) {
	var positions, pollutants Frame

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := s.run(gctx, s.builder.Positions(s.cfg.PositionLookback, nil))
		positions = f
		return err
	})
	g.Go(func() error {
		f, err := s.run(gctx, s.builder.Pollutants(s.cfg.PositionLookback, nil))
		pollutants = f
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := Join(positions, pollutants)
	s.log.Debug("trucktelem: joined latest positions",
		"positions", positions.Len(),
		"pollutant_rows", pollutants.Len(),
		"records", len(records))
	return FilterEntities(records, entities), nil
}

// Dashboard is one refresh of every view. A part that failed carries its
// error and zero data; the other parts are still populated.
type Dashboard struct {
	Window       Window
	Series       Frame
	Latest       []Reading
	Summary      StatSummary
	Positions    []PositionRecord
	SeriesErr    error
	PositionsErr error
}

// FetchDashboard runs the series and position pipelines side by side.
func (s *Service) FetchDashboard(ctx context.Context, w Window, entities []string) Dashboard {
	d := Dashboard{Window: w}

	var g errgroup.Group
	g.Go(func() error {
		series, err := s.FetchSeries(ctx, w, entities)
		if err != nil {
			d.SeriesErr = err
			return nil
		}
		d.Series = series
		d.Latest = LatestPerEntityMetric(series)
		return nil
	})
	g.Go(func() error {
		positions, err := s.FetchLatestPositions(ctx, entities)
		if err != nil {
			d.PositionsErr = err
			return nil
		}
		d.Positions = positions
		return nil
	})
	_ = g.Wait()

	d.Summary = Summarize(d.Latest)
	return d
}

func (s *Service) run(ctx context.Context, q Query) (Frame, error) {
	start := time.Now()
	res, err := s.cfg.Executor.Execute(ctx, q)
	duration := time.Since(start)
	metrics.RecordStoreQuery(string(q.Intent), duration, err)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Frame{}, err
		}
		return Frame{}, fmt.Errorf("failed to execute %s query: %w", q.Intent, err)
	}

	frame := Normalize(res)
	metrics.StoreRowsReturned.WithLabelValues(string(q.Intent)).Add(float64(frame.Len()))
	s.log.Debug("trucktelem: query completed",
		"intent", q.Intent,
		"dialect", s.builder.Dialect().Name(),
		"statements", len(q.Statements),
		"result", res.Kind().String(),
		"raw_rows", res.RowCount(),
		"rows", frame.Len(),
		"duration", duration.String())
	return frame, nil
}
