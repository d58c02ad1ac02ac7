package trucktelem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	truckairtesting "github.com/acme/truckair/dashboard/pkg/testing"
)

type mockExecutor struct {
	mu          sync.Mutex
	queries     []Query
	executeFunc func(ctx context.Context, q Query) (Result, error)
}

func (m *mockExecutor) Execute(ctx context.Context, q Query) (Result, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()
	if m.executeFunc != nil {
		return m.executeFunc(ctx, q)
	}
	return EmptyResult(), nil
}

func (m *mockExecutor) Queries() []Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Query(nil), m.queries...)
}

func newTestService(t *testing.T, exec Executor) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Logger:   truckairtesting.NewLogger(),
		Executor: exec,
	})
	require.NoError(t, err)
	return svc
}

func TestTruckAir_Telemetry_ServiceConfig_Validate(t *testing.T) {
	t.Parallel()

	t.Run("returns error when logger is missing", func(t *testing.T) {
		t.Parallel()
		cfg := ServiceConfig{Executor: &mockExecutor{}}
		err := cfg.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when executor is missing", func(t *testing.T) {
		t.Parallel()
		cfg := ServiceConfig{Logger: truckairtesting.NewLogger()}
		err := cfg.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "executor is required")
	})

	t.Run("sets defaults", func(t *testing.T) {
		t.Parallel()
		cfg := ServiceConfig{Logger: truckairtesting.NewLogger(), Executor: &mockExecutor{}}
		require.NoError(t, cfg.Validate())
		require.Equal(t, InfluxSQL{}, cfg.Dialect)
		require.Equal(t, DefaultMeasurement, cfg.Measurement)
		require.Equal(t, 7*24*time.Hour, cfg.EntityLookback)
		require.Equal(t, 24*time.Hour, cfg.PositionLookback)
	})
}

func TestTruckAir_Telemetry_Service_FetchSeries(t *testing.T) {
	t.Parallel()

	t.Run("empty store yields an empty frame for every window and filter", func(t *testing.T) {
		t.Parallel()
		svc := newTestService(t, &mockExecutor{})
		for _, w := range Windows {
			for _, entities := range [][]string{nil, {}, {"T1"}, {"T1", "T2"}} {
				frame, err := svc.FetchSeries(t.Context(), w, entities)
				require.NoError(t, err)
				require.True(t, frame.Empty())
			}
		}
	})

	t.Run("is idempotent against an unchanged store", func(t *testing.T) {
		t.Parallel()
		ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		exec := &mockExecutor{executeFunc: func(_ context.Context, q Query) (Result, error) {
			return ManyResult(
				Table{{"time": ts, "truck_id": "T1", "_field": "co2", "_value": 400.0}},
				Table{{"time": ts, "truck_id": "T1", "_field": "hc", "_value": 12.0}},
				Table{},
			), nil
		}}
		svc := newTestService(t, exec)

		first, err := svc.FetchSeries(t.Context(), Window1h, []string{"T1"})
		require.NoError(t, err)
		second, err := svc.FetchSeries(t.Context(), Window1h, []string{"T1"})
		require.NoError(t, err)
		require.Equal(t, first, second)
		require.Equal(t, 2, first.Len())

		queries := exec.Queries()
		require.Len(t, queries, 2)
		require.Equal(t, queries[0], queries[1])
		require.Equal(t, IntentSeries, queries[0].Intent)
	})

	t.Run("orders by time within each metric only", func(t *testing.T) {
		t.Parallel()
		ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		exec := &mockExecutor{executeFunc: func(_ context.Context, q Query) (Result, error) {
			return ManyResult(
				Table{
					{"time": ts, "truck_id": "T1", "_field": "co2", "_value": 400.0},
					{"time": ts.Add(2 * time.Minute), "truck_id": "T1", "_field": "co2", "_value": 402.0},
				},
				Table{{"time": ts.Add(time.Minute), "truck_id": "T1", "_field": "hc", "_value": 12.0}},
				Table{{"time": ts, "truck_id": "T1", "_field": "co", "_value": 1.0}},
			), nil
		}}
		svc := newTestService(t, exec)

		frame, err := svc.FetchSeries(t.Context(), Window1h, nil)
		require.NoError(t, err)
		require.Equal(t, []Reading{
			{EntityID: "T1", Time: ts, Metric: MetricCO2, Value: 400},
			{EntityID: "T1", Time: ts.Add(2 * time.Minute), Metric: MetricCO2, Value: 402},
			{EntityID: "T1", Time: ts.Add(time.Minute), Metric: MetricHC, Value: 12},
			{EntityID: "T1", Time: ts, Metric: MetricCO, Value: 1},
		}, frame.Readings())

		stmts := exec.Queries()[0].Statements
		require.Len(t, stmts, 3)
		require.Equal(t, []Metric{MetricCO2, MetricHC, MetricCO}, []Metric{stmts[0].Field, stmts[1].Field, stmts[2].Field})
	})

	t.Run("propagates store failures", func(t *testing.T) {
		t.Parallel()
		storeErr := errors.New("unauthorized")
		svc := newTestService(t, &mockExecutor{executeFunc: func(context.Context, Query) (Result, error) {
			return Result{}, storeErr
		}})

		_, err := svc.FetchSeries(t.Context(), Window24h, nil)
		require.Error(t, err)
		require.ErrorIs(t, err, storeErr)
		require.Contains(t, err.Error(), "failed to execute series query")
	})

	t.Run("passes context cancellation through unwrapped", func(t *testing.T) {
		t.Parallel()
		svc := newTestService(t, &mockExecutor{executeFunc: func(ctx context.Context, _ Query) (Result, error) {
			return Result{}, context.Canceled
		}})
		_, err := svc.FetchSeries(t.Context(), Window24h, nil)
		require.Equal(t, context.Canceled, err)
	})
}

func TestTruckAir_Telemetry_Service_ListEntities(t *testing.T) {
	t.Parallel()

	t.Run("returns sorted distinct identifiers", func(t *testing.T) {
		t.Parallel()
		exec := &mockExecutor{executeFunc: func(_ context.Context, q Query) (Result, error) {
			return ManyResult(
				Table{{"truck_id": "T3"}, {"truck_id": "T1"}},
				Table{{"truck_id": "T2"}, {"truck_id": "T3"}, {"truck_id": nil}, {"truck_id": ""}},
			), nil
		}}
		svc := newTestService(t, exec)

		entities, err := svc.ListEntities(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{"T1", "T2", "T3"}, entities)

		queries := exec.Queries()
		require.Len(t, queries, 1)
		require.Equal(t, IntentEntities, queries[0].Intent)
		require.Equal(t, DefaultEntityLookback, queries[0].Lookback)
	})

	t.Run("result does not depend on input order", func(t *testing.T) {
		t.Parallel()
		orders := [][]string{{"T3", "T1", "T2"}, {"T2", "T2", "T3", "T1"}, {"T1", "T2", "T3"}}
		for _, order := range orders {
			table := make(Table, 0, len(order))
			for _, id := range order {
				table = append(table, map[string]any{"truck_id": id})
			}
			svc := newTestService(t, &mockExecutor{executeFunc: func(context.Context, Query) (Result, error) {
				return SingleResult(table), nil
			}})
			entities, err := svc.ListEntities(t.Context())
			require.NoError(t, err)
			require.Equal(t, []string{"T1", "T2", "T3"}, entities)
		}
	})

	t.Run("empty store lists nothing", func(t *testing.T) {
		t.Parallel()
		entities, err := newTestService(t, &mockExecutor{}).ListEntities(t.Context())
		require.NoError(t, err)
		require.Empty(t, entities)
	})
}

func scenarioExecutor() *mockExecutor {
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return &mockExecutor{executeFunc: func(_ context.Context, q Query) (Result, error) {
		switch q.Intent {
		case IntentPositions:
			return SingleResult(Table{{"truck_id": "T1", "lat": 10.0, "lon": 20.0}}), nil
		case IntentPollutants:
			return ManyResult(
				Table{{"time": ts, "truck_id": "T1", "_field": "co2", "_value": 400.0}},
				Table{},
				Table{{"time": ts, "truck_id": "T2", "_field": "co", "_value": 5.0}},
			), nil
		}
		return EmptyResult(), nil
	}}
}

func TestTruckAir_Telemetry_Service_FetchLatestPositions(t *testing.T) {
	t.Parallel()

	t.Run("joins positions and pollutants end to end", func(t *testing.T) {
		t.Parallel()
		svc := newTestService(t, scenarioExecutor())

		records, err := svc.FetchLatestPositions(t.Context(), nil)
		require.NoError(t, err)
		require.Len(t, records, 2)

		got := byEntity(records)
		require.Equal(t, 10.0, *got["T1"].Lat)
		require.Equal(t, 20.0, *got["T1"].Lon)
		require.Equal(t, map[Metric]float64{MetricCO2: 400}, got["T1"].Pollutants)
		require.Nil(t, got["T2"].Lat)
		require.Nil(t, got["T2"].Lon)
		require.Equal(t, map[Metric]float64{MetricCO: 5}, got["T2"].Pollutants)
	})

	t.Run("queries the whole fleet and filters after the join", func(t *testing.T) {
		t.Parallel()
		exec := scenarioExecutor()
		svc := newTestService(t, exec)

		records, err := svc.FetchLatestPositions(t.Context(), []string{"T2"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, "T2", records[0].EntityID)

		queries := exec.Queries()
		require.Len(t, queries, 2)
		intents := []Intent{queries[0].Intent, queries[1].Intent}
		require.ElementsMatch(t, []Intent{IntentPositions, IntentPollutants}, intents)
		for _, q := range queries {
			require.Empty(t, q.Entities)
			require.Equal(t, DefaultPositionLookback, q.Lookback)
			for _, stmt := range q.Statements {
				require.Empty(t, stmt.Params)
			}
		}
	})

	t.Run("both sides empty", func(t *testing.T) {
		t.Parallel()
		records, err := newTestService(t, &mockExecutor{}).FetchLatestPositions(t.Context(), nil)
		require.NoError(t, err)
		require.Empty(t, records)
	})

	t.Run("fails when either query fails", func(t *testing.T) {
		t.Parallel()
		storeErr := errors.New("connection refused")
		svc := newTestService(t, &mockExecutor{executeFunc: func(_ context.Context, q Query) (Result, error) {
			if q.Intent == IntentPollutants {
				return Result{}, storeErr
			}
			return SingleResult(Table{{"truck_id": "T1", "lat": 1.0, "lon": 2.0}}), nil
		}})

		_, err := svc.FetchLatestPositions(t.Context(), nil)
		require.ErrorIs(t, err, storeErr)
	})
}

func TestTruckAir_Telemetry_Service_FetchDashboard(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("populates every view", func(t *testing.T) {
		t.Parallel()
		exec := scenarioExecutor()
		inner := exec.executeFunc
		exec.executeFunc = func(ctx context.Context, q Query) (Result, error) {
			if q.Intent == IntentSeries {
				return SingleResult(Table{
					{"time": ts, "truck_id": "T1", "_field": "co2", "_value": 300.0},
					{"time": ts.Add(time.Minute), "truck_id": "T1", "_field": "co2", "_value": 500.0},
					{"time": ts, "truck_id": "T2", "_field": "co2", "_value": 300.0},
				}), nil
			}
			return inner(ctx, q)
		}
		svc := newTestService(t, exec)

		d := svc.FetchDashboard(t.Context(), Window6h, nil)
		require.NoError(t, d.SeriesErr)
		require.NoError(t, d.PositionsErr)
		require.Equal(t, Window6h, d.Window)
		require.Equal(t, 3, d.Series.Len())
		require.Len(t, d.Latest, 2)
		require.Len(t, d.Positions, 2)
		require.Equal(t, 2, d.Summary.ActiveEntities)
		require.Equal(t, 400.0, *d.Summary.Means[MetricCO2])
		require.Nil(t, d.Summary.Means[MetricHC])
	})

	t.Run("degrades one view when its query fails", func(t *testing.T) {
		t.Parallel()
		exec := scenarioExecutor()
		inner := exec.executeFunc
		exec.executeFunc = func(ctx context.Context, q Query) (Result, error) {
			if q.Intent == IntentSeries {
				return Result{}, errors.New("timeout")
			}
			return inner(ctx, q)
		}
		svc := newTestService(t, exec)

		d := svc.FetchDashboard(t.Context(), Window24h, nil)
		require.Error(t, d.SeriesErr)
		require.NoError(t, d.PositionsErr)
		require.True(t, d.Series.Empty())
		require.Len(t, d.Positions, 2)
		require.Equal(t, 0, d.Summary.ActiveEntities)
	})
}
