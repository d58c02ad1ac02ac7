package trucktelem

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func positionFrame(rows ...map[string]any) Frame {
	return Normalize(SingleResult(Table(rows)))
}

func byEntity(records []PositionRecord) map[string]PositionRecord {
	out := make(map[string]PositionRecord, len(records))
	for _, r := range records {
		out[r.EntityID] = r
	}
	return out
}

func TestTruckAir_Telemetry_Join(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("both sides empty", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, Join(Frame{}, Frame{}))
	})

	t.Run("positions only leaves pollutants absent", func(t *testing.T) {
		t.Parallel()
		records := Join(positionFrame(
			map[string]any{"time": t0, "truck_id": "T1", "lat": 1.0, "lon": 2.0},
			map[string]any{"time": t0, "truck_id": "T2", "lat": 3.0, "lon": 4.0},
		), Frame{})

		require.Len(t, records, 2)
		for _, r := range records {
			require.True(t, r.HasPosition())
			require.Empty(t, r.Pollutants)
		}
	})

	t.Run("metrics only pivots and leaves coordinates absent", func(t *testing.T) {
		t.Parallel()
		records := Join(Frame{}, positionFrame(
			map[string]any{"time": t0, "truck_id": "T1", "_field": "co2", "_value": 400.0},
			map[string]any{"time": t0, "truck_id": "T1", "_field": "hc", "_value": 10.0},
			map[string]any{"time": t0, "truck_id": "T2", "_field": "co", "_value": 5.0},
		))

		require.Len(t, records, 2)
		got := byEntity(records)
		require.Nil(t, got["T1"].Lat)
		require.Nil(t, got["T1"].Lon)
		require.Nil(t, got["T1"].Time)
		require.Equal(t, map[Metric]float64{MetricCO2: 400, MetricHC: 10}, got["T1"].Pollutants)
		require.Equal(t, map[Metric]float64{MetricCO: 5}, got["T2"].Pollutants)
	})

	t.Run("outer join scenario", func(t *testing.T) {
		t.Parallel()
		records := Join(
			positionFrame(map[string]any{"truck_id": "T1", "lat": 10.0, "lon": 20.0}),
			positionFrame(
				map[string]any{"time": t0, "truck_id": "T1", "_field": "co2", "_value": 400.0},
				map[string]any{"time": t0, "truck_id": "T2", "_field": "co", "_value": 5.0},
			),
		)

		require.Len(t, records, 2)
		got := byEntity(records)

		t1 := got["T1"]
		require.NotNil(t, t1.Lat)
		require.Equal(t, 10.0, *t1.Lat)
		require.Equal(t, 20.0, *t1.Lon)
		require.Equal(t, map[Metric]float64{MetricCO2: 400}, t1.Pollutants)

		t2 := got["T2"]
		require.Nil(t, t2.Lat)
		require.Nil(t, t2.Lon)
		require.Equal(t, map[Metric]float64{MetricCO: 5}, t2.Pollutants)
	})

	t.Run("every entity appears exactly once", func(t *testing.T) {
		t.Parallel()
		records := Join(
			positionFrame(
				map[string]any{"time": t0, "truck_id": "A", "lat": 1.0, "lon": 1.0},
				map[string]any{"time": t0, "truck_id": "B", "lat": 2.0, "lon": 2.0},
				map[string]any{"time": t0.Add(time.Minute), "truck_id": "A", "lat": 1.5, "lon": 1.5},
			),
			positionFrame(
				map[string]any{"time": t0, "truck_id": "B", "_field": "co", "_value": 1.0},
				map[string]any{"time": t0, "truck_id": "C", "_field": "co", "_value": 2.0},
				map[string]any{"time": t0, "truck_id": "C", "_field": "hc", "_value": 3.0},
				map[string]any{"time": t0, "truck_id": "A", "_field": "co2", "_value": 4.0},
			),
		)

		ids := make([]string, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.EntityID)
		}
		require.ElementsMatch(t, []string{"A", "B", "C"}, ids)
		require.Equal(t, []string{"A", "B", "C"}, ids)
	})

	t.Run("stale positions keep the most recent row", func(t *testing.T) {
		t.Parallel()
		records := Join(positionFrame(
			map[string]any{"time": t0.Add(2 * time.Minute), "truck_id": "T1", "lat": 3.0, "lon": 3.0},
			map[string]any{"time": t0, "truck_id": "T1", "lat": 1.0, "lon": 1.0},
			map[string]any{"time": t0.Add(time.Minute), "truck_id": "T1", "lat": 2.0, "lon": 2.0},
		), Frame{})

		require.Len(t, records, 1)
		require.Equal(t, 3.0, *records[0].Lat)
		require.True(t, t0.Add(2*time.Minute).Equal(*records[0].Time))
	})

	t.Run("positions without time keep the last row", func(t *testing.T) {
		t.Parallel()
		records := Join(positionFrame(
			map[string]any{"truck_id": "T1", "lat": 1.0, "lon": 1.0},
			map[string]any{"truck_id": "T1", "lat": 2.0, "lon": 2.0},
		), Frame{})

		require.Len(t, records, 1)
		require.Equal(t, 2.0, *records[0].Lat)
	})

	t.Run("untimed position never replaces a timed one", func(t *testing.T) {
		t.Parallel()
		records := Join(positionFrame(
			map[string]any{"truck_id": "T1", "lat": 5.0, "lon": 5.0},
			map[string]any{"time": t0, "truck_id": "T1", "lat": 1.0, "lon": 1.0},
			map[string]any{"truck_id": "T1", "lat": 9.0, "lon": 9.0},
		), Frame{})

		require.Len(t, records, 1)
		require.Equal(t, 1.0, *records[0].Lat)
		require.NotNil(t, records[0].Time)
		require.True(t, t0.Equal(*records[0].Time))
	})

	t.Run("duplicate pollutant pairs keep the last occurrence", func(t *testing.T) {
		t.Parallel()
		records := Join(Frame{}, positionFrame(
			map[string]any{"time": t0, "truck_id": "T1", "_field": "co2", "_value": 1.0},
			map[string]any{"time": t0, "truck_id": "T1", "_field": "co2", "_value": 2.0},
		))
		require.Equal(t, 2.0, records[0].Pollutants[MetricCO2])
	})

	t.Run("coordinates are never defaulted to zero", func(t *testing.T) {
		t.Parallel()
		records := Join(positionFrame(
			map[string]any{"truck_id": "T1", "lat": 0.0},
		), Frame{})
		require.Len(t, records, 1)
		require.NotNil(t, records[0].Lat)
		require.Equal(t, 0.0, *records[0].Lat)
		require.Nil(t, records[0].Lon)
		require.False(t, records[0].HasPosition())
	})
}

func TestTruckAir_Telemetry_Pivot(t *testing.T) {
	t.Parallel()

	rows := Pivot([]Reading{
		{EntityID: "B", Metric: MetricCO, Value: 1},
		{EntityID: "A", Metric: MetricCO, Value: 2},
		{EntityID: "B", Metric: MetricHC, Value: 3},
		{EntityID: "B", Metric: MetricCO, Value: 4},
	})
	require.Equal(t, []WideRow{
		{EntityID: "B", Values: map[Metric]float64{MetricCO: 4, MetricHC: 3}},
		{EntityID: "A", Values: map[Metric]float64{MetricCO: 2}},
	}, rows)
	require.Empty(t, Pivot(nil))
}

func TestTruckAir_Telemetry_FilterEntities(t *testing.T) {
	t.Parallel()

	records := []PositionRecord{{EntityID: "T1"}, {EntityID: "T2"}, {EntityID: "T3"}}
	require.Equal(t, records, FilterEntities(records, nil))
	require.Equal(t, []PositionRecord{{EntityID: "T1"}, {EntityID: "T3"}}, FilterEntities(records, []string{"T3", "T1", "T9"}))
	require.Empty(t, FilterEntities(records, []string{"T9"}))
}

func TestTruckAir_Telemetry_ColorMetric(t *testing.T) {
	t.Parallel()

	_, ok := ColorMetric(nil)
	require.False(t, ok)

	m, ok := ColorMetric([]PositionRecord{
		{EntityID: "T1", Pollutants: map[Metric]float64{MetricHC: 1}},
		{EntityID: "T2", Pollutants: map[Metric]float64{MetricCO2: 1}},
	})
	require.True(t, ok)
	require.Equal(t, MetricCO2, m)

	m, ok = ColorMetric([]PositionRecord{
		{EntityID: "T1", Pollutants: map[Metric]float64{MetricCO2: 1}},
		{EntityID: "T2", Pollutants: map[Metric]float64{MetricCO: 1}},
	})
	require.True(t, ok)
	require.Equal(t, MetricCO, m)
}

func TestTruckAir_Telemetry_PositionRecord_MarshalJSON(t *testing.T) {
	t.Parallel()

	lat, lon := 10.0, 20.0
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b, err := json.Marshal(PositionRecord{
		EntityID:   "T1",
		Lat:        &lat,
		Lon:        &lon,
		Time:       &ts,
		Pollutants: map[Metric]float64{MetricCO2: 400},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"entity_id":"T1","lat":10,"lon":20,"time":"2026-03-01T12:00:00Z","co2":400}`, string(b))

	b, err = json.Marshal(PositionRecord{EntityID: "T2", Pollutants: map[Metric]float64{MetricCO: 5}})
	require.NoError(t, err)
	require.JSONEq(t, `{"entity_id":"T2","lat":null,"lon":null,"co":5}`, string(b))
}
