package influx

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/acme/truckair/dashboard/pkg/trucktelem"
)

const (
	defaultMockTrucks   = 8
	defaultMockInterval = 5 * time.Minute

	// Positions are reported on a slower cadence than pollutants.
	positionCadence = 3
)

// MockClientConfig contains configuration for the synthetic fleet.
type MockClientConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Trucks   int
	Interval time.Duration
}

// MockClient answers dashboard queries from a deterministic synthetic fleet
// instead of a real store. It interprets the structured part of a query and
// ignores the SQL text.
type MockClient struct {
	log      *slog.Logger
	clock    clockwork.Clock
	interval time.Duration
	trucks   []mockTruck
}

type mockTruck struct {
	id      string
	seed    uint64
	homeLat float64
	homeLon float64
	// hasGPS is false for trucks whose tracker is not fitted.
	hasGPS bool
}

// Depot coordinates the synthetic trucks circle around.
var mockDepots = [][2]float64{
	{52.5200, 13.4050},
	{48.1351, 11.5820},
	{50.1109, 8.6821},
	{53.5511, 9.9937},
}

func NewMockClient(cfg MockClientConfig) *MockClient {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Trucks <= 0 {
		cfg.Trucks = defaultMockTrucks
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultMockInterval
	}

	trucks := make([]mockTruck, cfg.Trucks)
	for i := range trucks {
		id := fmt.Sprintf("T%d", i+1)
		depot := mockDepots[i%len(mockDepots)]
		trucks[i] = mockTruck{
			id:      id,
			seed:    hashSeed(id),
			homeLat: depot[0],
			homeLon: depot[1],
			hasGPS:  i%4 != 3,
		}
	}

	return &MockClient{
		log:      cfg.Logger,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		trucks:   trucks,
	}
}

func (c *MockClient) Execute(ctx context.Context, q trucktelem.Query) (trucktelem.Result, error) {
	if err := ctx.Err(); err != nil {
		return trucktelem.Result{}, err
	}

	now := c.clock.Now().UTC().Truncate(c.interval)
	start := now.Add(-q.Lookback)
	trucks := c.selectTrucks(q.Entities)

	var tables []trucktelem.Table
	switch q.Intent {
	case trucktelem.IntentEntities:
		table := make(trucktelem.Table, 0, len(trucks))
		for _, truck := range trucks {
			table = append(table, map[string]any{"truck_id": truck.id})
		}
		tables = append(tables, table)

	case trucktelem.IntentSeries:
		for _, stmt := range q.Statements {
			var table trucktelem.Table
			for _, truck := range trucks {
				for t := firstSample(start, c.interval); !t.After(now); t = t.Add(c.interval) {
					table = append(table, pollutantRow(truck, stmt.Field, t))
				}
			}
			tables = append(tables, sortByTime(table))
		}

	case trucktelem.IntentPollutants:
		for _, stmt := range q.Statements {
			var table trucktelem.Table
			for _, truck := range trucks {
				if !now.Before(start) {
					table = append(table, pollutantRow(truck, stmt.Field, now))
				}
			}
			tables = append(tables, table)
		}

	case trucktelem.IntentPositions:
		var table trucktelem.Table
		step := c.interval * positionCadence
		last := now.Truncate(step)
		for _, truck := range trucks {
			if !truck.hasGPS || last.Before(start) {
				continue
			}
			lat, lon := truck.position(last)
			table = append(table, map[string]any{
				"time":     last,
				"truck_id": truck.id,
				"lat":      lat,
				"lon":      lon,
			})
		}
		tables = append(tables, table)

	default:
		return trucktelem.Result{}, fmt.Errorf("mock influxdb: unsupported query intent %q", q.Intent)
	}

	c.log.Debug("mock influxdb: generated result", "intent", q.Intent, "trucks", len(trucks), "tables", len(tables))
	return trucktelem.ResultFromTables(tables), nil
}

func (c *MockClient) Close() error {
	return nil
}

func (c *MockClient) selectTrucks(entities []string) []mockTruck {
	if len(entities) == 0 {
		return c.trucks
	}
	want := make(map[string]bool, len(entities))
	for _, e := range entities {
		want[e] = true
	}
	var out []mockTruck
	for _, truck := range c.trucks {
		if want[truck.id] {
			out = append(out, truck)
		}
	}
	return out
}

func pollutantRow(truck mockTruck, field trucktelem.Metric, t time.Time) map[string]any {
	return map[string]any{
		"time":     t,
		"truck_id": truck.id,
		"_field":   string(field),
		"_value":   truck.pollutant(field, t),
	}
}

// pollutant produces a daily-cycle reading with per-truck offset and jitter.
func (tr mockTruck) pollutant(field trucktelem.Metric, t time.Time) float64 {
	phase := float64(tr.seed%360) * math.Pi / 180
	daily := math.Sin(2*math.Pi*float64(t.Unix()%86400)/86400 + phase)
	jitter := noise(tr.seed, field, t)

	var v float64
	switch field {
	case trucktelem.MetricCO2:
		v = 420 + 120*daily + 25*jitter
	case trucktelem.MetricHC:
		v = 18 + 6*daily + 2*jitter
	case trucktelem.MetricCO:
		v = 1.2 + 0.5*daily + 0.2*jitter
	}
	return math.Round(math.Max(v, 0)*100) / 100
}

// position moves the truck on a loop around its depot once every six hours.
func (tr mockTruck) position(t time.Time) (float64, float64) {
	phase := float64(tr.seed%1000) / 1000 * 2 * math.Pi
	angle := 2*math.Pi*float64(t.Unix()%21600)/21600 + phase
	lat := tr.homeLat + 0.08*math.Sin(angle)
	lon := tr.homeLon + 0.12*math.Cos(angle)
	return math.Round(lat*1e5) / 1e5, math.Round(lon*1e5) / 1e5
}

func firstSample(start time.Time, interval time.Duration) time.Time {
	t := start.Truncate(interval)
	if !t.After(start) {
		t = t.Add(interval)
	}
	return t
}

// sortByTime orders rows by time. Rows are generated truck by truck, so
// trucks sharing a timestamp keep their generation order.
func sortByTime(table trucktelem.Table) trucktelem.Table {
	slices.SortStableFunc(table, func(a, b map[string]any) int {
		return a["time"].(time.Time).Compare(b["time"].(time.Time))
	})
	return table
}

// hashSeed creates a deterministic seed from a truck identifier.
func hashSeed(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

// noise returns deterministic jitter in [-1, 1) for a truck, field and instant.
func noise(seed uint64, field trucktelem.Metric, t time.Time) float64 {
	h := fnv.New64a()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], seed)
	binary.LittleEndian.PutUint64(buf[8:], uint64(t.Unix()))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(field))
	return float64(h.Sum64()%2000)/1000 - 1
}
