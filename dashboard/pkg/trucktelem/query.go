package trucktelem

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMeasurement = "truck_metrics"

	// entityTag is the tag column that identifies a truck in the store.
	entityTag = "truck_id"
)

// Intent names the shape of a query. Executors that do not speak SQL (the
// synthetic fleet) dispatch on it.
type Intent string

const (
	IntentSeries     Intent = "series"
	IntentPositions  Intent = "positions"
	IntentPollutants Intent = "pollutants"
	IntentEntities   Intent = "entities"
)

// Statement is a single SQL statement. Its result is one table.
type Statement struct {
	// Field is the metric the statement selects, empty when it spans several.
	Field  Metric
	SQL    string
	Params map[string]any
}

// Query is the complete request handed to an Executor. Entity identifiers are
// only ever carried in Params, never in SQL text.
type Query struct {
	Intent     Intent
	Lookback   time.Duration
	Entities   []string
	Statements []Statement
}

// Dialect covers the SQL differences between supported stores.
type Dialect interface {
	Name() string
	// Param renders the placeholder for a named parameter.
	Param(name string) string
	// Since renders an expression for "now minus d".
	Since(d time.Duration) string
}

// InfluxSQL is the SQL dialect of InfluxDB 3.
type InfluxSQL struct{}

func (InfluxSQL) Name() string             { return "influxdb3" }
func (InfluxSQL) Param(name string) string { return "$" + name }
func (InfluxSQL) Since(d time.Duration) string {
	return fmt.Sprintf("now() - INTERVAL '%d seconds'", int64(d/time.Second))
}

// ClickHouseSQL is the ClickHouse dialect; parameters bind with clickhouse.Named.
type ClickHouseSQL struct{}

func (ClickHouseSQL) Name() string             { return "clickhouse" }
func (ClickHouseSQL) Param(name string) string { return "@" + name }
func (ClickHouseSQL) Since(d time.Duration) string {
	return fmt.Sprintf("now() - INTERVAL %d SECOND", int64(d/time.Second))
}

// QueryBuilder renders the dashboard's query intents for one measurement.
type QueryBuilder struct {
	dialect     Dialect
	measurement string
}

func NewQueryBuilder(dialect Dialect, measurement string) *QueryBuilder {
	if dialect == nil {
		dialect = InfluxSQL{}
	}
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &QueryBuilder{dialect: dialect, measurement: measurement}
}

func (b *QueryBuilder) Dialect() Dialect {
	return b.dialect
}

// Series selects every pollutant reading in the window, one statement per
// pollutant, each ordered by time ascending. Results concatenate in statement
// order, so time only ascends within a pollutant.
func (b *QueryBuilder) Series(w Window, entities []string) Query {
	lookback := windowDuration(w)
	filter, params := b.entityFilter(entities)

	stmts := make([]Statement, 0, len(Pollutants))
	for _, m := range Pollutants {
		sql := fmt.Sprintf(`SELECT "time", %s, '%s' AS "_field", %s AS "_value"
FROM %s
WHERE "time" >= %s
  AND %s IS NOT NULL%s
ORDER BY "time" ASC`,
			quote(entityTag), m, quote(string(m)),
			quote(b.measurement),
			b.dialect.Since(lookback),
			quote(string(m)), filter)
		stmts = append(stmts, Statement{Field: m, SQL: sql, Params: params})
	}

	return Query{
		Intent:     IntentSeries,
		Lookback:   lookback,
		Entities:   entities,
		Statements: stmts,
	}
}

// Positions selects the most recent lat/lon pair per truck.
func (b *QueryBuilder) Positions(lookback time.Duration, entities []string) Query {
	filter, params := b.entityFilter(entities)
	sql := fmt.Sprintf(`WITH ranked AS (
	SELECT "time", %[1]s, "lat", "lon",
		ROW_NUMBER() OVER (PARTITION BY %[1]s ORDER BY "time" DESC) AS rn
	FROM %[2]s
	WHERE "time" >= %[3]s
	  AND "lat" IS NOT NULL
	  AND "lon" IS NOT NULL%[4]s
)
SELECT "time", %[1]s, "lat", "lon"
FROM ranked
WHERE rn = 1`,
		quote(entityTag), quote(b.measurement), b.dialect.Since(lookback), filter)

	return Query{
		Intent:     IntentPositions,
		Lookback:   lookback,
		Entities:   entities,
		Statements: []Statement{{SQL: sql, Params: params}},
	}
}

// Pollutants selects the most recent reading per truck for each pollutant.
// Each pollutant is ranked on its own so that a field reported on a slower
// cadence is not hidden by one that arrived later.
func (b *QueryBuilder) Pollutants(lookback time.Duration, entities []string) Query {
	filter, params := b.entityFilter(entities)

	stmts := make([]Statement, 0, len(Pollutants))
	for _, m := range Pollutants {
		sql := fmt.Sprintf(`WITH ranked AS (
	SELECT "time", %[1]s, %[2]s AS "_value",
		ROW_NUMBER() OVER (PARTITION BY %[1]s ORDER BY "time" DESC) AS rn
	FROM %[3]s
	WHERE "time" >= %[4]s
	  AND %[2]s IS NOT NULL%[5]s
)
SELECT "time", %[1]s, '%[6]s' AS "_field", "_value"
FROM ranked
WHERE rn = 1`,
			quote(entityTag), quote(string(m)), quote(b.measurement),
			b.dialect.Since(lookback), filter, m)
		stmts = append(stmts, Statement{Field: m, SQL: sql, Params: params})
	}

	return Query{
		Intent:     IntentPollutants,
		Lookback:   lookback,
		Entities:   entities,
		Statements: stmts,
	}
}

// Entities selects the distinct truck identifiers seen in the lookback.
func (b *QueryBuilder) Entities(lookback time.Duration) Query {
	sql := fmt.Sprintf(`SELECT DISTINCT %s
FROM %s
WHERE "time" >= %s`,
		quote(entityTag), quote(b.measurement), b.dialect.Since(lookback))

	return Query{
		Intent:     IntentEntities,
		Lookback:   lookback,
		Statements: []Statement{{SQL: sql}},
	}
}

// entityFilter returns an IN clause over bound parameters, or nothing when
// entities is empty.
func (b *QueryBuilder) entityFilter(entities []string) (string, map[string]any) {
	if len(entities) == 0 {
		return "", nil
	}
	params := make(map[string]any, len(entities))
	placeholders := make([]string, len(entities))
	for i, e := range entities {
		name := fmt.Sprintf("e%d", i)
		params[name] = e
		placeholders[i] = b.dialect.Param(name)
	}
	return fmt.Sprintf("\n  AND %s IN (%s)", quote(entityTag), strings.Join(placeholders, ", ")), params
}

func windowDuration(w Window) time.Duration {
	if w <= 0 {
		return DefaultWindow.Duration()
	}
	return w.Duration()
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
