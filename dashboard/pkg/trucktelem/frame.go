package trucktelem

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Canonical column names of a normalized frame.
const (
	ColTime   = "time"
	ColValue  = "value"
	ColMetric = "metric"
	ColEntity = "entity_id"
	ColLat    = "lat"
	ColLon    = "lon"
)

// storeColumns maps store column names to canonical names.
var storeColumns = map[string]string{
	"_time":        ColTime,
	"time":         ColTime,
	"_value":       ColValue,
	"metric_value": ColValue,
	"value":        ColValue,
	"_field":       ColMetric,
	"metric":       ColMetric,
	"truck_id":     ColEntity,
	"entity_id":    ColEntity,
}

// wrapperColumns are bookkeeping columns some stores add to every table.
var wrapperColumns = map[string]bool{
	"result":       true,
	"table":        true,
	"_start":       true,
	"_stop":        true,
	"_measurement": true,
}

// InfluxDB SDK renders timestamps in several layouts depending on precision.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999 +0000 UTC",
	"2006-01-02 15:04:05 +0000 UTC",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Row is one normalized row. A column that was null in the store is absent
// from the map rather than present with a nil value.
type Row map[string]any

// Entity returns the row's entity identifier.
func (r Row) Entity() string {
	s, _ := r[ColEntity].(string)
	return s
}

func (r Row) Metric() Metric {
	s, _ := r[ColMetric].(string)
	return Metric(s)
}

func (r Row) Time() (time.Time, bool) {
	t, ok := r[ColTime].(time.Time)
	return t, ok
}

func (r Row) Float(col string) (float64, bool) {
	f, ok := r[col].(float64)
	return f, ok
}

// Frame is the single canonical tabular shape every store result is reduced
// to. A frame is either empty or every row carries an entity_id.
type Frame struct {
	Columns []string
	Rows    []Row
}

func (f Frame) Empty() bool {
	return len(f.Rows) == 0
}

func (f Frame) Len() int {
	return len(f.Rows)
}

// Readings converts long-form rows into typed readings. Rows without a metric
// or value are skipped.
func (f Frame) Readings() []Reading {
	out := make([]Reading, 0, len(f.Rows))
	for _, row := range f.Rows {
		metric := row.Metric()
		value, ok := row.Float(ColValue)
		if metric == "" || !ok {
			continue
		}
		t, _ := row.Time()
		out = append(out, Reading{
			EntityID: row.Entity(),
			Time:     t,
			Metric:   metric,
			Value:    value,
		})
	}
	return out
}

// Entities returns the distinct entity identifiers in first-seen order.
func (f Frame) Entities() []string {
	seen := make(map[string]bool, len(f.Rows))
	var out []string
	for _, row := range f.Rows {
		e := row.Entity()
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// Normalize collapses a store result into one frame: tables are concatenated
// in order, columns renamed to canonical names and scalars coerced. Rows
// without an entity are dropped, as are long-form rows whose value or time
// is missing or did not convert.
func Normalize(res Result) Frame {
	if res.Kind() == ResultEmpty {
		return Frame{}
	}

	var frame Frame
	seenCols := make(map[string]bool)
	for _, table := range res.Tables() {
		for _, raw := range table {
			row := normalizeRow(raw)
			if row == nil {
				continue
			}
			for col := range row {
				seenCols[col] = true
			}
			frame.Rows = append(frame.Rows, row)
		}
	}
	if len(frame.Rows) == 0 {
		return Frame{}
	}
	frame.Columns = orderColumns(seenCols)
	return frame
}

func normalizeRow(raw map[string]any) Row {
	row := make(Row, len(raw))
	for k, v := range raw {
		if v == nil || wrapperColumns[k] {
			continue
		}
		col := k
		if canonical, ok := storeColumns[k]; ok {
			col = canonical
		}
		var (
			val any
			ok  bool
		)
		switch col {
		case ColTime:
			val, ok = toTime(v)
		case ColValue, ColLat, ColLon:
			val, ok = toFloat(v)
		case ColEntity, ColMetric:
			val, ok = toString(v)
		default:
			val, ok = v, true
		}
		if ok {
			row[col] = val
		}
	}
	if row.Entity() == "" {
		return nil
	}
	// A long-form reading needs both a value and a time to mean anything.
	if _, ok := row[ColMetric]; ok {
		if _, ok := row[ColValue]; !ok {
			return nil
		}
		if _, ok := row[ColTime]; !ok {
			return nil
		}
	}
	return row
}

// orderColumns puts canonical columns first in a fixed order, then the rest
// alphabetically.
func orderColumns(seen map[string]bool) []string {
	fixed := []string{ColTime, ColEntity, ColMetric, ColValue, ColLat, ColLon}
	cols := make([]string, 0, len(seen))
	for _, c := range fixed {
		if seen[c] {
			cols = append(cols, c)
			delete(seen, c)
		}
	}
	rest := make([]string, 0, len(seen))
	for c := range seen {
		rest = append(rest, c)
	}
	slices.Sort(rest)
	return append(cols, rest...)
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case int64:
		return time.Unix(0, t).UTC(), true
	case string:
		for _, layout := range timeFormats {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case *float64:
		if n == nil {
			return 0, false
		}
		return *n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, s != ""
	case *string:
		if s == nil || *s == "" {
			return "", false
		}
		return *s, true
	default:
		str := fmt.Sprintf("%v", v)
		return str, str != ""
	}
}
