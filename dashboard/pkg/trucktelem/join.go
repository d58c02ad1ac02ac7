package trucktelem

import (
	"encoding/json"
	"time"
)

// Reading is a single telemetry sample.
type Reading struct {
	EntityID string    `json:"entity_id"`
	Time     time.Time `json:"time"`
	Metric   Metric    `json:"metric"`
	Value    float64   `json:"value"`
}

// WideRow is one entity's metrics pivoted into columns.
type WideRow struct {
	EntityID string
	Values   map[Metric]float64
}

// Pivot turns long-form readings (one per entity and metric) into one row per
// entity. Rows come out in first-seen entity order. When an (entity, metric)
// pair occurs more than once the last occurrence wins.
func Pivot(readings []Reading) []WideRow {
	index := make(map[string]int)
	var rows []WideRow
	for _, r := range readings {
		i, ok := index[r.EntityID]
		if !ok {
			i = len(rows)
			index[r.EntityID] = i
			rows = append(rows, WideRow{EntityID: r.EntityID, Values: make(map[Metric]float64)})
		}
		rows[i].Values[r.Metric] = r.Value
	}
	return rows
}

// PositionRecord is the latest known snapshot of one truck for the map view.
// Nil coordinates and missing pollutant keys mean the store had no value.
type PositionRecord struct {
	EntityID   string
	Lat        *float64
	Lon        *float64
	Time       *time.Time
	Pollutants map[Metric]float64
}

// HasPosition reports whether both coordinates are known.
func (p PositionRecord) HasPosition() bool {
	return p.Lat != nil && p.Lon != nil
}

// MarshalJSON flattens the record into a single object: entity_id, lat, lon
// (null when unknown), time when known, and one key per pollutant present.
func (p PositionRecord) MarshalJSON() ([]byte, error) {
	rec := make(map[string]any, 4+len(p.Pollutants))
	rec[ColEntity] = p.EntityID
	rec[ColLat] = p.Lat
	rec[ColLon] = p.Lon
	if p.Time != nil {
		rec[ColTime] = p.Time.UTC().Format(time.RFC3339)
	}
	for m, v := range p.Pollutants {
		rec[string(m)] = v
	}
	return json.Marshal(rec)
}

// Join outer-joins the latest positions with the latest pollutant readings on
// entity. Every entity on either side yields exactly one record. Positions are
// deduplicated first, keeping the most recent row per entity; pollutant rows
// are pivoted wide. Records for entities with a position come first, in the
// order they were first seen, followed by pollutant-only entities.
func Join(positions, pollutants Frame) []PositionRecord {
	if positions.Empty() && pollutants.Empty() {
		return nil
	}

	records := latestPositions(positions)
	index := make(map[string]int, len(records))
	for i, rec := range records {
		index[rec.EntityID] = i
	}

	for _, wide := range Pivot(pollutants.Readings()) {
		i, ok := index[wide.EntityID]
		if !ok {
			i = len(records)
			index[wide.EntityID] = i
			records = append(records, PositionRecord{EntityID: wide.EntityID})
		}
		records[i].Pollutants = wide.Values
	}
	return records
}

// FilterEntities keeps only records whose entity is in entities. An empty
// entities list keeps everything.
func FilterEntities(records []PositionRecord, entities []string) []PositionRecord {
	if len(entities) == 0 {
		return records
	}
	want := make(map[string]bool, len(entities))
	for _, e := range entities {
		want[e] = true
	}
	out := make([]PositionRecord, 0, len(records))
	for _, rec := range records {
		if want[rec.EntityID] {
			out = append(out, rec)
		}
	}
	return out
}

// ColorMetric picks the pollutant used to colour map markers: the first of
// co, co2, hc that any record carries.
func ColorMetric(records []PositionRecord) (Metric, bool) {
	for _, m := range []Metric{MetricCO, MetricCO2, MetricHC} {
		for _, rec := range records {
			if _, ok := rec.Pollutants[m]; ok {
				return m, true
			}
		}
	}
	return "", false
}

// latestPositions reduces the position frame to one record per entity. A row
// replaces an earlier one unless it is strictly older; an untimed row never
// replaces a timed one.
func latestPositions(f Frame) []PositionRecord {
	index := make(map[string]int)
	var records []PositionRecord
	for _, row := range f.Rows {
		rec := PositionRecord{EntityID: row.Entity()}
		if lat, ok := row.Float(ColLat); ok {
			rec.Lat = &lat
		}
		if lon, ok := row.Float(ColLon); ok {
			rec.Lon = &lon
		}
		if t, ok := row.Time(); ok {
			rec.Time = &t
		}

		i, seen := index[rec.EntityID]
		if !seen {
			index[rec.EntityID] = len(records)
			records = append(records, rec)
			continue
		}
		prev := records[i]
		if prev.Time != nil && (rec.Time == nil || rec.Time.Before(*prev.Time)) {
			continue
		}
		records[i] = rec
	}
	return records
}
