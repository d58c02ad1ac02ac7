package trucktelem

import (
	"slices"
	"strings"
	"time"
)

// LatestPerEntityMetric returns, for each (entity, metric) pair, the reading
// with the greatest timestamp. When two readings share that timestamp the one
// later in frame order wins. The result is sorted by entity, then metric.
func LatestPerEntityMetric(f Frame) []Reading {
	type key struct {
		entity string
		metric Metric
	}
	latest := make(map[key]Reading)
	for _, r := range f.Readings() {
		k := key{r.EntityID, r.Metric}
		if prev, ok := latest[k]; ok && r.Time.Before(prev.Time) {
			continue
		}
		latest[k] = r
	}

	out := make([]Reading, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Reading) int {
		if c := strings.Compare(a.EntityID, b.EntityID); c != 0 {
			return c
		}
		return strings.Compare(string(a.Metric), string(b.Metric))
	})
	return out
}

// MeanPerMetric averages the values of rows for metric. The boolean is false
// when no row matches, which callers must render as "no data" rather than 0.
func MeanPerMetric(latest []Reading, metric Metric) (float64, bool) {
	var sum float64
	var n int
	for _, r := range latest {
		if r.Metric != metric {
			continue
		}
		sum += r.Value
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// StatSummary is the headline block of the dashboard.
type StatSummary struct {
	ActiveEntities int                 `json:"active_entities"`
	Means          map[Metric]*float64 `json:"means"`
}

// Summarize derives the summary from latest-per-(entity, metric) rows. Every
// pollutant has an entry in Means; a nil entry means no data.
func Summarize(latest []Reading) StatSummary {
	summary := StatSummary{
		ActiveEntities: len(Pivot(latest)),
		Means:          make(map[Metric]*float64, len(Pollutants)),
	}
	for _, m := range Pollutants {
		if mean, ok := MeanPerMetric(latest, m); ok {
			summary.Means[m] = &mean
		} else {
			summary.Means[m] = nil
		}
	}
	return summary
}

// LatestRow is a latest-readings table row as displayed, time pre-rendered.
type LatestRow struct {
	Time     string  `json:"time"`
	EntityID string  `json:"entity_id"`
	Metric   Metric  `json:"metric"`
	Value    float64 `json:"value"`
}

// LatestRows renders latest readings for the table view.
func LatestRows(latest []Reading) []LatestRow {
	rows := make([]LatestRow, len(latest))
	for i, r := range latest {
		rows[i] = LatestRow{
			Time:     formatTime(r.Time),
			EntityID: r.EntityID,
			Metric:   r.Metric,
			Value:    r.Value,
		}
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
