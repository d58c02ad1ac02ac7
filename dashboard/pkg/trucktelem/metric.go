package trucktelem

import (
	"fmt"
	"strings"
	"time"
)

// Metric is a telemetry channel emitted by a truck.
type Metric string

const (
	MetricCO2 Metric = "co2"
	MetricHC  Metric = "hc"
	MetricCO  Metric = "co"
	MetricLat Metric = "lat"
	MetricLon Metric = "lon"
)

// Pollutants are the emission channels, in the order they are queried.
var Pollutants = []Metric{MetricCO2, MetricHC, MetricCO}

// IsPollutant reports whether m is one of co2, hc or co.
func (m Metric) IsPollutant() bool {
	switch m {
	case MetricCO2, MetricHC, MetricCO:
		return true
	}
	return false
}

// Window is a lookback from the time a query is issued. Only the values in
// Windows are accepted by ParseWindow.
type Window time.Duration

const (
	Window1h  = Window(time.Hour)
	Window6h  = Window(6 * time.Hour)
	Window24h = Window(24 * time.Hour)
	Window7d  = Window(7 * 24 * time.Hour)

	DefaultWindow = Window24h
)

// Windows lists the selectable lookback windows in display order.
var Windows = []Window{Window1h, Window6h, Window24h, Window7d}

// ParseWindow accepts "1h", "6h", "24h" and "7d", with or without a leading
// minus sign. An empty string yields DefaultWindow.
func ParseWindow(s string) (Window, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "-")
	if s == "" {
		return DefaultWindow, nil
	}
	for _, w := range Windows {
		if w.String() == s {
			return w, nil
		}
	}
	return 0, fmt.Errorf("unsupported window %q (expected one of 1h, 6h, 24h, 7d)", s)
}

func (w Window) Duration() time.Duration {
	return time.Duration(w)
}

func (w Window) String() string {
	d := time.Duration(w)
	if d > 24*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	return d.String()
}

// Label is the human readable name shown in the window selector.
func (w Window) Label() string {
	return "Last " + w.String()
}
