package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/acme/truckair/dashboard/pkg/trucktelem"
)

type WindowOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type ConfigResponse struct {
	Title         string         `json:"title"`
	RefreshMs     int64          `json:"refresh_ms"`
	Windows       []WindowOption `json:"windows"`
	DefaultWindow string         `json:"default_window"`
}

type TrucksResponse struct {
	Trucks    []string `json:"trucks"`
	FetchedAt string   `json:"fetched_at"`
}

type SeriesResponse struct {
	Window    string                 `json:"window"`
	Points    []trucktelem.Reading   `json:"points"`
	Latest    []trucktelem.LatestRow `json:"latest"`
	FetchedAt string                 `json:"fetched_at"`
}

type PositionsResponse struct {
	Positions   []trucktelem.PositionRecord `json:"positions"`
	ColorMetric string                      `json:"color_metric,omitempty"`
	FetchedAt   string                      `json:"fetched_at"`
}

type DashboardResponse struct {
	Window         string                      `json:"window"`
	WindowLabel    string                      `json:"window_label"`
	Summary        trucktelem.StatSummary      `json:"summary"`
	Points         []trucktelem.Reading        `json:"points"`
	Latest         []trucktelem.LatestRow      `json:"latest"`
	Positions      []trucktelem.PositionRecord `json:"positions"`
	ColorMetric    string                      `json:"color_metric,omitempty"`
	SeriesError    string                      `json:"series_error,omitempty"`
	PositionsError string                      `json:"positions_error,omitempty"`
	FetchedAt      string                      `json:"fetched_at"`
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	windows := make([]WindowOption, len(trucktelem.Windows))
	for i, win := range trucktelem.Windows {
		windows[i] = WindowOption{Value: win.String(), Label: win.Label()}
	}
	writeJSON(w, h.log, http.StatusOK, ConfigResponse{
		Title:         h.cfg.Title,
		RefreshMs:     h.cfg.RefreshInterval.Milliseconds(),
		Windows:       windows,
		DefaultWindow: trucktelem.DefaultWindow.String(),
	})
}

func (h *Handler) GetTrucks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	trucks, err := h.cfg.Telemetry.ListEntities(ctx)
	if err != nil {
		h.storeError(w, r, "failed to list trucks", err)
		return
	}
	if trucks == nil {
		trucks = []string{}
	}
	writeJSON(w, h.log, http.StatusOK, TrucksResponse{
		Trucks:    trucks,
		FetchedAt: h.now(),
	})
}

func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	window, ok := h.parseWindow(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	frame, err := h.cfg.Telemetry.FetchSeries(ctx, window, parseTrucks(r))
	if err != nil {
		h.storeError(w, r, "failed to fetch series", err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, SeriesResponse{
		Window:    window.String(),
		Points:    nonNil(frame.Readings()),
		Latest:    nonNil(trucktelem.LatestRows(trucktelem.LatestPerEntityMetric(frame))),
		FetchedAt: h.now(),
	})
}

func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	records, err := h.cfg.Telemetry.FetchLatestPositions(ctx, parseTrucks(r))
	if err != nil {
		h.storeError(w, r, "failed to fetch positions", err)
		return
	}
	colour, _ := trucktelem.ColorMetric(records)
	writeJSON(w, h.log, http.StatusOK, PositionsResponse{
		Positions:   nonNil(records),
		ColorMetric: string(colour),
		FetchedAt:   h.now(),
	})
}

// GetDashboard serves one full refresh. Parts that failed are reported inline
// so the rest of the dashboard still renders; only a total failure is a 502.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	window, ok := h.parseWindow(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	d := h.cfg.Telemetry.FetchDashboard(ctx, window, parseTrucks(r))
	if d.SeriesErr != nil && d.PositionsErr != nil {
		h.storeError(w, r, "failed to fetch dashboard", errors.Join(d.SeriesErr, d.PositionsErr))
		return
	}

	resp := DashboardResponse{
		Window:      window.String(),
		WindowLabel: window.Label(),
		Summary:     d.Summary,
		Points:      nonNil(d.Series.Readings()),
		Latest:      nonNil(trucktelem.LatestRows(d.Latest)),
		Positions:   nonNil(d.Positions),
		FetchedAt:   h.now(),
	}
	if colour, ok := trucktelem.ColorMetric(d.Positions); ok {
		resp.ColorMetric = string(colour)
	}
	if d.SeriesErr != nil {
		resp.SeriesError = internalError(r, h.log, "failed to fetch series", d.SeriesErr)
	}
	if d.PositionsErr != nil {
		resp.PositionsError = internalError(r, h.log, "failed to fetch positions", d.PositionsErr)
	}
	writeJSON(w, h.log, http.StatusOK, resp)
}

func (h *Handler) parseWindow(w http.ResponseWriter, r *http.Request) (trucktelem.Window, bool) {
	window, err := trucktelem.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, "invalid window", err.Error())
		return 0, false
	}
	return window, true
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		h.log.Debug("handlers: request canceled by client", "path", r.URL.Path)
		return
	}
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	writeError(w, h.log, status, operation, internalError(r, h.log, operation, err))
}

func (h *Handler) now() string {
	return h.cfg.Clock.Now().UTC().Format(time.RFC3339)
}

// parseTrucks collects truck filters from repeated and comma-separated
// "truck" parameters, dropping blanks and duplicates.
func parseTrucks(r *http.Request) []string {
	var trucks []string
	seen := make(map[string]bool)
	for _, raw := range r.URL.Query()["truck"] {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			trucks = append(trucks, id)
		}
	}
	return trucks
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
