package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/collision.report/internal/score"
)

// incidentChart renders a severity breakdown as an HTML bar chart.
// Debugging-only endpoint; the dashboard UI owns the real charts.
func (s *Server) incidentChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.incidents == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Incident storage not configured")
		return
	}

	counts, err := s.incidents.CountBySeverity()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to count incidents: %v", err))
		return
	}

	severities := []score.Severity{
		score.SeverityMinor, score.SeverityMedium, score.SeverityMajor, score.SeverityCritical,
	}
	labels := make([]string, 0, len(severities))
	data := make([]opts.BarData, 0, len(severities))
	for _, sev := range severities {
		labels = append(labels, string(sev))
		data = append(data, opts.BarData{Value: counts[string(sev)]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Incidents by Severity", Theme: "dark"}),
		charts.WithTitleOpts(opts.Title{Title: "Confirmed Incidents", Subtitle: "grouped by severity"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("incidents", data)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
