package api

import (
	"fmt"
	"net/http"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// summaryStats is a distribution summary over stored incidents.
type summaryStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

func summarize(values []float64) summaryStats {
	s := summaryStats{Count: len(values)}
	if len(values) == 0 {
		return s
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s.Mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	s.P50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	s.Max = sorted[len(sorted)-1]
	return s
}

type statsResponse struct {
	TotalIncidents   int            `json:"total_incidents"`
	BySeverity       map[string]int `json:"by_severity"`
	OverlapRatio     summaryStats   `json:"overlap_ratio"`
	VictimCount      summaryStats   `json:"victim_count"`
	ReportQueueDepth int            `json:"report_queue_depth"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.incidents == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Incident storage not configured")
		return
	}

	bySeverity, err := s.incidents.CountBySeverity()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to count incidents: %v", err))
		return
	}
	ratios, err := s.incidents.OverlapRatios()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read overlap ratios: %v", err))
		return
	}
	victims, err := s.incidents.VictimCounts()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read victim counts: %v", err))
		return
	}
	depth, err := s.incidents.QueueDepth()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read queue depth: %v", err))
		return
	}

	total := 0
	for _, n := range bySeverity {
		total += n
	}

	s.writeJSON(w, statsResponse{
		TotalIncidents:   total,
		BySeverity:       bySeverity,
		OverlapRatio:     summarize(ratios),
		VictimCount:      summarize(victims),
		ReportQueueDepth: depth,
	})
}
