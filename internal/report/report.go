// Package report forwards confirmed incidents to the record-keeping
// backend and keeps a retry queue for deliveries that fail.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/collision.report/internal/httputil"
	"github.com/banshee-data/collision.report/internal/score"
	"github.com/banshee-data/collision.report/internal/triage"
)

// Incident source tags.
const (
	SourceCCTV  = "CCTV"
	SourceVideo = "VIDEO"
)

// Incident is everything known about a confirmed accident at report time.
type Incident struct {
	CameraID    string
	OccurredAt  time.Time
	Severity    score.Severity
	VictimCount int
	Lat         float64
	Lng         float64
	SnapshotURL string
	Source      string

	// OverlapRatio is the selected frame's peak IoU, kept for local
	// statistics. It is not part of the ingest payload.
	OverlapRatio float64

	Triage triage.Report
}

// Location is the camera site position forwarded with every incident.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Payload is the backend ingest contract.
type Payload struct {
	Accident            bool                `json:"accident"`
	CameraID            string              `json:"cameraId"`
	Timestamp           string              `json:"timestamp"`
	Severity            string              `json:"severity"`
	VictimCount         int                 `json:"victimCount"`
	Location            Location            `json:"location"`
	SnapshotURL         string              `json:"snapshotUrl"`
	Source              string              `json:"source"`
	LikelyInjuries      []triage.RegionRisk `json:"likelyInjuries"`
	DoctorReportSummary string              `json:"doctorReportSummary"`
}

// NewPayload builds the ingest payload for one incident.
func NewPayload(inc *Incident) Payload {
	return Payload{
		Accident:            true,
		CameraID:            inc.CameraID,
		Timestamp:           inc.OccurredAt.UTC().Format(time.RFC3339),
		Severity:            string(inc.Severity),
		VictimCount:         inc.VictimCount,
		Location:            Location{Lat: inc.Lat, Lng: inc.Lng},
		SnapshotURL:         inc.SnapshotURL,
		Source:              inc.Source,
		LikelyInjuries:      inc.Triage.RegionRisks,
		DoctorReportSummary: inc.Triage.SummaryForDoctor,
	}
}

// Reporter delivers a confirmed incident downstream and returns the
// backend's incident ID when the backend assigns one.
type Reporter interface {
	Report(ctx context.Context, inc *Incident) (string, error)
}

// HTTPReporter posts incident payloads as JSON to the backend ingest
// endpoint.
type HTTPReporter struct {
	url     string
	client  httputil.HTTPClient
	timeout time.Duration
}

// NewHTTPReporter creates a reporter targeting the given ingest URL.
// A nil client defaults to the standard HTTP client.
func NewHTTPReporter(url string, client httputil.HTTPClient) *HTTPReporter {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPReporter{
		url:     url,
		client:  client,
		timeout: 10 * time.Second,
	}
}

// Report marshals the incident payload and delivers it.
func (r *HTTPReporter) Report(ctx context.Context, inc *Incident) (string, error) {
	body, err := json.Marshal(NewPayload(inc))
	if err != nil {
		return "", fmt.Errorf("failed to marshal incident payload: %w", err)
	}
	return r.SendPayload(ctx, body)
}

// SendPayload posts a pre-marshalled payload. The retry flusher uses
// this directly so queued payloads keep their original timestamps.
func (r *HTTPReporter) SendPayload(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to deliver incident report: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read ingest response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ingest endpoint returned status %d: %s", resp.StatusCode, respBody)
	}
	return parseIncidentID(respBody), nil
}

// parseIncidentID extracts the backend-assigned ID from an ingest
// response. Backends vary in the key they use; an empty string means no
// ID was assigned.
func parseIncidentID(body []byte) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"id", "incidentId", "incident_id"} {
		switch v := fields[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}
