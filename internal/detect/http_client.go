package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/banshee-data/collision.report/internal/geometry"
	"github.com/banshee-data/collision.report/internal/httputil"
)

// DefaultTimeout bounds a single detection round trip to the sidecar.
const DefaultTimeout = 10 * time.Second

// HTTPDetector calls a YOLO inference sidecar over HTTP. The sidecar
// accepts a multipart frame upload on /detect and returns the detected
// objects plus an optional annotated rendering of the frame.
type HTTPDetector struct {
	baseURL string
	client  httputil.HTTPClient
	timeout time.Duration
}

// NewHTTPDetector creates a detector client for the sidecar at baseURL.
// A nil client defaults to the standard http.DefaultClient wrapper.
func NewHTTPDetector(baseURL string, client httputil.HTTPClient) *HTTPDetector {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPDetector{
		baseURL: baseURL,
		client:  client,
		timeout: DefaultTimeout,
	}
}

// wireDetection is the sidecar's JSON shape for one detection.
// Box is [x_min, y_min, x_max, y_max] in pixel coordinates.
type wireDetection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

type wireResponse struct {
	Detections     []wireDetection `json:"detections"`
	AnnotatedImage string          `json:"annotated_image,omitempty"` // base64 JPEG
}

// Detect uploads one encoded frame and returns the sidecar's detections.
func (d *HTTPDetector) Detect(ctx context.Context, frame []byte) (*Result, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("frame", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to write frame payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalise multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build detector request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, payload)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode detector response: %w", err)
	}

	result := &Result{
		Detections: make([]Detection, 0, len(wire.Detections)),
	}
	for _, wd := range wire.Detections {
		result.Detections = append(result.Detections, Detection{
			Label:      wd.Label,
			Confidence: wd.Confidence,
			Box: geometry.Box{
				XMin: wd.Box[0],
				YMin: wd.Box[1],
				XMax: wd.Box[2],
				YMax: wd.Box[3],
			},
		})
	}

	if wire.AnnotatedImage != "" {
		annotated, err := base64.StdEncoding.DecodeString(wire.AnnotatedImage)
		if err != nil {
			// A broken annotation is not fatal; the caller falls back
			// to drawing boxes locally.
			return result, nil
		}
		result.Annotated = annotated
	}

	return result, nil
}
