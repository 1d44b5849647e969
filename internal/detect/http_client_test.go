package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/collision.report/internal/httputil"
)

func TestHTTPDetector_Detect(t *testing.T) {
	annotated := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/detect" {
			t.Errorf("path = %s, want /detect", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if _, _, err := r.FormFile("frame"); err != nil {
			t.Fatalf("missing frame part: %v", err)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"detections": []map[string]interface{}{
				{"label": "car", "confidence": 0.91, "box": []float64{10, 20, 110, 220}},
				{"label": "person", "confidence": 0.42, "box": []float64{50, 60, 80, 160}},
			},
			"annotated_image": base64.StdEncoding.EncodeToString(annotated),
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, nil)
	result, err := d.Detect(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if len(result.Detections) != 2 {
		t.Fatalf("got %d detections, want 2", len(result.Detections))
	}
	car := result.Detections[0]
	if car.Label != "car" || car.Confidence != 0.91 {
		t.Errorf("first detection = %+v", car)
	}
	if car.Box.XMin != 10 || car.Box.YMax != 220 {
		t.Errorf("box = %+v", car.Box)
	}
	if string(result.Annotated) != string(annotated) {
		t.Errorf("annotated bytes mismatch")
	}
}

func TestHTTPDetector_NoDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"detections": []interface{}{}})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, nil)
	result, err := d.Detect(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(result.Detections) != 0 {
		t.Errorf("got %d detections, want 0", len(result.Detections))
	}
	if result.Annotated != nil {
		t.Error("expected no annotated image")
	}
}

func TestHTTPDetector_ErrorStatus(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusInternalServerError, "model crashed")

	d := NewHTTPDetector("http://sidecar", mock)
	if _, err := d.Detect(context.Background(), []byte("jpeg-bytes")); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestHTTPDetector_EmptyFrame(t *testing.T) {
	d := NewHTTPDetector("http://sidecar", httputil.NewMockHTTPClient())
	if _, err := d.Detect(context.Background(), nil); err == nil {
		t.Error("expected error for empty frame")
	}
}

func TestHTTPDetector_BadAnnotationIgnored(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"detections":[],"annotated_image":"!!not-base64!!"}`)

	d := NewHTTPDetector("http://sidecar", mock)
	result, err := d.Detect(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if result.Annotated != nil {
		t.Error("broken annotation should be dropped, not returned")
	}
}

func TestFilterConfidence(t *testing.T) {
	dets := []Detection{
		{Label: "car", Confidence: 0.9},
		{Label: "person", Confidence: 0.29},
		{Label: "bus", Confidence: 0.3},
	}
	got := FilterConfidence(dets, 0.3)
	if len(got) != 2 {
		t.Fatalf("got %d detections, want 2", len(got))
	}
	if got[0].Label != "car" || got[1].Label != "bus" {
		t.Errorf("unexpected order or content: %+v", got)
	}
}

func TestLabelSets(t *testing.T) {
	for _, label := range []string{"car", "truck", "motorcycle", "bus"} {
		if !IsVehicle(label) || !IsDanger(label) {
			t.Errorf("%s should be vehicle and danger", label)
		}
		if IsPerson(label) {
			t.Errorf("%s should not be person", label)
		}
	}
	if !IsPerson("person") || !IsDanger("person") || IsVehicle("person") {
		t.Error("person label misclassified")
	}
	if IsDanger("traffic light") {
		t.Error("unknown label should not be danger")
	}
}
