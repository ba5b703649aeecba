package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/detector"
	"github.com/kozaktomas/face-cluster/internal/face"
	"github.com/kozaktomas/face-cluster/internal/imagestore"
	"github.com/kozaktomas/face-cluster/internal/logging"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Clustering: config.ClusteringConfig{
			Preset:     "singletons",
			Algorithm:  "dbscan",
			Eps:        0.4,
			MinSamples: 1,
			Metric:     "cosine",
		},
		Detection: config.DetectionConfig{
			MinSize:       30,
			MinConfidence: 0.5,
		},
	}
}

// fakeDetector returns the detections registered for the uploaded bytes
type fakeDetector struct {
	mu         sync.Mutex
	detections map[string][]face.Detection
	healthErr  error
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{detections: map[string][]face.Detection{}}
}

func (d *fakeDetector) add(content string, embedding ...float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detections[content] = append(d.detections[content], face.Detection{
		Index:      len(d.detections[content]),
		BBox:       face.BBox{0, 0, 60, 60},
		Confidence: 0.9,
		Embedding:  embedding,
	})
}

func (d *fakeDetector) Detect(_ context.Context, data []byte) (*detector.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &detector.Result{Model: "test", Detections: d.detections[string(data)]}, nil
}

func (d *fakeDetector) Health(context.Context) error {
	return d.healthErr
}

// newTestPipeline wires a pipeline to the fake detector and a memory store
func newTestPipeline(t *testing.T, det *fakeDetector, store imagestore.Store) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Config{Detector: det, Store: store, Concurrency: 1})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	return p
}

// uploadFile is one file part of a multipart request
type uploadFile struct {
	name    string
	content string
}

// multipartRequest builds a multipart POST with images and form fields
func multipartRequest(t *testing.T, path string, files []uploadFile, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile("images", f.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write([]byte(f.content))
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// jsonRequest builds a request with a JSON body
func jsonRequest(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// failedResponse builds the response of a run that failed with err
func failedResponse(err error) *pipeline.Response {
	return pipeline.Failed("test", err)
}

// testLogger returns a logger that drops every record
var testLogger = logging.Discard()

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
