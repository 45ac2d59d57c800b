package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/dentalogic/api"
	"github.com/nvr-ai/dentalogic/images"
)

func newTestAPI(t *testing.T, loaded bool) *httptest.Server {
	t.Helper()
	annotated, err := images.EncodeDataURL(image.NewRGBA(image.Rect(0, 0, 4, 4)), images.FormatJPEG, 90)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.HealthResponse{Status: api.StatusHealthy, ModelLoaded: loaded})
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.PredictionResponse{
			Class:      "D3",
			Confidence: 87.5,
			AllProbabilities: []api.ClassProbability{
				{Class: "D0", Probability: 0},
				{Class: "D3", Probability: 87.5},
			},
			InferenceTime:  41.2,
			Detections:     []api.Detection{{Class: "D3", Confidence: 87.5}},
			RiskLevel:      "Sedang",
			ClassCounts:    []api.ClassCount{{Class: "D3", Count: 1}},
			AnnotatedImage: annotated,
		})
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(api.HistoryResponse{
			Entries: []api.HistoryEntry{{ID: "abc", FileName: "x.jpg", Class: "D1", Confidence: 70, RiskLevel: "Rendah"}},
			Total:   9,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthCommand(t *testing.T) {
	srv := newTestAPI(t, true)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-url", srv.URL, "health"}, &out))
	assert.Contains(t, out.String(), "model loaded: true")

	srv = newTestAPI(t, false)
	out.Reset()
	assert.Error(t, run(context.Background(), []string{"-url", srv.URL, "health"}, &out))
}

func TestPredictCommand(t *testing.T) {
	srv := newTestAPI(t, true)
	dir := t.TempDir()
	in := filepath.Join(dir, "scan.png")
	f, err := os.Create(in)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 8))))
	require.NoError(t, f.Close())
	outPath := filepath.Join(dir, "annotated.jpg")

	var out bytes.Buffer
	err = run(context.Background(), []string{"-url", srv.URL, "predict", "-annotated", outPath, in}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "class: D3 (87.50%)")
	assert.Contains(t, out.String(), "risk: Sedang")
	assert.Contains(t, out.String(), "inference time: 41.20 ms")
	assert.FileExists(t, outPath)
}

func TestHistoryCommand(t *testing.T) {
	srv := newTestAPI(t, true)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-url", srv.URL, "history", "-limit", "5"}, &out))
	assert.Contains(t, out.String(), "abc")
	assert.Contains(t, out.String(), "1 of 9 entries")
}

func TestUsageErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), nil, &out))
	assert.Error(t, run(context.Background(), []string{"-url", "http://localhost:1", "bogus"}, &out))
	assert.Error(t, run(context.Background(), []string{"-url", "http://localhost:1", "predict"}, &out))
	assert.Error(t, run(context.Background(), []string{"-url", "ftp://x", "health"}, &out))
}
