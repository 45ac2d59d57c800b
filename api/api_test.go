package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/dentalogic/assessment"
	"github.com/nvr-ai/dentalogic/images"
	"github.com/nvr-ai/dentalogic/inference/detectors"
)

func TestNewPredictionResponse(t *testing.T) {
	pred := &detectors.Prediction{
		Class:      "D3",
		Confidence: 87.654,
		AllProbabilities: []detectors.ClassProbability{
			{Class: "D0", Probability: 0},
			{Class: "D3", Probability: 87.654},
		},
		InferenceTime: 12.34,
		Detections: []detectors.Detection{
			{Box: images.Rect{X1: 10, Y1: 20, X2: 50, Y2: 80}, Class: "D3", Confidence: 87.654},
		},
	}
	summary := assessment.Summarize([]string{"D0", "D3"}, []string{"D3"}, "D3")

	resp := NewPredictionResponse(pred, summary)
	assert.Equal(t, 87.65, resp.Confidence)
	assert.Equal(t, [4]float64{10, 20, 40, 60}, resp.Detections[0].BBox)
	assert.Equal(t, [4]float64{10, 20, 50, 80}, resp.BoundingBoxes[0])
	assert.Equal(t, "Sedang", resp.RiskLevel)
	assert.Equal(t, []ClassCount{{"D0", 0}, {"D3", 1}}, resp.ClassCounts)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"class", "confidence", "allProbabilities", "inferenceTime", "detections", "boundingBoxes", "riskLevel", "classCounts"} {
		assert.Contains(t, decoded, key)
	}
	assert.NotContains(t, decoded, "annotatedImage")
}

func TestEmptyPredictionEncodesArrays(t *testing.T) {
	resp := NewPredictionResponse(&detectors.Prediction{Class: "D0"}, assessment.Summarize(nil, nil, "D0"))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"detections":[]`)
	assert.Contains(t, string(raw), `"boundingBoxes":[]`)
}

func TestHealthModelPathNull(t *testing.T) {
	raw, err := json.Marshal(HealthResponse{Status: StatusHealthy})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"healthy","model_loaded":false,"model_path":null}`, string(raw))
}
