// Package api holds the JSON wire types of the Dentalogic HTTP API.
//
// Field names follow the mobile client: camelCase for prediction payloads,
// snake_case for the health endpoints.
package api

import (
	"math"
	"time"

	"github.com/nvr-ai/dentalogic/assessment"
	"github.com/nvr-ai/dentalogic/history"
	"github.com/nvr-ai/dentalogic/inference"
	"github.com/nvr-ai/dentalogic/inference/detectors"
	"github.com/nvr-ai/dentalogic/profiler"
)

// ClassProbability is the probability of one class, in percent.
type ClassProbability struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
}

// Detection is one detected lesion. BBox is [x, y, width, height] in
// original image pixels.
type Detection struct {
	BBox       [4]float64 `json:"bbox"`
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
}

// ClassCount is the number of detections of one class.
type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// PredictionResponse is the body of POST /predict.
type PredictionResponse struct {
	ID               string             `json:"id,omitempty"`
	Class            string             `json:"class"`
	Confidence       float64            `json:"confidence"`
	AllProbabilities []ClassProbability `json:"allProbabilities"`
	InferenceTime    float64            `json:"inferenceTime"`
	Detections       []Detection        `json:"detections"`
	// BoundingBoxes lists [x1, y1, x2, y2] per detection, same order.
	BoundingBoxes  [][4]float64 `json:"boundingBoxes"`
	RiskLevel      string       `json:"riskLevel"`
	ClassCounts    []ClassCount `json:"classCounts"`
	AnnotatedImage string       `json:"annotatedImage,omitempty"`
}

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	ModelLoaded bool   `json:"model_loaded"`
}

// HealthResponse is the body of GET /health. ModelPath is null when the
// model file does not exist.
type HealthResponse struct {
	Status      string  `json:"status"`
	ModelLoaded bool    `json:"model_loaded"`
	ModelPath   *string `json:"model_path"`
}

// ErrorResponse is the body of every error, {"detail": "..."}.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HistoryEntry is one stored scan.
type HistoryEntry struct {
	ID            string       `json:"id"`
	CreatedAt     time.Time    `json:"createdAt"`
	FileName      string       `json:"fileName"`
	Class         string       `json:"class"`
	Confidence    float64      `json:"confidence"`
	RiskLevel     string       `json:"riskLevel"`
	ClassCounts   []ClassCount `json:"classCounts"`
	Detections    int          `json:"detections"`
	InferenceTime float64      `json:"inferenceTime"`
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
	Total   int            `json:"total"`
}

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	ModelLoaded     bool                    `json:"model_loaded"`
	HistoryEntries  int                     `json:"history_entries"`
	HistoryCapacity int                     `json:"history_capacity"`
	Session         *inference.SessionStats `json:"session,omitempty"`
	Runtime         profiler.Snapshot       `json:"runtime"`
}

// DeleteResponse is the body of DELETE /history/{id}.
type DeleteResponse struct {
	Deleted string `json:"deleted"`
}

// Health status values.
const (
	StatusOK      = "ok"
	StatusHealthy = "healthy"
)

// NewPredictionResponse converts a prediction and its assessment into the
// wire format. Numbers are rounded to two decimals.
func NewPredictionResponse(pred *detectors.Prediction, summary assessment.Summary) PredictionResponse {
	resp := PredictionResponse{
		Class:            pred.Class,
		Confidence:       round2(float64(pred.Confidence)),
		AllProbabilities: make([]ClassProbability, len(pred.AllProbabilities)),
		InferenceTime:    pred.InferenceTime,
		Detections:       make([]Detection, len(pred.Detections)),
		BoundingBoxes:    make([][4]float64, len(pred.Detections)),
		RiskLevel:        string(summary.RiskLevel),
		ClassCounts:      NewClassCounts(summary.Counts),
	}
	for i, p := range pred.AllProbabilities {
		resp.AllProbabilities[i] = ClassProbability{Class: p.Class, Probability: round2(float64(p.Probability))}
	}
	for i, d := range pred.Detections {
		resp.Detections[i] = Detection{
			BBox:       round4(d.Box.XYWH()),
			Class:      d.Class,
			Confidence: round2(float64(d.Confidence)),
		}
		resp.BoundingBoxes[i] = round4(d.Box.XYXY())
	}
	return resp
}

// NewClassCounts converts assessment counts.
func NewClassCounts(counts []assessment.ClassCount) []ClassCount {
	out := make([]ClassCount, len(counts))
	for i, c := range counts {
		out[i] = ClassCount{Class: c.Class, Count: c.Count}
	}
	return out
}

// NewHistoryEntry converts a stored entry.
func NewHistoryEntry(e history.Entry) HistoryEntry {
	return HistoryEntry{
		ID:            e.ID,
		CreatedAt:     e.CreatedAt,
		FileName:      e.FileName,
		Class:         e.Class,
		Confidence:    round2(float64(e.Confidence)),
		RiskLevel:     string(e.RiskLevel),
		ClassCounts:   NewClassCounts(e.Counts),
		Detections:    e.Detections,
		InferenceTime: e.InferenceTime,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v [4]float32) [4]float64 {
	var out [4]float64
	for i, x := range v {
		out[i] = round2(float64(x))
	}
	return out
}
