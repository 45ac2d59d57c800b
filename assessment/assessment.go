// Package assessment summarizes a prediction into per-class counts and a
// patient-facing risk level.
package assessment

import (
	"github.com/nvr-ai/dentalogic/models"
)

// RiskLevel is the Indonesian risk label shown to patients.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Rendah"
	RiskMedium RiskLevel = "Sedang"
	RiskHigh   RiskLevel = "Tinggi"
)

// ClassCount is the number of detections of one class.
type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// Summary is the per-image assessment.
type Summary struct {
	// Counts lists every class of the set in order, including zero counts.
	Counts        []ClassCount `json:"counts"`
	Total         int          `json:"total"`
	DominantClass string       `json:"dominantClass"`
	RiskLevel     RiskLevel    `json:"riskLevel"`
}

// Risk maps a caries label to a risk level: D0-D2 low, D3-D4 medium, D5 and
// above high. Unknown labels are low.
func Risk(class string) RiskLevel {
	switch s := models.Severity(class); {
	case s >= 5:
		return RiskHigh
	case s >= 3:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Summarize counts detected labels per class and derives the risk level from
// the predicted class.
//
// Arguments:
//   - classes: The label set, in display order.
//   - detected: One label per detection. Labels outside the set are ignored.
//   - predictedClass: The class the model settled on.
//
// Returns:
//   - Summary: Counts, total and risk.
func Summarize(classes []string, detected []string, predictedClass string) Summary {
	index := make(map[string]int, len(classes))
	s := Summary{
		Counts:        make([]ClassCount, len(classes)),
		DominantClass: predictedClass,
		RiskLevel:     Risk(predictedClass),
	}
	for i, c := range classes {
		s.Counts[i] = ClassCount{Class: c}
		index[c] = i
	}
	for _, label := range detected {
		if i, ok := index[label]; ok {
			s.Counts[i].Count++
			s.Total++
		}
	}
	return s
}
