package detectors

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nvr-ai/dentalogic/models"
	"github.com/nvr-ai/dentalogic/models/postprocess"
)

// aggregateDetections turns NMS survivors into a prediction: the best
// detection names the class, and every class reports the highest confidence
// among its detections. Without detections the image is sound (D0).
func aggregateDetections(classes *models.OutputClassSet, results []postprocess.Result) *Prediction {
	pred := &Prediction{
		Detections:       make([]Detection, 0, len(results)),
		AllProbabilities: zeroProbabilities(classes),
	}

	for _, r := range results {
		pred.Detections = append(pred.Detections, Detection{
			Box:        r.Box,
			Class:      className(classes, r.Class),
			ClassIndex: r.Class,
			Confidence: r.Score * 100,
		})
	}
	sort.SliceStable(pred.Detections, func(i, j int) bool {
		return pred.Detections[i].Confidence > pred.Detections[j].Confidence
	})

	if len(pred.Detections) == 0 {
		pred.Class = classes.ResolveClassName(models.ClassD0, 0)
		return pred
	}

	best := pred.Detections[0]
	pred.Class = best.Class
	pred.Confidence = best.Confidence

	for _, det := range pred.Detections {
		idx, ok := classes.Index(det.Class)
		if !ok {
			continue
		}
		if det.Confidence > pred.AllProbabilities[idx].Probability {
			pred.AllProbabilities[idx].Probability = det.Confidence
		}
	}
	return pred
}

// aggregateProbabilities picks the argmax of a classifier's class
// probabilities. Missing trailing probabilities count as 0.
func aggregateProbabilities(classes *models.OutputClassSet, probs []float32) *Prediction {
	pred := &Prediction{
		Detections:       []Detection{},
		AllProbabilities: zeroProbabilities(classes),
	}
	for i := range pred.AllProbabilities {
		if i < len(probs) {
			pred.AllProbabilities[i].Probability = probs[i] * 100
		}
	}

	idx, p := postprocess.Argmax(probs)
	if idx < 0 {
		pred.Class = classes.ResolveClassName(models.ClassD0, 0)
		return pred
	}
	pred.Class = className(classes, idx)
	pred.Confidence = p * 100
	return pred
}

func zeroProbabilities(classes *models.OutputClassSet) []ClassProbability {
	names := classes.Names()
	out := make([]ClassProbability, len(names))
	for i, n := range names {
		out[i] = ClassProbability{Class: n}
	}
	return out
}

// className labels a class index; indices past the set keep their caries
// code (D7 from an extended model served with the D0..D6 set).
func className(classes *models.OutputClassSet, idx int) string {
	name, ok := classes.Name(idx)
	if !ok {
		name = fmt.Sprintf("D%d", idx)
	}
	return classes.ResolveClassName(name, idx)
}

func roundMillis(d time.Duration) float64 {
	ms := float64(d.Nanoseconds()) / 1e6
	return math.Round(ms*100) / 100
}
