// Package classifier decodes whole-image classification heads.
package classifier

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/models/model"
	"github.com/nvr-ai/dentalogic/models/model/preprocess"
	"github.com/nvr-ai/dentalogic/models/postprocess"
)

// ErrEmptyOutput is returned when the model produced no values.
var ErrEmptyOutput = errors.New("model output is empty")

// objectnessIndex is the column holding the box confidence in YOLO-style rows.
const objectnessIndex = 4

// ClassProbability is the probability of one class, in percent.
type ClassProbability struct {
	Class       string
	Probability float32
}

// Prediction is the argmax class of a classifier output.
type Prediction struct {
	Class string
	// Confidence is the probability of Class in percent.
	Confidence    float32
	Probabilities []ClassProbability
}

// Disambiguate extracts numClasses per-class logits from an output tensor
// whose layout depends on how the model was exported.
//
//   - [1, C] or [C]: the values are the logits.
//   - [1, N, K]: YOLO-style rows; the row with the highest objectness
//     (column 4) is chosen. When K >= 5+numClasses the class scores after
//     the box and objectness prefix are returned, otherwise the first
//     numClasses values of the row.
//   - anything else: the first numClasses values of the flat data.
//
// Missing values are padded with 0.
func Disambiguate(shape []int64, data []float32, numClasses int) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyOutput
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("invalid class count %d", numClasses)
	}

	values := data
	switch {
	case len(shape) == 3 && shape[0] == 1 && shape[1] > 0 && shape[2] > 0:
		rows, cols := int(shape[1]), int(shape[2])
		if rows*cols > len(data) {
			return nil, errors.Errorf("output shape %v does not match %d values", shape, len(data))
		}
		row := bestRow(data, rows, cols)
		if cols >= objectnessIndex+1+numClasses {
			values = row[objectnessIndex+1:]
		} else {
			values = row
		}
	}

	logits := make([]float32, numClasses)
	copy(logits, values)
	return logits, nil
}

// bestRow returns the row with the highest objectness. Rows too short to
// carry objectness leave the first row selected.
func bestRow(data []float32, rows, cols int) []float32 {
	best := 0
	if cols > objectnessIndex {
		bestConf := data[objectnessIndex]
		for i := 1; i < rows; i++ {
			if c := data[i*cols+objectnessIndex]; c > bestConf {
				best, bestConf = i, c
			}
		}
	}
	return data[best*cols : (best+1)*cols]
}

// Classify disambiguates the output, applies softmax and picks the argmax.
//
// Arguments:
//   - shape: The output tensor shape.
//   - data: The output tensor values.
//   - classNames: Labels in model index order.
//
// Returns:
//   - *Prediction: The predicted class with every class probability in percent.
//   - error: ErrEmptyOutput, a shape mismatch or scores that are all NaN.
func Classify(shape []int64, data []float32, classNames []string) (*Prediction, error) {
	logits, err := Disambiguate(shape, data, len(classNames))
	if err != nil {
		return nil, err
	}

	probs := probabilities(logits)
	idx, p := postprocess.Argmax(probs)
	if idx < 0 {
		return nil, errors.Errorf("no finite class score in output %v", logits)
	}

	pred := &Prediction{
		Class:         classNames[idx],
		Confidence:    p * 100,
		Probabilities: make([]ClassProbability, len(classNames)),
	}
	for i, name := range classNames {
		pred.Probabilities[i] = ClassProbability{Class: name, Probability: probs[i] * 100}
	}
	return pred, nil
}

// Model is a classification head.
type Model struct {
	options model.BaseModel
	config  *preprocess.ModelConfig
}

// NewModel creates a classifier for the given args.
func NewModel(args model.NewModelArgs) (*Model, error) {
	base := args.Base()
	if len(base.ClassNames) == 0 {
		return nil, errors.New("classifier needs class names")
	}
	cfg := preprocess.ClassifierConfig(base.InputSize)
	if args.KeepAspectRatio != nil {
		cfg.KeepAspectRatio = *args.KeepAspectRatio
	}
	return &Model{options: base, config: cfg}, nil
}

// Options returns the resolved model options.
func (m *Model) Options() model.BaseModel {
	return m.options
}

// PreprocessConfig returns the input configuration of the classifier.
func (m *Model) PreprocessConfig() *preprocess.ModelConfig {
	cfg := *m.config
	return &cfg
}

// PostProcess turns the raw output into per-class probabilities in [0, 1].
func (m *Model) PostProcess(out model.Output, _ model.Frame) (*model.Decoded, error) {
	logits, err := Disambiguate(out.Shape, out.Data, len(m.options.ClassNames))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding output %q", out.Name)
	}
	return &model.Decoded{Probabilities: probabilities(logits)}, nil
}

// probabilities applies softmax unless the head already ends in one.
func probabilities(scores []float32) []float32 {
	if postprocess.IsProbabilityVector(scores, 1e-3) {
		return append([]float32(nil), scores...)
	}
	return postprocess.Softmax(scores)
}
