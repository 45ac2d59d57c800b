// Package model - Model abstraction shared by the detection and
// classification heads.
package model

import (
	"github.com/nvr-ai/dentalogic/models/model/preprocess"
	"github.com/nvr-ai/dentalogic/models/postprocess"
)

// Family is the family of models.
type Family string

const (
	// ModelFamilyYOLO covers box-regressing detection heads.
	ModelFamilyYOLO Family = "yolo"
	// ModelFamilyClassifier covers whole-image classification heads.
	ModelFamilyClassifier Family = "classifier"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameYOLOv8 is the anchor-free head, [1, 4+nc, N].
	ModelNameYOLOv8 Name = "yolov8"
	// ModelNameYOLOv5 is the objectness head, [1, N, 5+nc].
	ModelNameYOLOv5 Name = "yolov5"
	// ModelNameClassifier is a plain [1, C] classifier.
	ModelNameClassifier Name = "classifier"
)

// Family returns the family a model name belongs to.
func (n Name) Family() Family {
	if n == ModelNameClassifier {
		return ModelFamilyClassifier
	}
	return ModelFamilyYOLO
}

// Output is one named output tensor of a model run.
type Output struct {
	Name  string
	Shape []int64
	Data  []float32
}

// Frame describes how the input image was fitted into the model input.
type Frame = preprocess.Letterbox

// Decoded is the postprocessed output of a model run.
type Decoded struct {
	// Detections after thresholding and NMS, boxes in original image pixels.
	// Empty for classifiers.
	Detections []postprocess.Result
	// Probabilities per class in [0, 1], only set by classifiers.
	Probabilities []float32
}

// BaseModel is the base model for all models.
type BaseModel struct {
	Name                Name
	Family              Family
	Path                string
	InputSize           int
	ClassNames          []string
	ConfidenceThreshold float32
	NMS                 *postprocess.NMSConfig
}

// Model is a loaded model head that knows how to prepare its input and
// decode its output.
type Model interface {
	Options() BaseModel
	PreprocessConfig() *preprocess.ModelConfig
	PostProcess(out Output, frame Frame) (*Decoded, error)
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name                Name                   `json:"name" yaml:"name"`
	Path                string                 `json:"path" yaml:"path"`
	InputSize           int                    `json:"inputSize" yaml:"inputSize"`
	ClassNames          []string               `json:"classNames" yaml:"classNames"`
	ConfidenceThreshold float32                `json:"confidenceThreshold" yaml:"confidenceThreshold"`
	NMS                 *postprocess.NMSConfig `json:"nms" yaml:"nms"`
	KeepAspectRatio     *bool                  `json:"keepAspectRatio" yaml:"keepAspectRatio"`
}

// Base fills a BaseModel from args, applying defaults.
func (a NewModelArgs) Base() BaseModel {
	size := a.InputSize
	if size <= 0 {
		size = DefaultInputSize
	}
	nms := a.NMS
	if nms == nil {
		nms = postprocess.DefaultNMSConfig()
	}
	conf := a.ConfidenceThreshold
	if conf <= 0 {
		conf = DefaultConfidenceThreshold
	}
	return BaseModel{
		Name:                a.Name,
		Family:              a.Name.Family(),
		Path:                a.Path,
		InputSize:           size,
		ClassNames:          append([]string(nil), a.ClassNames...),
		ConfidenceThreshold: conf,
		NMS:                 nms,
	}
}

const (
	// DefaultInputSize is the square input the caries models are exported at.
	DefaultInputSize = 640
	// DefaultConfidenceThreshold drops weak detections.
	DefaultConfidenceThreshold float32 = 0.25
)
