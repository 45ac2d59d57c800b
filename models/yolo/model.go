package yolo

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/models/model"
	"github.com/nvr-ai/dentalogic/models/model/preprocess"
)

// YOLO is a YOLO detection head, v8 or v5.
type YOLO struct {
	options model.BaseModel
	config  *preprocess.ModelConfig
	logger  *slog.Logger
	checked sync.Once
}

// NewModel creates a new YOLO model.
//
// Arguments:
//   - args: The arguments for creating a new model.
//
// Returns:
//   - *YOLO: The YOLO model.
//   - error: When the name is not a YOLO variant.
func NewModel(args model.NewModelArgs) (*YOLO, error) {
	if args.Name != model.ModelNameYOLOv8 && args.Name != model.ModelNameYOLOv5 {
		return nil, errors.Errorf("%q is not a YOLO model", args.Name)
	}

	base := args.Base()
	cfg := preprocess.YOLOConfig(base.InputSize)
	cfg.Name = string(args.Name)
	if args.KeepAspectRatio != nil {
		cfg.KeepAspectRatio = *args.KeepAspectRatio
	}

	return &YOLO{options: base, config: cfg, logger: slog.New(slog.DiscardHandler)}, nil
}

// Options returns the options of the model.
func (y *YOLO) Options() model.BaseModel {
	return y.options
}

// PreprocessConfig returns a copy of the input configuration.
func (y *YOLO) PreprocessConfig() *preprocess.ModelConfig {
	cfg := *y.config
	return &cfg
}

// SetLogger sets the logger used for layout warnings.
func (y *YOLO) SetLogger(logger *slog.Logger) {
	if logger != nil {
		y.logger = logger
	}
}

// PostProcess decodes the head output into detections.
func (y *YOLO) PostProcess(out model.Output, frame model.Frame) (*model.Decoded, error) {
	numClasses := len(y.options.ClassNames)
	y.checked.Do(func() {
		l, err := InferLayout(out.Shape, y.options.Name, numClasses)
		if err == nil && !l.MatchesClasses {
			y.logger.Warn("output shape does not match the configured classes, layout follows the model name",
				"shape", out.Shape,
				"model", y.options.Name,
				"classes", numClasses,
				"objectness", l.Objectness,
				"head_classes", l.NumClasses())
		}
	})

	dets, err := Decode(out, y.options.Name, numClasses, frame, y.options.ConfidenceThreshold, y.options.NMS)
	if err != nil {
		return nil, err
	}
	return &model.Decoded{Detections: dets}, nil
}
