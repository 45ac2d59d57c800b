// Package detectors - caries detector configuration.
package detectors

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/inference/providers"
	"github.com/nvr-ai/dentalogic/models"
	"github.com/nvr-ai/dentalogic/models/model"
	"github.com/nvr-ai/dentalogic/models/postprocess"
)

// Config represents the configuration of a caries detector.
type Config struct {
	// Model selects the output head, see model.Name.
	Model model.Name `json:"model" yaml:"model"`
	// ModelPath is the ONNX file to load.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// InputSize is the square model input used when the model leaves it dynamic.
	InputSize int `json:"input_size" yaml:"input_size"`
	// Classes lists the labels in model index order.
	Classes []string `json:"classes" yaml:"classes"`
	// ConfidenceThreshold filters detections below this confidence level.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// IoUThreshold controls Non-Maximum Suppression.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// KeepAspectRatio letterboxes the input instead of stretching it.
	KeepAspectRatio bool `json:"keep_aspect_ratio" yaml:"keep_aspect_ratio"`
	// Provider is the execution provider configuration.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// SharedLibraryPath overrides the onnxruntime library location.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
}

// DefaultConfig returns the configuration of the reference caries server:
// a YOLOv8 head at 640x640, confidence 0.25 and IoU 0.5.
func DefaultConfig() Config {
	return Config{
		Model:               model.ModelNameYOLOv8,
		ModelPath:           "models/caries.onnx",
		InputSize:           model.DefaultInputSize,
		Classes:             models.CariesClasses.Names(),
		ConfidenceThreshold: model.DefaultConfidenceThreshold,
		IoUThreshold:        0.5,
		KeepAspectRatio:     true,
		Provider:            providers.DefaultConfig(),
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Model {
	case model.ModelNameYOLOv8, model.ModelNameYOLOv5, model.ModelNameClassifier:
	default:
		return errors.Errorf("unsupported model %q", c.Model)
	}
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.InputSize < 0 {
		return errors.Errorf("input size must not be negative, got %d", c.InputSize)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence threshold must be within [0, 1], got %v", c.ConfidenceThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Errorf("IoU threshold must be within [0, 1], got %v", c.IoUThreshold)
	}
	seen := make(map[string]bool, len(c.Classes))
	for _, name := range c.Classes {
		if name == "" {
			return errors.New("class names must not be empty")
		}
		if seen[name] {
			return errors.Errorf("duplicate class %q", name)
		}
		seen[name] = true
	}
	return errors.Wrap(c.Provider.Validate(), "provider")
}

// ModelArgs converts the configuration into model head arguments.
func (c Config) ModelArgs() model.NewModelArgs {
	nms := postprocess.DefaultNMSConfig()
	if c.IoUThreshold > 0 {
		nms.IoUThreshold = c.IoUThreshold
	}
	keep := c.KeepAspectRatio
	return model.NewModelArgs{
		Name:                c.Model,
		Path:                c.ModelPath,
		InputSize:           c.InputSize,
		ClassNames:          append([]string(nil), c.Classes...),
		ConfidenceThreshold: c.ConfidenceThreshold,
		NMS:                 nms,
		KeepAspectRatio:     &keep,
	}
}
