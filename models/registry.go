// Package models - registry for models.
package models

import (
	"fmt"

	"github.com/nvr-ai/dentalogic/models/classifier"
	"github.com/nvr-ai/dentalogic/models/model"
	"github.com/nvr-ai/dentalogic/models/yolo"
)

// NewModel creates a model head instance based on the specified model name.
//
// Class names default to the standard caries set when args carries none.
//
// Arguments:
//   - args: Configuration parameters specifying the model type and location.
//
// Returns:
//   - model.Model: A configured model implementing the Model interface.
//   - error: If the model name is unsupported or the arguments are invalid.
//
// Example:
//
//	detector, err := NewModel(model.NewModelArgs{
//	    Name: model.ModelNameYOLOv8,
//	    Path: "models/caries.onnx",
//	})
func NewModel(args model.NewModelArgs) (model.Model, error) {
	if len(args.ClassNames) == 0 {
		args.ClassNames = CariesClasses.Names()
	}

	switch args.Name {
	case model.ModelNameYOLOv8, model.ModelNameYOLOv5:
		m, err := yolo.NewModel(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	case model.ModelNameClassifier:
		m, err := classifier.NewModel(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported model name: %s", args.Name)
	}
}
