// Package yolo decodes YOLO detection heads into boxes on the original image.
package yolo

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/dentalogic/images"
	"github.com/nvr-ai/dentalogic/models/model"
	"github.com/nvr-ai/dentalogic/models/postprocess"
)

// Layout describes how a YOLO head arranges its predictions.
type Layout struct {
	// Objectness is true for heads with a box confidence column (v5).
	Objectness bool
	// ChannelMajor is true when attributes are the outer dimension,
	// [attrs, N] instead of [N, attrs].
	ChannelMajor bool
	// Attributes per prediction: 4 box values, optional objectness, classes.
	Attributes int
	// Predictions is the number of candidate boxes.
	Predictions int
	// MatchesClasses is false when the layout had to be guessed from the
	// model name because the attributes fit no configured class count.
	MatchesClasses bool
}

// NumClasses returns the number of class scores per prediction.
func (l Layout) NumClasses() int {
	return l.Attributes - l.prefix()
}

func (l Layout) prefix() int {
	if l.Objectness {
		return 5
	}
	return 4
}

// InferLayout works out the layout of an output tensor. Leading batch
// dimensions of 1 are ignored. The smaller of the two remaining dimensions is
// taken to be the attribute axis, since heads emit far more candidates than
// attributes.
//
// The class count decides whether the head has an objectness column:
// 5+numClasses attributes means it does, 4+numClasses means it does not.
// When the attributes match neither, or numClasses is 0, the model name
// decides and the class count is derived from the shape.
//
// Arguments:
//   - shape: The output tensor shape, e.g. [1, 11, 8400] or [1, 25200, 12].
//   - name: The model head; yolov5 implies an objectness column.
//   - numClasses: The configured class count, 0 when unknown.
//
// Returns:
//   - Layout: The inferred layout.
//   - error: When the shape cannot hold a single class score.
func InferLayout(shape []int64, name model.Name, numClasses int) (Layout, error) {
	dims := shape
	for len(dims) > 2 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 || dims[0] <= 0 || dims[1] <= 0 {
		return Layout{}, errors.Errorf("unsupported detection output shape %v", shape)
	}

	var l Layout
	a, b := int(dims[0]), int(dims[1])
	if a < b {
		l.ChannelMajor, l.Attributes, l.Predictions = true, a, b
	} else {
		l.Attributes, l.Predictions = b, a
	}

	switch {
	case numClasses > 0 && l.Attributes == 5+numClasses:
		l.Objectness, l.MatchesClasses = true, true
	case numClasses > 0 && l.Attributes == 4+numClasses:
		l.MatchesClasses = true
	default:
		l.Objectness = name == model.ModelNameYOLOv5
	}

	if l.NumClasses() < 1 {
		return Layout{}, errors.Errorf("output shape %v has no class scores", shape)
	}
	return l, nil
}

// rows returns the predictions as a row-major [N, attrs] slice.
func rows(l Layout, data []float32) ([]float32, error) {
	if !l.ChannelMajor {
		return data, nil
	}

	// Transpose works in place on the backing array, so it gets a copy.
	backing := append([]float32(nil), data...)
	t := tensor.New(tensor.WithShape(l.Attributes, l.Predictions), tensor.WithBacking(backing))
	if err := t.T(); err != nil {
		return nil, errors.Wrap(err, "transposing detection output")
	}
	if err := t.Transpose(); err != nil {
		return nil, errors.Wrap(err, "transposing detection output")
	}
	return t.Data().([]float32), nil
}

// Decode converts a raw head output into thresholded, NMS-filtered
// detections in original image pixels.
//
// Arguments:
//   - out: The output tensor of the head.
//   - name: The head variant.
//   - numClasses: The configured class count, 0 when unknown.
//   - frame: The letterbox applied to the input.
//   - confidence: Candidates scoring below it are dropped.
//   - nms: NMS configuration.
//
// Returns:
//   - []postprocess.Result: Detections, best first.
//   - error: When the output does not match a YOLO layout.
func Decode(out model.Output, name model.Name, numClasses int, frame model.Frame, confidence float32, nms *postprocess.NMSConfig) ([]postprocess.Result, error) {
	l, err := InferLayout(out.Shape, name, numClasses)
	if err != nil {
		return nil, err
	}

	size := l.Attributes * l.Predictions
	if len(out.Data) < size {
		return nil, errors.Errorf("output %q holds %d values, shape %v needs %d", out.Name, len(out.Data), out.Shape, size)
	}

	data, err := rows(l, out.Data[:size])
	if err != nil {
		return nil, err
	}

	var candidates []postprocess.Result
	prefix := l.prefix()
	for i := 0; i < l.Predictions; i++ {
		row := data[i*l.Attributes : (i+1)*l.Attributes]

		class, score := postprocess.Argmax(row[prefix:])
		if l.Objectness {
			score *= row[4]
		}
		if score < confidence {
			continue
		}

		box := frame.ToOriginal(images.RectFromCenter(row[0], row[1], row[2], row[3]))
		if box.Area() <= 0 {
			continue
		}

		candidates = append(candidates, postprocess.Result{Box: box, Score: score, Class: class})
	}

	return postprocess.Apply(candidates, nms), nil
}
