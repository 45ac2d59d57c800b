package yolo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/dentalogic/models/model"
	"github.com/nvr-ai/dentalogic/models/postprocess"
)

var identity = model.Frame{OriginalWidth: 640, OriginalHeight: 640, ScaleX: 1, ScaleY: 1}

// withFillers appends empty predictions so candidates outnumber attributes,
// as they do in real heads.
func withFillers(preds [][]float32) [][]float32 {
	out := append([][]float32(nil), preds...)
	for len(out) < 16 {
		out = append(out, make([]float32, len(preds[0])))
	}
	return out
}

// channelMajor lays prediction rows out as [1, attrs, N].
func channelMajor(preds [][]float32) model.Output {
	preds = withFillers(preds)
	attrs, n := len(preds[0]), len(preds)
	data := make([]float32, attrs*n)
	for i, p := range preds {
		for a, v := range p {
			data[a*n+i] = v
		}
	}
	return model.Output{Name: "output0", Shape: []int64{1, int64(attrs), int64(n)}, Data: data}
}

func rowMajor(preds [][]float32) model.Output {
	preds = withFillers(preds)
	var data []float32
	for _, p := range preds {
		data = append(data, p...)
	}
	return model.Output{Name: "output0", Shape: []int64{1, int64(len(preds)), int64(len(preds[0]))}, Data: data}
}

func TestInferLayout(t *testing.T) {
	l, err := InferLayout([]int64{1, 11, 8400}, model.ModelNameYOLOv8, 0)
	require.NoError(t, err)
	assert.True(t, l.ChannelMajor)
	assert.Equal(t, 7, l.NumClasses())
	assert.Equal(t, 8400, l.Predictions)
	assert.False(t, l.MatchesClasses)

	l, err = InferLayout([]int64{1, 25200, 12}, model.ModelNameYOLOv5, 0)
	require.NoError(t, err)
	assert.False(t, l.ChannelMajor)
	assert.Equal(t, 7, l.NumClasses())

	l, err = InferLayout([]int64{12, 8400}, model.ModelNameYOLOv8, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, l.NumClasses())

	_, err = InferLayout([]int64{1, 7}, model.ModelNameYOLOv8, 0)
	assert.Error(t, err)
	_, err = InferLayout([]int64{1, 4, 100}, model.ModelNameYOLOv8, 0)
	assert.Error(t, err)
	_, err = InferLayout([]int64{2, 11, 8400}, model.ModelNameYOLOv8, 0)
	assert.Error(t, err)
}

func TestInferLayoutFromClassCount(t *testing.T) {
	tests := []struct {
		name       string
		shape      []int64
		model      model.Name
		classes    int
		objectness bool
		matches    bool
		numClasses int
	}{
		{name: "v5 head under v8 name", shape: []int64{1, 25200, 12}, model: model.ModelNameYOLOv8, classes: 7, objectness: true, matches: true, numClasses: 7},
		{name: "v8 head under v5 name", shape: []int64{1, 11, 8400}, model: model.ModelNameYOLOv5, classes: 7, objectness: false, matches: true, numClasses: 7},
		{name: "v8 head under v8 name", shape: []int64{1, 11, 8400}, model: model.ModelNameYOLOv8, classes: 7, objectness: false, matches: true, numClasses: 7},
		{name: "no match falls back to v8 name", shape: []int64{1, 13, 8400}, model: model.ModelNameYOLOv8, classes: 7, objectness: false, matches: false, numClasses: 9},
		{name: "no match falls back to v5 name", shape: []int64{1, 13, 8400}, model: model.ModelNameYOLOv5, classes: 7, objectness: true, matches: false, numClasses: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := InferLayout(tt.shape, tt.model, tt.classes)
			require.NoError(t, err)
			assert.Equal(t, tt.objectness, l.Objectness)
			assert.Equal(t, tt.matches, l.MatchesClasses)
			assert.Equal(t, tt.numClasses, l.NumClasses())
		})
	}
}

func TestDecodeObjectnessHeadUnderV8Name(t *testing.T) {
	// Seven classes with an objectness column: 12 attributes.
	out := rowMajor([][]float32{
		{100, 100, 50, 50, 0.9, 0, 0, 0, 0.95, 0, 0, 0},
	})

	dets, err := Decode(out, model.ModelNameYOLOv8, 7, identity, 0.25, postprocess.DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 3, dets[0].Class)
	assert.InDelta(t, 0.855, dets[0].Score, 1e-5)

	// Read by name alone every class index shifts by one.
	dets, err = Decode(out, model.ModelNameYOLOv8, 0, identity, 0.25, postprocess.DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 4, dets[0].Class)
}

func TestDecodeV8ChannelMajor(t *testing.T) {
	out := channelMajor([][]float32{
		{100, 100, 50, 50, 0.9, 0.1},
		{102, 102, 50, 50, 0.8, 0.1},
		{400, 400, 40, 40, 0.1, 0.6},
		{300, 300, 40, 40, 0.1, 0.2},
	})

	dets, err := Decode(out, model.ModelNameYOLOv8, 0, identity, 0.25, postprocess.DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, 0, dets[0].Class)
	assert.InDelta(t, 0.9, dets[0].Score, 1e-6)
	assert.InDelta(t, 75, dets[0].Box.X1, 1e-4)
	assert.InDelta(t, 125, dets[0].Box.Y2, 1e-4)

	assert.Equal(t, 1, dets[1].Class)
	assert.InDelta(t, 0.6, dets[1].Score, 1e-6)
}

func TestDecodeV8RowMajorMatchesChannelMajor(t *testing.T) {
	preds := [][]float32{
		{100, 100, 50, 50, 0.9, 0.1},
		{400, 400, 40, 40, 0.1, 0.6},
		{500, 200, 40, 40, 0.3, 0.2},
	}
	a, err := Decode(channelMajor(preds), model.ModelNameYOLOv8, 0, identity, 0.25, postprocess.DefaultNMSConfig())
	require.NoError(t, err)
	b, err := Decode(rowMajor(preds), model.ModelNameYOLOv8, 0, identity, 0.25, postprocess.DefaultNMSConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 3)
}

func TestDecodeV5Objectness(t *testing.T) {
	out := rowMajor([][]float32{
		{100, 100, 50, 50, 0.9, 0.2, 0.9, 0},
		{300, 300, 50, 50, 0.2, 0.9, 0.1, 0},
		{500, 500, 50, 50, 0.5, 0.1, 0.1, 0.8},
		{200, 500, 50, 50, 0.5, 0.1, 0.1, 0.1},
		{400, 100, 50, 50, 0.5, 0.1, 0.1, 0.1},
		{100, 400, 50, 50, 0.5, 0.1, 0.1, 0.1},
		{300, 600, 50, 50, 0.5, 0.1, 0.1, 0.1},
		{600, 300, 50, 50, 0.5, 0.1, 0.1, 0.1},
		{50, 50, 20, 20, 0.5, 0.1, 0.1, 0.1},
	})

	dets, err := Decode(out, model.ModelNameYOLOv5, 0, identity, 0.25, postprocess.DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, 1, dets[0].Class)
	assert.InDelta(t, 0.81, dets[0].Score, 1e-5)
	assert.Equal(t, 2, dets[1].Class)
	assert.InDelta(t, 0.4, dets[1].Score, 1e-5)
}

func TestDecodeMapsThroughLetterbox(t *testing.T) {
	frame := model.Frame{OriginalWidth: 800, OriginalHeight: 600, ScaleX: 0.8, ScaleY: 0.8, PadTop: 80}
	out := channelMajor([][]float32{
		{320, 320, 80, 80, 0.7, 0.1},
		{620, 70, 100, 100, 0.1, 0.5},
	})

	dets, err := Decode(out, model.ModelNameYOLOv8, 0, frame, 0.25, postprocess.DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, dets, 2)

	b := dets[0].Box
	assert.InDelta(t, 350, b.X1, 1e-3)
	assert.InDelta(t, 250, b.Y1, 1e-3)
	assert.InDelta(t, 450, b.X2, 1e-3)
	assert.InDelta(t, 350, b.Y2, 1e-3)

	// The second box pokes out of the image and is clipped.
	c := dets[1].Box
	assert.Equal(t, float32(800), c.X2)
	assert.Equal(t, float32(0), c.Y1)
}

func TestDecodeDropsBoxesInsidePadding(t *testing.T) {
	frame := model.Frame{OriginalWidth: 800, OriginalHeight: 600, ScaleX: 0.8, ScaleY: 0.8, PadTop: 80}
	out := channelMajor([][]float32{
		{320, 20, 40, 20, 0.9, 0.1},
		{320, 320, 40, 40, 0.1, 0.1},
	})

	dets, err := Decode(out, model.ModelNameYOLOv8, 0, frame, 0.25, postprocess.DefaultNMSConfig())
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestDecodeRejectsShortData(t *testing.T) {
	out := model.Output{Name: "output0", Shape: []int64{1, 6, 10}, Data: make([]float32, 12)}
	_, err := Decode(out, model.ModelNameYOLOv8, 0, identity, 0.25, nil)
	assert.Error(t, err)
}

func TestYOLOModel(t *testing.T) {
	m, err := NewModel(model.NewModelArgs{Name: model.ModelNameYOLOv8})
	require.NoError(t, err)

	opts := m.Options()
	assert.Equal(t, model.ModelFamilyYOLO, opts.Family)
	assert.Equal(t, 640, opts.InputSize)
	assert.Equal(t, float32(0.25), opts.ConfidenceThreshold)
	assert.InDelta(t, 0.5, opts.NMS.IoUThreshold, 1e-6)
	assert.True(t, m.PreprocessConfig().KeepAspectRatio)

	dec, err := m.PostProcess(channelMajor([][]float32{{100, 100, 50, 50, 0.9, 0.1}}), identity)
	require.NoError(t, err)
	assert.Len(t, dec.Detections, 1)
	assert.Nil(t, dec.Probabilities)

	_, err = NewModel(model.NewModelArgs{Name: model.ModelNameClassifier})
	assert.Error(t, err)
}
