package classifier

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/dentalogic/models/model"
)

var names = []string{"D0", "D1", "D2", "D3", "D4", "D5", "D6"}

func TestDisambiguate(t *testing.T) {
	tests := []struct {
		name     string
		shape    []int64
		data     []float32
		classes  int
		expected []float32
	}{
		{
			name:     "batched logits",
			shape:    []int64{1, 3},
			data:     []float32{0.1, 0.2, 0.3},
			classes:  3,
			expected: []float32{0.1, 0.2, 0.3},
		},
		{
			name:     "flat logits",
			shape:    []int64{3},
			data:     []float32{1, 2, 3},
			classes:  3,
			expected: []float32{1, 2, 3},
		},
		{
			name:     "short output is zero padded",
			shape:    []int64{1, 2},
			data:     []float32{5, 6},
			classes:  4,
			expected: []float32{5, 6, 0, 0},
		},
		{
			name:  "yolo rows with class scores after objectness",
			shape: []int64{1, 2, 8},
			data: []float32{
				0, 0, 0, 0, 0.2, 9, 9, 9,
				0, 0, 0, 0, 0.8, 1, 2, 3,
			},
			classes:  3,
			expected: []float32{1, 2, 3},
		},
		{
			name:  "narrow yolo rows use row prefix",
			shape: []int64{1, 2, 5},
			data: []float32{
				1, 1, 1, 1, 0.9,
				2, 2, 2, 2, 0.1,
			},
			classes:  3,
			expected: []float32{1, 1, 1},
		},
		{
			name:     "unknown layout takes flat prefix",
			shape:    []int64{1, 1, 2, 2},
			data:     []float32{4, 3, 2, 1},
			classes:  2,
			expected: []float32{4, 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Disambiguate(tt.shape, tt.data, tt.classes)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDisambiguateErrors(t *testing.T) {
	_, err := Disambiguate([]int64{1, 7}, nil, 7)
	assert.ErrorIs(t, err, ErrEmptyOutput)

	_, err = Disambiguate([]int64{1, 4, 12}, []float32{1, 2, 3}, 7)
	assert.Error(t, err)

	_, err = Disambiguate([]int64{1}, []float32{1}, 0)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	pred, err := Classify([]int64{1, 7}, []float32{0, 0, 0, 5, 0, 0, 0}, names)
	require.NoError(t, err)

	assert.Equal(t, "D3", pred.Class)
	require.Len(t, pred.Probabilities, 7)
	assert.Equal(t, "D0", pred.Probabilities[0].Class)
	assert.InDelta(t, pred.Confidence, pred.Probabilities[3].Probability, 1e-4)

	var sum float32
	for _, p := range pred.Probabilities {
		sum += p.Probability
	}
	assert.InDelta(t, 100, sum, 1e-3)
	assert.Greater(t, pred.Confidence, float32(90))
}

func TestClassifyNaNScores(t *testing.T) {
	nan := float32(math.NaN())
	_, err := Classify([]int64{1, 2}, []float32{nan, nan}, []string{"D0", "D1"})
	assert.Error(t, err)
}

func TestClassifyKeepsSoftmaxOutput(t *testing.T) {
	pred, err := Classify([]int64{1, 3}, []float32{0.1, 0.7, 0.2}, []string{"D0", "D1", "D2"})
	require.NoError(t, err)
	assert.Equal(t, "D1", pred.Class)
	assert.InDelta(t, 70, pred.Confidence, 1e-4)
	assert.InDelta(t, 10, pred.Probabilities[0].Probability, 1e-4)
}

func TestModelPostProcess(t *testing.T) {
	m, err := NewModel(model.NewModelArgs{Name: model.ModelNameClassifier, ClassNames: names, InputSize: 224})
	require.NoError(t, err)

	assert.Equal(t, model.ModelFamilyClassifier, m.Options().Family)
	assert.Equal(t, 224, m.PreprocessConfig().InputWidth)
	assert.False(t, m.PreprocessConfig().KeepAspectRatio)

	dec, err := m.PostProcess(model.Output{Shape: []int64{1, 7}, Data: []float32{9, 0, 0, 0, 0, 0, 0}}, model.Frame{})
	require.NoError(t, err)
	assert.Empty(t, dec.Detections)
	require.Len(t, dec.Probabilities, 7)
	assert.Greater(t, dec.Probabilities[0], float32(0.99))

	_, err = NewModel(model.NewModelArgs{Name: model.ModelNameClassifier})
	assert.Error(t, err)
}
