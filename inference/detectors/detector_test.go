package detectors

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/dentalogic/inference"
	"github.com/nvr-ai/dentalogic/models/model"
	"github.com/nvr-ai/dentalogic/profiler"
)

// fakeRunner returns a fixed output and records the inputs it was given.
type fakeRunner struct {
	mu     sync.Mutex
	shape  []int64
	output inference.Output
	err    error
	inputs int
	size   int
	closed bool
}

func (f *fakeRunner) Run(ctx context.Context, input []float32) ([]inference.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs++
	f.size = len(input)
	if f.err != nil {
		return nil, f.err
	}
	return []inference.Output{f.output}, nil
}

func (f *fakeRunner) InputShape() []int64 { return f.shape }

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

// yoloOutput lays predictions [cx, cy, w, h, s0..s6] out as [1, 11, 16].
func yoloOutput(preds ...[]float32) inference.Output {
	const attrs, n = 11, 16
	data := make([]float32, attrs*n)
	for i, p := range preds {
		for a, v := range p {
			data[a*n+i] = v
		}
	}
	return inference.Output{Name: "output0", Shape: []int64{1, attrs, n}, Data: data}
}

func prediction(cx, cy, w, h float32, class int, score float32) []float32 {
	p := make([]float32, 11)
	p[0], p[1], p[2], p[3] = cx, cy, w, h
	p[4+class] = score
	return p
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ModelPath = "caries.onnx"
	return cfg
}

func probability(t *testing.T, pred *Prediction, class string) float32 {
	t.Helper()
	for _, p := range pred.AllProbabilities {
		if p.Class == class {
			return p.Probability
		}
	}
	t.Fatalf("class %s missing from probabilities", class)
	return 0
}

func TestPredictDetections(t *testing.T) {
	runner := &fakeRunner{
		shape: []int64{1, 3, 32, 32},
		output: yoloOutput(
			prediction(16, 16, 8, 8, 3, 0.9),
			prediction(8, 8, 4, 4, 1, 0.6),
			prediction(24, 24, 4, 4, 5, 0.1),
		),
	}
	prof := profiler.New(10)
	d, err := New(testConfig(), runner, WithProfiler(prof))
	require.NoError(t, err)

	pred, err := d.Predict(context.Background(), testImage(64, 64))
	require.NoError(t, err)

	assert.Equal(t, 3*32*32, runner.size)
	assert.Equal(t, "D3", pred.Class)
	assert.InDelta(t, 90, pred.Confidence, 1e-3)
	assert.GreaterOrEqual(t, pred.InferenceTime, 0.0)

	require.Len(t, pred.Detections, 2)
	assert.Equal(t, "D3", pred.Detections[0].Class)
	assert.Equal(t, 3, pred.Detections[0].ClassIndex)
	assert.InDelta(t, 24, pred.Detections[0].Box.X1, 1e-3)
	assert.InDelta(t, 40, pred.Detections[0].Box.Y2, 1e-3)
	assert.Equal(t, "D1", pred.Detections[1].Class)
	assert.Equal(t, [4]float32{12, 12, 20, 20}, pred.BoundingBoxes()[1])

	require.Len(t, pred.AllProbabilities, 7)
	assert.Equal(t, "D0", pred.AllProbabilities[0].Class)
	assert.InDelta(t, 90, probability(t, pred, "D3"), 1e-3)
	assert.InDelta(t, 60, probability(t, pred, "D1"), 1e-3)
	assert.Zero(t, probability(t, pred, "D5"))

	for _, op := range []string{OpPredict, OpPreprocess, OpInference, OpPostprocess} {
		s, ok := prof.Operation(op)
		require.True(t, ok, op)
		assert.Equal(t, int64(1), s.Count)
	}
}

func TestPredictNoDetections(t *testing.T) {
	runner := &fakeRunner{shape: []int64{1, 3, 32, 32}, output: yoloOutput()}
	d, err := New(testConfig(), runner)
	require.NoError(t, err)

	pred, err := d.Predict(context.Background(), testImage(40, 20))
	require.NoError(t, err)
	assert.Equal(t, "D0", pred.Class)
	assert.Zero(t, pred.Confidence)
	assert.Empty(t, pred.Detections)
	for _, p := range pred.AllProbabilities {
		assert.Zero(t, p.Probability)
	}
}

func TestPredictClassifier(t *testing.T) {
	runner := &fakeRunner{
		shape:  []int64{1, 3, 16, 16},
		output: inference.Output{Name: "logits", Shape: []int64{1, 7}, Data: []float32{0, 0, 0, 0, 5, 0, 0}},
	}
	cfg := testConfig()
	cfg.Model = model.ModelNameClassifier
	d, err := New(cfg, runner)
	require.NoError(t, err)

	pred, err := d.Predict(context.Background(), testImage(30, 30))
	require.NoError(t, err)
	assert.Equal(t, 3*16*16, runner.size)
	assert.Equal(t, "D4", pred.Class)
	assert.Greater(t, pred.Confidence, float32(90))
	assert.Empty(t, pred.Detections)

	var total float32
	for _, p := range pred.AllProbabilities {
		total += p.Probability
	}
	assert.InDelta(t, 100, total, 1e-3)
}

func TestPredictErrors(t *testing.T) {
	runner := &fakeRunner{shape: []int64{1, 3, 32, 32}, err: errors.New("boom")}
	d, err := New(testConfig(), runner)
	require.NoError(t, err)

	_, err = d.Predict(context.Background(), testImage(8, 8))
	assert.ErrorContains(t, err, "boom")

	_, err = d.Predict(context.Background(), nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner.err = nil
	_, err = d.Predict(ctx, testImage(8, 8))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewValidates(t *testing.T) {
	runner := &fakeRunner{shape: []int64{1, 3, 32, 32}}

	_, err := New(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Model = "detr"
	_, err = New(cfg, runner)
	assert.Error(t, err)

	_, err = New(testConfig(), &fakeRunner{shape: []int64{1, 5, 32, 32}})
	assert.Error(t, err)
}

func TestHWCInput(t *testing.T) {
	runner := &fakeRunner{shape: []int64{1, 24, 32, 3}, output: yoloOutput()}
	d, err := New(testConfig(), runner)
	require.NoError(t, err)

	_, err = d.Predict(context.Background(), testImage(64, 48))
	require.NoError(t, err)
	assert.Equal(t, 24*32*3, runner.size)
}

func TestWarmUpAndInfo(t *testing.T) {
	runner := &fakeRunner{shape: []int64{1, 3, 32, 32}, output: yoloOutput()}
	d, err := New(testConfig(), runner)
	require.NoError(t, err)

	require.NoError(t, d.WarmUp(context.Background(), 3))
	assert.Equal(t, 3, runner.inputs)

	info := d.Info()
	assert.Equal(t, model.ModelNameYOLOv8, info.Model)
	assert.Equal(t, "caries.onnx", info.Path)
	assert.Equal(t, "cpu", info.Provider)
	assert.Len(t, info.Classes, 7)
	assert.Equal(t, "caries.onnx", d.ModelPath())

	require.NoError(t, d.Close())
	assert.True(t, runner.closed)
}

// statsRunner is a runner that keeps session counters.
type statsRunner struct {
	fakeRunner
}

func (r *statsRunner) Stats() inference.SessionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return inference.SessionStats{Runs: int64(r.inputs)}
}

func TestDetectorSessionStats(t *testing.T) {
	d, err := New(testConfig(), &fakeRunner{shape: []int64{1, 3, 32, 32}, output: yoloOutput()})
	require.NoError(t, err)
	_, ok := d.SessionStats()
	assert.False(t, ok)

	runner := &statsRunner{fakeRunner{shape: []int64{1, 3, 32, 32}, output: yoloOutput()}}
	d, err = New(testConfig(), runner)
	require.NoError(t, err)
	_, err = d.Predict(context.Background(), testImage(32, 32))
	require.NoError(t, err)

	stats, ok := d.SessionStats()
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Runs)
}

func TestExtendedClassOutsideSet(t *testing.T) {
	// A nine-class head served with the seven-class set.
	const attrs, n = 13, 16
	data := make([]float32, attrs*n)
	for a, v := range []float32{16, 16, 8, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0.8} {
		data[a*n] = v
	}
	runner := &fakeRunner{
		shape:  []int64{1, 3, 32, 32},
		output: inference.Output{Shape: []int64{1, attrs, n}, Data: data},
	}
	var logs bytes.Buffer
	d, err := New(testConfig(), runner, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	pred, err := d.Predict(context.Background(), testImage(32, 32))
	require.NoError(t, err)
	assert.Equal(t, "D8", pred.Class)
	assert.Contains(t, logs.String(), "does not match the configured classes")
	assert.Len(t, pred.AllProbabilities, 7)
	for _, p := range pred.AllProbabilities {
		assert.Zero(t, p.Probability)
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, testConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no path", func(c *Config) { c.ModelPath = "" }},
		{"bad model", func(c *Config) { c.Model = "ssd" }},
		{"confidence", func(c *Config) { c.ConfidenceThreshold = 1.5 }},
		{"iou", func(c *Config) { c.IoUThreshold = -0.1 }},
		{"duplicate class", func(c *Config) { c.Classes = []string{"D0", "D0"} }},
		{"empty class", func(c *Config) { c.Classes = []string{""} }},
		{"provider", func(c *Config) { c.Provider.Backend = "tpu" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestModelArgs(t *testing.T) {
	cfg := testConfig()
	cfg.IoUThreshold = 0.4
	args := cfg.ModelArgs()
	require.NotNil(t, args.NMS)
	assert.InDelta(t, 0.4, args.NMS.IoUThreshold, 1e-6)
	require.NotNil(t, args.KeepAspectRatio)
	assert.True(t, *args.KeepAspectRatio)
}
