package detectors

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/images"
	"github.com/nvr-ai/dentalogic/inference"
	"github.com/nvr-ai/dentalogic/models"
	"github.com/nvr-ai/dentalogic/models/model"
	"github.com/nvr-ai/dentalogic/models/model/preprocess"
	"github.com/nvr-ai/dentalogic/profiler"
)

// Profiler operation names recorded by a Detector.
const (
	OpPredict     = "predict"
	OpPreprocess  = "preprocess"
	OpInference   = "inference"
	OpPostprocess = "postprocess"
)

// Detection is one detected lesion.
type Detection struct {
	// Box is in original image pixels.
	Box        images.Rect
	Class      string
	ClassIndex int
	// Confidence in percent.
	Confidence float32
}

// ClassProbability is the probability of one class, in percent.
type ClassProbability struct {
	Class       string
	Probability float32
}

// Prediction is the aggregated result for one image.
type Prediction struct {
	Class string
	// Confidence of Class in percent.
	Confidence       float32
	AllProbabilities []ClassProbability
	// InferenceTime in milliseconds, rounded to two decimals.
	InferenceTime float64
	// Detections sorted by confidence, highest first. Empty for classifiers.
	Detections []Detection
}

// BoundingBoxes returns the detection boxes as [x1, y1, x2, y2].
func (p *Prediction) BoundingBoxes() [][4]float32 {
	out := make([][4]float32, len(p.Detections))
	for i, d := range p.Detections {
		out[i] = d.Box.XYXY()
	}
	return out
}

// Info describes a loaded detector.
type Info struct {
	Model      model.Name `json:"model"`
	Path       string     `json:"path"`
	InputShape []int64    `json:"input_shape"`
	Classes    []string   `json:"classes"`
	Provider   string     `json:"provider"`
}

// Detector runs the caries model on images.
type Detector struct {
	cfg      Config
	model    model.Model
	runner   inference.Runner
	pre      *preprocess.Preprocessor
	classes  *models.OutputClassSet
	logger   *slog.Logger
	profiler *profiler.Profiler
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger of the detector.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithProfiler records stage timings into p.
func WithProfiler(p *profiler.Profiler) Option {
	return func(d *Detector) {
		d.profiler = p
	}
}

// Open loads the ONNX model of cfg and returns a detector bound to it.
//
// Arguments:
//   - cfg: The detector configuration.
//   - opts: Optional logger and profiler.
//
// Returns:
//   - *Detector: The detector. Close releases the session.
//   - error: When the configuration is invalid or the model cannot be loaded.
func Open(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid detector config")
	}

	session, err := inference.NewSession(inference.NewSessionArgs{
		ModelPath:         cfg.ModelPath,
		InputSize:         cfg.InputSize,
		Provider:          cfg.Provider,
		SharedLibraryPath: cfg.SharedLibraryPath,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "loading model %s", cfg.ModelPath)
	}

	d, err := New(cfg, session, opts...)
	if err != nil {
		session.Close()
		return nil, err
	}
	return d, nil
}

// New builds a detector around an already created runner. The spatial size
// of a four-dimensional runner input overrides cfg.InputSize.
func New(cfg Config, runner inference.Runner, opts ...Option) (*Detector, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = models.CariesClasses.Names()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid detector config")
	}

	m, err := models.NewModel(cfg.ModelArgs())
	if err != nil {
		return nil, err
	}

	family := models.ModelFamilyCaries
	if len(cfg.Classes) == models.CariesClassesExtended.Len() {
		family = models.ModelFamilyCariesExtended
	}
	classes, err := models.ClassSetFor(family, cfg.Classes)
	if err != nil {
		return nil, err
	}

	preCfg := m.PreprocessConfig()
	if err := fitInputShape(preCfg, runner.InputShape()); err != nil {
		return nil, err
	}

	d := &Detector{
		cfg:     cfg,
		model:   m,
		runner:  runner,
		pre:     preprocess.NewPreprocessor(preCfg),
		classes: classes,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pre.SetLogger(d.logger)
	if l, ok := m.(interface{ SetLogger(*slog.Logger) }); ok {
		l.SetLogger(d.logger)
	}

	d.logger.Info("detector ready",
		"model", cfg.Model,
		"path", cfg.ModelPath,
		"input", runner.InputShape(),
		"classes", len(cfg.Classes))
	return d, nil
}

// fitInputShape sizes the preprocessor to a [1, C, H, W] or [1, H, W, C]
// runner input.
func fitInputShape(cfg *preprocess.ModelConfig, shape []int64) error {
	if len(shape) != 4 {
		return nil
	}
	switch {
	case shape[1] == 1 || shape[1] == 3:
		cfg.ChannelOrder = preprocess.ChannelOrderCHW
		cfg.InputChannels = int(shape[1])
		cfg.InputHeight, cfg.InputWidth = int(shape[2]), int(shape[3])
	case shape[3] == 1 || shape[3] == 3:
		cfg.ChannelOrder = preprocess.ChannelOrderHWC
		cfg.InputChannels = int(shape[3])
		cfg.InputHeight, cfg.InputWidth = int(shape[1]), int(shape[2])
	default:
		return errors.Errorf("cannot find the channel axis of input shape %v", shape)
	}
	if cfg.InputChannels == 1 {
		cfg.ColorMode = preprocess.ColorModeGrayscale
	}
	return nil
}

// Predict runs the model on img and aggregates the result.
//
// Arguments:
//   - ctx: Cancels the prediction before the model runs.
//   - img: The decoded input image.
//
// Returns:
//   - *Prediction: The predicted class, per-class probabilities and detections.
//   - error: When preprocessing, the run or decoding fails.
func (d *Detector) Predict(ctx context.Context, img image.Image) (*Prediction, error) {
	start := time.Now()
	defer d.profiler.Track(OpPredict)()

	stop := d.profiler.Track(OpPreprocess)
	res, err := d.pre.PreprocessImage(img)
	stop()
	if err != nil {
		return nil, errors.Wrap(err, "preprocessing image")
	}

	stop = d.profiler.Track(OpInference)
	outs, err := d.runner.Run(ctx, res.Data)
	stop()
	if err != nil {
		return nil, errors.Wrap(err, "running model")
	}
	if len(outs) == 0 {
		return nil, errors.New("model produced no outputs")
	}

	stop = d.profiler.Track(OpPostprocess)
	decoded, err := d.model.PostProcess(outs[0], res.Letterbox)
	stop()
	if err != nil {
		return nil, errors.Wrap(err, "decoding model output")
	}

	var pred *Prediction
	if d.cfg.Model.Family() == model.ModelFamilyClassifier {
		pred = aggregateProbabilities(d.classes, decoded.Probabilities)
	} else {
		pred = aggregateDetections(d.classes, decoded.Detections)
	}
	pred.InferenceTime = roundMillis(time.Since(start))

	d.logger.Debug("prediction",
		"class", pred.Class,
		"confidence", pred.Confidence,
		"detections", len(pred.Detections),
		"ms", pred.InferenceTime)
	return pred, nil
}

// WarmUp runs the model on a blank image so the first request does not pay
// for lazy provider initialization.
func (d *Detector) WarmUp(ctx context.Context, runs int) error {
	cfg := d.pre.Config()
	blank := image.NewRGBA(image.Rect(0, 0, cfg.InputWidth, cfg.InputHeight))
	draw.Draw(blank, blank.Bounds(), image.NewUniform(color.Gray{Y: 114}), image.Point{}, draw.Src)

	for i := 0; i < runs; i++ {
		if _, err := d.Predict(ctx, blank); err != nil {
			return errors.Wrapf(err, "warm-up run %d", i+1)
		}
	}
	return nil
}

// Classes returns the label set in model index order.
func (d *Detector) Classes() []string {
	return d.classes.Names()
}

// SessionStats returns the run counters of the runner, false when the runner
// keeps none.
func (d *Detector) SessionStats() (inference.SessionStats, bool) {
	r, ok := d.runner.(interface{ Stats() inference.SessionStats })
	if !ok {
		return inference.SessionStats{}, false
	}
	return r.Stats(), true
}

// ModelPath returns the path of the loaded model.
func (d *Detector) ModelPath() string {
	return d.cfg.ModelPath
}

// Info returns information about the loaded model.
func (d *Detector) Info() Info {
	backend := string(d.cfg.Provider.Backend)
	if backend == "" {
		backend = "cpu"
	}
	return Info{
		Model:      d.cfg.Model,
		Path:       d.cfg.ModelPath,
		InputShape: d.runner.InputShape(),
		Classes:    d.Classes(),
		Provider:   backend,
	}
}

// Close releases the runner.
func (d *Detector) Close() error {
	return d.runner.Close()
}
