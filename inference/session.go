// Package inference - ONNX Runtime sessions.
package inference

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/dentalogic/inference/providers"
	"github.com/nvr-ai/dentalogic/models/model"
)

// Output is one named output tensor of a model run.
type Output = model.Output

// Runner executes a model on a preprocessed input tensor.
type Runner interface {
	// Run executes the model. Outputs are copies owned by the caller.
	Run(ctx context.Context, input []float32) ([]Output, error)
	// InputShape is the resolved input tensor shape, e.g. [1, 3, 640, 640].
	InputShape() []int64
	// Close releases native resources.
	Close() error
}

var envMu sync.Mutex

// InitEnvironment loads the onnxruntime shared library and initializes the
// process-wide environment. Calling it again is a no-op.
//
// Arguments:
//   - libPath: Explicit library path, may be empty (see providers.SharedLibPath).
//
// Returns:
//   - error: When the library is missing or fails to initialize.
func InitEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	path, err := providers.SharedLibPath(libPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", path)
	}

	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// DestroyEnvironment tears the onnxruntime environment down. Sessions must be
// closed first.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// NewSessionArgs represents the arguments for creating a new session.
type NewSessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// InputSize replaces dynamic spatial input dimensions.
	InputSize int
	// Provider selects the execution provider.
	Provider providers.Config
	// SharedLibraryPath overrides the onnxruntime library location.
	SharedLibraryPath string
}

// Session is a loaded model with preallocated input and output tensors.
type Session struct {
	mu          sync.Mutex
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	outputs     []*ort.Tensor[float32]
	inputShape  []int64
	outputNames []string

	runs      int64
	totalTime time.Duration
}

// NewSession creates a new ONNX Runtime session.
//
// Order of operations:
//  1. Environment setup: loads the native library once per process.
//  2. Introspection: reads input and output names and shapes from the model.
//  3. Shape resolution: fixes dynamic dimensions.
//  4. Tensor allocation: prepares fixed-shape buffers for input/output data.
//  5. Session creation: loads the model and binds the tensors.
//
// Arguments:
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The runnable session. Close must be called when done.
//   - error: An error if the session creation fails.
func NewSession(args NewSessionArgs) (*Session, error) {
	if _, err := os.Stat(args.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", args.ModelPath)
	}
	if err := InitEnvironment(args.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(args.ModelPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading model inputs and outputs")
	}
	if len(inputInfo) != 1 {
		return nil, errors.Errorf("expected a single image input, model has %d", len(inputInfo))
	}
	if len(outputInfo) == 0 {
		return nil, errors.New("model has no outputs")
	}

	inputShape, err := ResolveInputShape(inputInfo[0].Dimensions, args.InputSize)
	if err != nil {
		return nil, err
	}

	s := &Session{inputShape: inputShape}

	s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(inputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	outputs := make([]ort.Value, 0, len(outputInfo))
	for _, info := range outputInfo {
		if info.DataType != ort.TensorElementDataTypeFloat {
			s.Close()
			return nil, errors.Errorf("output %q has element type %v, only float32 is supported", info.Name, info.DataType)
		}
		shape, err := ResolveOutputShape(info.Dimensions)
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "output %q", info.Name)
		}
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		if err != nil {
			s.Close()
			return nil, errors.Wrap(err, "error creating output tensor")
		}
		s.outputs = append(s.outputs, t)
		s.outputNames = append(s.outputNames, info.Name)
		outputs = append(outputs, t)
	}

	options, err := providers.SessionOptions(args.Provider)
	if err != nil {
		s.Close()
		return nil, err
	}
	defer options.Destroy()

	s.session, err = ort.NewAdvancedSession(
		args.ModelPath,
		[]string{inputInfo[0].Name},
		s.outputNames,
		[]ort.Value{s.input},
		outputs,
		options,
	)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return s, nil
}

// ResolveInputShape fixes the dynamic (-1) dimensions of an image input:
// batch becomes 1, a four-dimensional input's channel axis 3 and every other
// axis size.
func ResolveInputShape(dims []int64, size int) ([]int64, error) {
	if len(dims) == 0 {
		return nil, errors.New("input has no dimensions")
	}
	out := make([]int64, len(dims))
	for i, d := range dims {
		switch {
		case d > 0:
			out[i] = d
		case i == 0:
			out[i] = 1
		case i == 1 && len(dims) == 4:
			out[i] = 3
		case size > 0:
			out[i] = int64(size)
		default:
			return nil, errors.Errorf("input dimension %d of %v is dynamic and no input size is configured", i, dims)
		}
	}
	return out, nil
}

// ResolveOutputShape fixes a dynamic batch dimension to 1. Any other dynamic
// dimension is an error since outputs are preallocated.
func ResolveOutputShape(dims []int64) ([]int64, error) {
	if len(dims) == 0 {
		return nil, errors.New("output has no dimensions")
	}
	out := make([]int64, len(dims))
	for i, d := range dims {
		switch {
		case d > 0:
			out[i] = d
		case i == 0:
			out[i] = 1
		default:
			return nil, errors.Errorf("dimension %d of %v is dynamic; export the model with static output shapes", i, dims)
		}
	}
	return out, nil
}

// InputShape returns the resolved input shape.
func (s *Session) InputShape() []int64 {
	return append([]int64(nil), s.inputShape...)
}

// Run copies input into the bound tensor, runs the model and copies every
// output out. Runs are serialized since the tensors are shared.
func (s *Session) Run(ctx context.Context, input []float32) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session is closed")
	}

	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, errors.Errorf("input holds %d values, model expects %d (shape %v)", len(input), len(dst), s.inputShape)
	}
	copy(dst, input)

	start := time.Now()
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}
	s.runs++
	s.totalTime += time.Since(start)

	results := make([]Output, len(s.outputs))
	for i, t := range s.outputs {
		results[i] = Output{
			Name:  s.outputNames[i],
			Shape: append([]int64(nil), t.GetShape()...),
			Data:  append([]float32(nil), t.GetData()...),
		}
	}
	return results, nil
}

// SessionStats summarizes the runs of a session.
type SessionStats struct {
	Runs          int64   `json:"runs"`
	TotalTimeMs   float64 `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
}

// Stats returns run counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SessionStats{Runs: s.runs, TotalTimeMs: float64(s.totalTime.Microseconds()) / 1000}
	if s.runs > 0 {
		stats.AverageTimeMs = stats.TotalTimeMs / float64(s.runs)
	}
	return stats
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	for _, t := range s.outputs {
		t.Destroy()
	}
	s.outputs = nil

	if err != nil {
		return errors.Wrap(err, "error destroying ORT session")
	}
	return nil
}
