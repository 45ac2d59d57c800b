package detectors

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrLoaderClosed is returned once a Loader has been closed.
var ErrLoaderClosed = errors.New("model loader is closed")

// ErrModelNotLoaded matches every load failure returned by Loader.Get.
var ErrModelNotLoaded = errors.New("model not loaded")

// LoadError is a failed model load.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return "loading model: " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is matches ErrModelNotLoaded.
func (e *LoadError) Is(target error) bool {
	return target == ErrModelNotLoaded
}

// Predictor is anything that turns images into predictions.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) (*Prediction, error)
	Classes() []string
	Close() error
}

// Factory creates a Predictor, typically by opening a model file.
type Factory func() (Predictor, error)

// Loader loads a Predictor lazily. A failed load is retried by the next
// caller; concurrent callers share the load in flight.
type Loader struct {
	factory Factory
	logger  *slog.Logger

	mu        sync.Mutex
	predictor Predictor
	inflight  *loadAttempt
	lastErr   error
	closed    bool
}

type loadAttempt struct {
	done      chan struct{}
	predictor Predictor
	err       error
}

// NewLoader returns a loader around factory. Nothing is loaded until Get.
func NewLoader(factory Factory, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{factory: factory, logger: logger}
}

// Get returns the loaded predictor, loading it first when needed.
//
// Arguments:
//   - ctx: Bounds how long the caller waits; the load itself keeps running
//     and its result is kept for later callers.
//
// Returns:
//   - Predictor: The loaded predictor.
//   - error: The load failure, ctx.Err() or ErrLoaderClosed.
func (l *Loader) Get(ctx context.Context) (Predictor, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLoaderClosed
	}
	if l.predictor != nil {
		p := l.predictor
		l.mu.Unlock()
		return p, nil
	}
	attempt := l.inflight
	if attempt == nil {
		attempt = &loadAttempt{done: make(chan struct{})}
		l.inflight = attempt
		go l.load(attempt)
	}
	l.mu.Unlock()

	select {
	case <-attempt.done:
		if attempt.err != nil {
			return nil, attempt.err
		}
		return attempt.predictor, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) load(attempt *loadAttempt) {
	start := time.Now()
	p, err := l.build()

	l.mu.Lock()
	defer close(attempt.done)
	defer l.mu.Unlock()

	l.inflight = nil
	switch {
	case err != nil:
		attempt.err = &LoadError{Err: err}
		l.lastErr = attempt.err
		l.logger.Error("model load failed", "error", err, "elapsed", time.Since(start))
	case l.closed:
		p.Close()
		attempt.err = ErrLoaderClosed
	default:
		attempt.predictor = p
		l.predictor = p
		l.lastErr = nil
		l.logger.Info("model loaded", "classes", p.Classes(), "elapsed", time.Since(start))
	}
}

// build runs the factory, turning a panic into an error.
func (l *Loader) build() (p Predictor, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, errors.Errorf("model factory panicked: %v", r)
		}
	}()
	return l.factory()
}

// Loaded reports whether a predictor is ready.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.predictor != nil
}

// LastError returns the error of the most recent failed load, nil after a
// successful one.
func (l *Loader) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Close closes the loaded predictor. A load still in flight is closed when
// it completes.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.predictor == nil {
		return nil
	}
	err := l.predictor.Close()
	l.predictor = nil
	return err
}
