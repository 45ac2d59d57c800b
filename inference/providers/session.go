package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// SessionOptions builds ONNX Runtime session options for cfg and appends the
// configured execution provider. The caller must Destroy the result.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: Options ready to pass to a new session.
//   - error: When the configuration is invalid or the provider is unavailable.
func SessionOptions(cfg Config) (*ort.SessionOptions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := configure(options, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, cfg Config) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(graphOptimizationLevel(cfg.GraphOptimization)); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}
	if err := options.SetExecutionMode(executionMode(cfg.ParallelExecution)); err != nil {
		return errors.Wrap(err, "error setting execution mode")
	}

	backend, _ := ParseBackend(string(cfg.Backend))
	switch backend {
	case CUDAProviderBackend:
		opts := CUDAOptions{}
		if cfg.CUDA != nil {
			opts = *cfg.CUDA
		}
		cuda, err := opts.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	case CoreMLProviderBackend:
		opts := CoreMLOptions{}
		if cfg.CoreML != nil {
			opts = *cfg.CoreML
		}
		if err := options.AppendExecutionProviderCoreML(opts.Flags()); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case OpenVINOProviderBackend:
		opts := OpenVINOOptions{}
		if cfg.OpenVINO != nil {
			opts = *cfg.OpenVINO
		}
		if err := options.AppendExecutionProviderOpenVINO(opts.Map()); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	}
	return nil
}

func executionMode(parallel bool) ort.ExecutionMode {
	if parallel {
		return ort.ExecutionMode(ort.ExecutionModeParallel)
	}
	return ort.ExecutionMode(ort.ExecutionModeSequential)
}

func graphOptimizationLevel(g GraphOptimization) ort.GraphOptimizationLevel {
	switch g {
	case GraphOptimizationDisabled:
		return ort.GraphOptimizationLevelDisableAll
	case GraphOptimizationBasic:
		return ort.GraphOptimizationLevelEnableBasic
	case GraphOptimizationAll:
		return ort.GraphOptimizationLevelEnableAll
	default:
		return ort.GraphOptimizationLevelEnableExtended
	}
}
