// Package providers - Execution provider selection for ONNX Runtime sessions.
package providers

import (
	"fmt"
	"strings"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU kernels.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// Backends lists every supported backend.
var Backends = []ProviderBackend{
	CPUProviderBackend,
	CUDAProviderBackend,
	CoreMLProviderBackend,
	OpenVINOProviderBackend,
}

// ParseBackend parses a backend name, case-insensitively. Empty means CPU.
func ParseBackend(s string) (ProviderBackend, error) {
	b := ProviderBackend(strings.ToLower(strings.TrimSpace(s)))
	if b == "" {
		return CPUProviderBackend, nil
	}
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unsupported execution provider %q", s)
}

// GraphOptimization names an ONNX Runtime graph optimization level.
type GraphOptimization string

const (
	GraphOptimizationDisabled GraphOptimization = "disabled"
	GraphOptimizationBasic    GraphOptimization = "basic"
	GraphOptimizationExtended GraphOptimization = "extended"
	GraphOptimizationAll      GraphOptimization = "all"
)

// Config selects the execution provider and session tuning of a model.
type Config struct {
	// Backend specifies the backend to use.
	Backend ProviderBackend `json:"backend" yaml:"backend"`

	// IntraOpThreads parallelizes work inside a node; 0 lets ONNX Runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`

	// InterOpThreads parallelizes independent nodes; 0 lets ONNX Runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`

	// GraphOptimization is the graph rewrite level applied at load time.
	GraphOptimization GraphOptimization `json:"graph_optimization" yaml:"graph_optimization"`

	// ParallelExecution runs independent branches concurrently.
	ParallelExecution bool `json:"parallel_execution" yaml:"parallel_execution"`

	// Provider-specific options, read for the matching backend only.
	CUDA     *CUDAOptions     `json:"cuda,omitempty" yaml:"cuda,omitempty"`
	CoreML   *CoreMLOptions   `json:"coreml,omitempty" yaml:"coreml,omitempty"`
	OpenVINO *OpenVINOOptions `json:"openvino,omitempty" yaml:"openvino,omitempty"`
}

// DefaultConfig returns a CPU configuration with extended graph optimization.
func DefaultConfig() Config {
	return Config{
		Backend:           CPUProviderBackend,
		GraphOptimization: GraphOptimizationExtended,
	}
}

// Validate checks the configuration for unsupported values.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return fmt.Errorf("thread counts must not be negative, got intra=%d inter=%d",
			c.IntraOpThreads, c.InterOpThreads)
	}
	switch c.GraphOptimization {
	case "", GraphOptimizationDisabled, GraphOptimizationBasic, GraphOptimizationExtended, GraphOptimizationAll:
	default:
		return fmt.Errorf("unknown graph optimization level %q", c.GraphOptimization)
	}
	return nil
}
