package providers

import (
	"fmt"
	"os"
	"runtime"
)

// SharedLibraryEnv overrides the onnxruntime shared library location.
const SharedLibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibPath resolves the onnxruntime shared library: an explicit
// override first, then SharedLibraryEnv, then the bundled per-platform path.
//
// Arguments:
//   - override: Explicit path, may be empty.
//
// Returns:
//   - string: The path to the shared library.
//   - error: When no library is known for this platform.
func SharedLibPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv(SharedLibraryEnv); env != "" {
		return env, nil
	}
	return platformLibPath(runtime.GOOS, runtime.GOARCH)
}

func platformLibPath(goos, goarch string) (string, error) {
	switch goos {
	case "windows":
		if goarch == "amd64" {
			return "third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "third_party/libonnxruntime.dylib", nil
	case "linux":
		if goarch == "arm64" {
			return "third_party/onnxruntime_arm64.so", nil
		}
		return "third_party/onnxruntime.so", nil
	}
	return "", fmt.Errorf("no onnxruntime library known for %s/%s; set %s", goos, goarch, SharedLibraryEnv)
}
