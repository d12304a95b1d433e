package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides the ONNX Runtime shared library location.
const EnvLibraryPath = "OMNISHELF_ONNXRUNTIME_LIB"

var envMu sync.Mutex

// getSystemLibraryPaths returns system library paths to try, GPU builds first
// when useGPU is set.
func getSystemLibraryPaths(useGPU bool) []string {
	paths := []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	}
	if useGPU {
		return append([]string{"/opt/onnxruntime/gpu/lib/libonnxruntime.so"}, paths...)
	}
	return paths
}

func getLibraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// findProjectRoot walks up from the working directory to the first go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ResolveLibraryPath finds the ONNX Runtime shared library: the environment
// override, then system locations, then <project>/onnxruntime/{gpu/,}lib.
func ResolveLibraryPath(useGPU bool) (string, error) {
	if p := os.Getenv(EnvLibraryPath); p != "" {
		if fileExists(p) {
			return p, nil
		}
		return "", fmt.Errorf("%s points to missing file %s", EnvLibraryPath, p)
	}
	for _, p := range getSystemLibraryPaths(useGPU) {
		if fileExists(p) {
			return p, nil
		}
	}

	root, err := findProjectRoot()
	if err != nil {
		return "", err
	}
	libName, err := getLibraryName()
	if err != nil {
		return "", err
	}
	if useGPU {
		if p := filepath.Join(root, "onnxruntime", "gpu", "lib", libName); fileExists(p) {
			return p, nil
		}
	}
	p := filepath.Join(root, "onnxruntime", "lib", libName)
	if !fileExists(p) {
		return "", fmt.Errorf("ONNX Runtime library not found at %s", p)
	}
	return p, nil
}

// InitEnvironment locates the shared library and initializes the ONNX Runtime
// environment once per process.
func InitEnvironment(useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	lib, err := ResolveLibraryPath(useGPU)
	if err != nil {
		return fmt.Errorf("onnx lib path: %w", err)
	}
	onnxruntime_go.SetSharedLibraryPath(lib)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx: %w", err)
	}
	return nil
}
