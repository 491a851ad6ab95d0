package options

import (
	"fmt"
	"runtime"

	"github.com/embedworks/embedprep/util"
)

type Options struct {
	BackendOptions any
	ORTOptions     *OrtOptions
	Destroy        func() error
	Backend        string
}

func Defaults() *Options {
	_, _, libraryPathDefault := getDefaultLibraryPaths()
	return &Options{
		ORTOptions: &OrtOptions{
			LibraryPath: &libraryPathDefault,
		},
		Destroy: func() error {
			return nil
		},
	}
}

func getDefaultLibraryPaths() (string, string, string) {
	switch runtime.GOOS {
	case "windows":
		return `onnxruntime.dll`, `.\`, `.\onnxruntime.dll`
	case "darwin":
		return "libonnxruntime.dylib", "/usr/local/lib", "/usr/local/lib/libonnxruntime.dylib"
	default:
		return "libonnxruntime.so", "/usr/lib", "/usr/lib/libonnxruntime.so"
	}
}

type OrtOptions struct {
	LibraryPath       *string
	Telemetry         *bool
	IntraOpNumThreads *int
	InterOpNumThreads *int
	CPUMemArena       *bool
	MemPattern        *bool
	CudaOptions       map[string]string
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithOnnxLibraryPath (ORT only) Use this function to set the path to the
// "libonnxruntime.so", "libonnxruntime.dylib" or "onnxruntime.dll" file.
func WithOnnxLibraryPath(ortLibraryPath string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithOnnxLibraryPath is only supported for ORT backend")
		}
		exists, err := util.FileExists(ortLibraryPath)
		if err != nil {
			return fmt.Errorf("failed to access ONNX Runtime library path %q: %w", ortLibraryPath, err)
		}
		if !exists {
			return fmt.Errorf("ONNX Runtime library does not exist at %q", ortLibraryPath)
		}
		o.ORTOptions.LibraryPath = &ortLibraryPath
		return nil
	}
}

// WithTelemetry (ORT only) Enables telemetry events for the onnx runtime environment. Default is off.
func WithTelemetry() WithOption {
	return func(o *Options) error {
		if o.Backend == "ORT" {
			enabled := true
			o.ORTOptions.Telemetry = &enabled
			return nil
		}
		return fmt.Errorf("WithTelemetry is only supported for ORT backend")
	}
}

// WithIntraOpNumThreads (ORT only) Sets the number of threads used to parallelize execution within
// graph nodes. If unspecified, the runtime uses the number of physical CPU cores.
func WithIntraOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend == "ORT" {
			o.ORTOptions.IntraOpNumThreads = &numThreads
			return nil
		}
		return fmt.Errorf("WithIntraOpNumThreads is only supported for ORT backend")
	}
}

// WithInterOpNumThreads (ORT only) Sets the number of threads used to parallelize execution across
// separate graph nodes. If unspecified, the runtime uses the number of physical CPU cores.
func WithInterOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend == "ORT" {
			o.ORTOptions.InterOpNumThreads = &numThreads
			return nil
		}
		return fmt.Errorf("WithInterOpNumThreads is only supported for ORT backend")
	}
}

// WithCPUMemArena (ORT only) Enable/Disable the usage of the memory arena on CPU.
// Arena may pre-allocate memory for future usage. Default is true.
func WithCPUMemArena(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend == "ORT" {
			o.ORTOptions.CPUMemArena = &enable
			return nil
		}
		return fmt.Errorf("WithCPUMemArena is only supported for ORT backend")
	}
}

// WithMemPattern (ORT only) Enable/Disable the memory pattern optimization.
// If this is enabled memory is preallocated if all shapes are known. Default is true.
func WithMemPattern(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend == "ORT" {
			o.ORTOptions.MemPattern = &enable
			return nil
		}
		return fmt.Errorf("WithMemPattern is only supported for ORT backend")
	}
}

// WithCuda (ORT only) Use this function to set the options for the CUDA provider.
// It takes a map of CUDA parameters as input.
func WithCuda(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend == "ORT" {
			o.ORTOptions.CudaOptions = options
			return nil
		}
		return fmt.Errorf("WithCuda is only supported for ORT backend")
	}
}
