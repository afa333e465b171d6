package classifier

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/tphakala/go-tflite"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/cpuspec"
	"github.com/cropscan/cropscan/internal/imaging"
	"github.com/cropscan/cropscan/internal/logger"
)

// TFLiteBackend runs a TensorFlow Lite model in-process.
type TFLiteBackend struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	threads     int
}

// NewTFLiteBackend loads the model at settings.ModelPath and allocates its tensors.
func NewTFLiteBackend(settings *conf.ModelSettings) (*TFLiteBackend, error) {
	data, err := os.ReadFile(settings.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, fmt.Errorf("cannot load TensorFlow Lite model %s", settings.ModelPath)
	}

	threads := threadCount(settings.Threads)

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("tensor allocation failed: %v", status)
	}

	// the interpreter holds its own copy of the flatbuffer
	runtime.GC()

	GetLogger().Info("TFLite model loaded",
		logger.String("model_path", settings.ModelPath),
		logger.Int("threads", threads),
		logger.Int("total_cpus", runtime.NumCPU()))

	return &TFLiteBackend{
		model:       model,
		options:     options,
		interpreter: interpreter,
		threads:     threads,
	}, nil
}

// threadCount resolves the configured thread count. Zero selects from the CPU
// spec, and no value exceeds the CPUs available to the process.
func threadCount(configured int) int {
	available := runtime.NumCPU()
	if configured <= 0 {
		return cpuspec.GetCPUSpec().OptimalThreadCount()
	}
	return min(configured, available)
}

func (b *TFLiteBackend) Name() string { return conf.BackendTFLite }

// Infer copies input into the interpreter and returns a copy of the first output tensor.
func (b *TFLiteBackend) Infer(_ context.Context, input *imaging.Tensor) ([]float32, error) {
	in := b.interpreter.GetInputTensor(0)
	if in == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	dst := in.Float32s()
	if len(dst) != len(input.Data) {
		return nil, fmt.Errorf("input tensor holds %d values, image has %d", len(dst), len(input.Data))
	}
	copy(dst, input.Data)

	if status := b.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := b.interpreter.GetOutputTensor(0)
	if out == nil {
		return nil, fmt.Errorf("cannot get output tensor")
	}
	scores := make([]float32, len(out.Float32s()))
	copy(scores, out.Float32s())
	return scores, nil
}

// Close releases the interpreter, its options and the model.
func (b *TFLiteBackend) Close() error {
	if b.interpreter != nil {
		b.interpreter.Delete()
		b.interpreter = nil
	}
	if b.options != nil {
		b.options.Delete()
		b.options = nil
	}
	if b.model != nil {
		b.model.Delete()
		b.model = nil
	}
	return nil
}
