package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/imaging"
	"github.com/cropscan/cropscan/internal/logger"
)

var (
	ortMu    sync.Mutex
	ortUsers int
)

// acquireEnvironment initializes the process-wide onnxruntime environment on first use.
func acquireEnvironment(libraryPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if ortUsers == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	ortUsers++
	return nil
}

func releaseEnvironment() {
	ortMu.Lock()
	defer ortMu.Unlock()

	ortUsers--
	if ortUsers == 0 {
		if err := ort.DestroyEnvironment(); err != nil {
			GetLogger().Warn("failed to destroy ONNX environment", logger.Error(err))
		}
	}
}

// ONNXBackend runs an ONNX model through onnxruntime with preallocated tensors.
type ONNXBackend struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXBackend opens settings.ModelPath. The output tensor is sized to the
// label vocabulary.
func NewONNXBackend(settings *conf.ModelSettings, numLabels int) (*ONNXBackend, error) {
	if err := acquireEnvironment(settings.ONNX.LibraryPath); err != nil {
		return nil, err
	}

	size := int64(settings.InputSize)
	if size <= 0 {
		size = imaging.DefaultSize
	}
	inputShape := ort.NewShape(1, size, size, 3)
	if imaging.Layout(settings.Layout) == imaging.LayoutNCHW {
		inputShape = ort.NewShape(1, 3, size, size)
	}

	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(numLabels)))
	if err != nil {
		_ = input.Destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	var sessionOptions *ort.SessionOptions
	if threads := threadCount(settings.Threads); threads > 0 {
		if sessionOptions, err = ort.NewSessionOptions(); err == nil {
			defer sessionOptions.Destroy()
			_ = sessionOptions.SetIntraOpNumThreads(threads)
		} else {
			sessionOptions = nil
		}
	}

	session, err := ort.NewAdvancedSession(settings.ModelPath,
		[]string{settings.ONNX.InputName}, []string{settings.ONNX.OutputName},
		[]ort.Value{input}, []ort.Value{output},
		sessionOptions)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	GetLogger().Info("ONNX model loaded",
		logger.String("model_path", settings.ModelPath),
		logger.String("input_shape", inputShape.String()))

	return &ONNXBackend{session: session, input: input, output: output}, nil
}

func (b *ONNXBackend) Name() string { return conf.BackendONNX }

func (b *ONNXBackend) Infer(_ context.Context, input *imaging.Tensor) ([]float32, error) {
	dst := b.input.GetData()
	if len(dst) != len(input.Data) {
		return nil, fmt.Errorf("input tensor holds %d values, image has %d", len(dst), len(input.Data))
	}
	copy(dst, input.Data)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := b.output.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (b *ONNXBackend) Close() error {
	var errs []error
	if b.session != nil {
		errs = append(errs, b.session.Destroy())
	}
	if b.input != nil {
		errs = append(errs, b.input.Destroy())
	}
	if b.output != nil {
		errs = append(errs, b.output.Destroy())
	}
	releaseEnvironment()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
