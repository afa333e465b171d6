package classifier

import (
	"context"
	"slices"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/imaging"
)

// StaticBackend returns a fixed score vector. It backs tests and demo runs
// without a model file.
type StaticBackend struct {
	scores []float32
	err    error
	calls  int
}

// NewStatic returns a ready service over labels whose every inference yields scores.
func NewStatic(labels []string, scores []float32, opts ...Option) *Service {
	b := &StaticBackend{scores: slices.Clone(scores)}
	opts = append([]Option{WithBackend(b, labels)}, opts...)
	return New(staticSettings(), opts...)
}

// NewFailing returns a ready service whose inference always fails with err.
func NewFailing(labels []string, err error) *Service {
	return New(staticSettings(), WithBackend(&StaticBackend{err: err}, labels))
}

func staticSettings() *conf.ModelSettings {
	return &conf.ModelSettings{
		InputSize: imaging.DefaultSize,
		Layout:    string(imaging.LayoutNHWC),
		Softmax:   string(SoftmaxNever),
	}
}

func (b *StaticBackend) Name() string { return "static" }

func (b *StaticBackend) Infer(_ context.Context, _ *imaging.Tensor) ([]float32, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return slices.Clone(b.scores), nil
}

func (b *StaticBackend) Close() error { return nil }
