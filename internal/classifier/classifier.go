// Package classifier wraps a pretrained image classification model behind a
// readiness-aware service. The model is loaded once and inference calls are
// serialized, so backends do not need to be reentrant.
package classifier

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/imaging"
	"github.com/cropscan/cropscan/internal/logger"
)

// Backend runs a single forward pass. Implementations are never called concurrently.
type Backend interface {
	Name() string
	Infer(ctx context.Context, input *imaging.Tensor) ([]float32, error)
	Close() error
}

// State is the readiness of the service.
type State string

const (
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
	StateClosed      State = "closed"
)

// Status describes the loaded model for health reporting.
type Status struct {
	State     State  `json:"state"`
	Backend   string `json:"backend,omitempty"`
	ModelPath string `json:"model_path,omitempty"`
	Labels    int    `json:"labels"`
	InputSize int    `json:"input_size"`
	Layout    string `json:"layout"`
	Reason    string `json:"reason,omitempty"`
}

// Service owns one backend and its label vocabulary.
type Service struct {
	mu        sync.Mutex
	backend   Backend
	labels    []string
	softmax   SoftmaxMode
	pre       *imaging.Preprocessor
	modelPath string
	state     State
	loadErr   error
	observer  func(backend string, d time.Duration, err error)
}

// Option configures a Service.
type Option func(*Service)

// WithBackend installs a ready backend and vocabulary instead of loading from settings.
func WithBackend(b Backend, labels []string) Option {
	return func(s *Service) {
		s.backend = b
		s.labels = slices.Clone(labels)
	}
}

// WithObserver registers a callback invoked after every inference.
func WithObserver(fn func(backend string, d time.Duration, err error)) Option {
	return func(s *Service) {
		s.observer = fn
	}
}

// New builds the service. Load failures do not abort construction; the service
// starts in the unavailable state and Classify reports a model-unavailable error,
// leaving the rest of the process able to serve.
func New(settings *conf.ModelSettings, opts ...Option) *Service {
	s := &Service{
		pre:       imaging.NewPreprocessor(settings.InputSize, imaging.Layout(settings.Layout)),
		modelPath: settings.ModelPath,
		softmax:   SoftmaxAuto,
	}
	for _, opt := range opts {
		opt(s)
	}

	log := GetLogger()

	mode, err := ParseSoftmaxMode(settings.Softmax)
	if err != nil {
		s.fail(err, errors.CategoryConfiguration)
		return s
	}
	s.softmax = mode

	if s.backend == nil {
		if err := s.load(settings); err != nil {
			s.fail(err, errors.CategoryModelLoad)
			log.Error("classifier unavailable, prediction endpoints will fail",
				logger.String("backend", settings.Backend),
				logger.String("model_path", settings.ModelPath),
				logger.Error(err))
			return s
		}
	}

	if len(s.labels) == 0 {
		s.fail(fmt.Errorf("label vocabulary is empty"), errors.CategoryLabelLoad)
		return s
	}

	s.state = StateReady
	log.Info("classifier ready",
		logger.String("backend", s.backend.Name()),
		logger.Int("labels", len(s.labels)),
		logger.Int("input_size", s.pre.Size()))
	return s
}

func (s *Service) load(settings *conf.ModelSettings) error {
	start := time.Now()

	labels, err := LoadLabels(settings.LabelPath)
	if err != nil {
		return err
	}

	var b Backend
	switch settings.Backend {
	case conf.BackendONNX:
		b, err = NewONNXBackend(settings, len(labels))
	case conf.BackendRemote:
		b, err = NewRemoteBackend(settings)
	default:
		b, err = NewTFLiteBackend(settings)
	}
	if err != nil {
		return errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			Context("backend", settings.Backend).
			Context("model_path", settings.ModelPath).
			Timing("model-load", time.Since(start)).
			Build()
	}

	s.backend = b
	s.labels = labels
	return nil
}

func (s *Service) fail(err error, category errors.ErrorCategory) {
	s.state = StateUnavailable
	if errors.CategoryOf(err) == errors.CategoryGeneric {
		err = errors.New(err).
			Component("classifier").
			Category(category).
			Build()
	}
	s.loadErr = err
	if s.backend != nil {
		_ = s.backend.Close()
		s.backend = nil
	}
}

// Ready reports whether Classify can run.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

// Err returns the load error of an unavailable service.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Labels returns a copy of the ordered vocabulary.
func (s *Service) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.labels)
}

// Preprocessor returns the preprocessor matching the model input.
func (s *Service) Preprocessor() *imaging.Preprocessor {
	return s.pre
}

// Status reports the current model state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:     s.state,
		ModelPath: s.modelPath,
		Labels:    len(s.labels),
		InputSize: s.pre.Size(),
		Layout:    string(s.pre.Layout()),
	}
	if s.backend != nil {
		st.Backend = s.backend.Name()
	}
	if s.loadErr != nil {
		st.Reason = s.loadErr.Error()
	}
	return st
}

// Classify returns one probability per label, in label order.
func (s *Service) Classify(ctx context.Context, input *imaging.Tensor) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, s.unavailableLocked()
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryCancellation).
			Build()
	}

	start := time.Now()
	raw, err := s.backend.Infer(ctx, input)
	elapsed := time.Since(start)
	if err == nil && len(raw) != len(s.labels) {
		err = fmt.Errorf("model returned %d scores for %d labels", len(raw), len(s.labels))
	}
	if s.observer != nil {
		s.observer(s.backend.Name(), elapsed, err)
	}
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryInference).
			Context("backend", s.backend.Name()).
			Timing("inference", elapsed).
			Build()
	}

	GetLogger().Debug("inference completed",
		logger.String("backend", s.backend.Name()),
		logger.Duration("duration", elapsed))

	return normalize(s.softmax, raw), nil
}

func (s *Service) unavailableLocked() error {
	cause := s.loadErr
	if cause == nil {
		cause = fmt.Errorf("classifier is %s", s.state)
	}
	return errors.New(cause).
		Component("classifier").
		Category(errors.CategoryModelUnavailable).
		Build()
}

// Close releases the backend. The service is unusable afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateClosed
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
