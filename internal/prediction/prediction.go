// Package prediction ranks classifier output into top-k labels with treatment advice.
package prediction

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cropscan/cropscan/internal/catalog"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/imaging"
	"github.com/cropscan/cropscan/internal/logger"
)

// DefaultK is the number of ranked labels returned when the caller does not ask for one.
const DefaultK = 3

// DefaultCropSeparator splits "Tomato_Early_blight" into crop "Tomato".
const DefaultCropSeparator = "_"

// Classifier is the model surface the service depends on.
type Classifier interface {
	Ready() bool
	Err() error
	Labels() []string
	Preprocessor() *imaging.Preprocessor
	Classify(ctx context.Context, input *imaging.Tensor) ([]float32, error)
}

// Recorder receives one observation per Predict call.
type Recorder interface {
	RecordPrediction(status, crop, label string, d time.Duration)
}

// Prediction is one ranked label.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Treatment  string  `json:"treatment"`
}

// Result is the ranked output of one call.
type Result struct {
	Crop string       `json:"crop"`
	TopK []Prediction `json:"top_k"`
}

// Top returns the best prediction.
func (r *Result) Top() Prediction {
	return r.TopK[0]
}

// Service combines preprocessing, classification and catalog lookup.
type Service struct {
	classifier Classifier
	catalog    *catalog.Catalog
	defaultK   int
	separator  string
	recorder   Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultK sets the k used when Predict receives k <= 0.
func WithDefaultK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.defaultK = k
		}
	}
}

// WithCropSeparator sets the label separator for crop derivation.
func WithCropSeparator(sep string) Option {
	return func(s *Service) {
		if sep != "" {
			s.separator = sep
		}
	}
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService returns a prediction service. A nil catalog uses the embedded one.
func NewService(c Classifier, cat *catalog.Catalog, opts ...Option) *Service {
	if cat == nil {
		cat = catalog.Default()
	}
	s := &Service{
		classifier: c,
		catalog:    cat,
		defaultK:   DefaultK,
		separator:  DefaultCropSeparator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the lookup tables used for treatment advice.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// Predict classifies an encoded image and returns min(k, labels) predictions
// ordered by descending confidence, ties resolved by label order.
func (s *Service) Predict(ctx context.Context, image []byte, k int) (*Result, error) {
	start := time.Now()

	result, err := s.predict(ctx, image, k)

	status := "success"
	crop, label := "", ""
	if err != nil {
		status = string(errors.CategoryOf(err))
	} else {
		crop, label = result.Crop, result.Top().Label
	}
	if s.recorder != nil {
		s.recorder.RecordPrediction(status, crop, label, time.Since(start))
	}

	log := GetLogger().WithContext(ctx)
	if err != nil {
		log.Warn("prediction failed",
			logger.String("status", status),
			logger.Int("image_bytes", len(image)),
			logger.Error(err))
		return nil, err
	}
	log.Debug("prediction completed",
		logger.String("crop", crop),
		logger.String("label", label),
		logger.Float64("confidence", result.Top().Confidence),
		logger.Duration("duration", time.Since(start)))
	return result, nil
}

func (s *Service) predict(ctx context.Context, image []byte, k int) (*Result, error) {
	if !s.classifier.Ready() {
		cause := s.classifier.Err()
		if cause == nil {
			cause = errors.NewStd("classifier is not ready")
		}
		return nil, errors.New(cause).
			Component("prediction").
			Category(errors.CategoryModelUnavailable).
			Build()
	}

	tensor, err := s.classifier.Preprocessor().Preprocess(image)
	if err != nil {
		return nil, err
	}

	scores, err := s.classifier.Classify(ctx, tensor)
	if err != nil {
		return nil, err
	}

	labels := s.classifier.Labels()
	if k <= 0 {
		k = s.defaultK
	}
	ranked := Rank(scores, min(k, len(labels)))

	result := &Result{TopK: make([]Prediction, 0, len(ranked))}
	for _, idx := range ranked {
		label := labels[idx]
		result.TopK = append(result.TopK, Prediction{
			Label:      label,
			Confidence: float64(scores[idx]),
			Treatment:  s.catalog.Treatment(label),
		})
	}
	if len(result.TopK) == 0 {
		return nil, errors.Newf("classifier returned no scores").
			Component("prediction").
			Category(errors.CategoryInference).
			Build()
	}
	result.Crop = CropOf(result.TopK[0].Label, s.separator)
	return result, nil
}

// Rank returns the indices of the k largest scores. The sort is stable, so
// equal scores keep ascending index order.
func Rank(scores []float32, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})
	if k < 0 {
		k = 0
	}
	return idx[:min(k, len(idx))]
}

// CropOf returns the part of label before the first separator, or the whole
// label when the separator is absent.
func CropOf(label, sep string) string {
	crop, _, _ := strings.Cut(label, sep)
	return crop
}
