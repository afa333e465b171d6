// Package app assembles CropScan components from settings. The serve command
// runs the full gateway; the offline commands reuse the same constructors.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/cropscan/cropscan/internal/backup"
	"github.com/cropscan/cropscan/internal/backup/targets"
	"github.com/cropscan/cropscan/internal/catalog"
	"github.com/cropscan/cropscan/internal/classifier"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
	"github.com/cropscan/cropscan/internal/observability"
	"github.com/cropscan/cropscan/internal/prediction"
)

// InitLogging installs the global logger described by settings.
func InitLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		settings.Logging.Console.Level = "debug"
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(cl)
	return cl, nil
}

// NewMetrics returns nil when metrics are disabled.
func NewMetrics(settings *conf.Settings) (*observability.Metrics, error) {
	if !settings.Metrics.Enabled {
		return nil, nil
	}
	return observability.NewMetrics()
}

// OpenStore opens the configured scan store.
func OpenStore(settings *conf.Settings, m *observability.Metrics) (datastore.Interface, error) {
	var opts []datastore.Option
	if m != nil {
		opts = append(opts, datastore.WithRecorder(m.Datastore))
	}
	store, err := datastore.New(settings, opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Open(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewPredictor loads the classifier and wraps it in the prediction pipeline.
// A model that fails to load yields an unavailable classifier, not an error.
func NewPredictor(settings *conf.Settings, cat *catalog.Catalog, m *observability.Metrics) (*classifier.Service, *prediction.Service) {
	var classifierOpts []classifier.Option
	predictionOpts := []prediction.Option{
		prediction.WithDefaultK(settings.Prediction.TopK),
		prediction.WithCropSeparator(settings.Prediction.CropSeparator),
	}
	if m != nil {
		classifierOpts = append(classifierOpts, classifier.WithObserver(m.Prediction.ObserveInference))
		predictionOpts = append(predictionOpts, prediction.WithRecorder(m.Prediction))
	}

	model := classifier.New(&settings.Model, classifierOpts...)
	if m != nil {
		m.Prediction.SetModelReady(model.Ready())
	}
	return model, prediction.NewService(model, cat, predictionOpts...)
}

// NewBackupManager builds a manager over the enabled backup targets.
func NewBackupManager(settings *conf.Settings, store backup.Snapshotter, m *observability.Metrics) (*backup.Manager, error) {
	if !settings.Backup.Enabled {
		return nil, errors.Newf("backups are disabled, set backup.enabled").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	ts, err := targets.FromSettings(&settings.Backup)
	if err != nil {
		return nil, err
	}

	opts := []backup.Option{
		backup.WithRetention(settings.Backup.Keep),
		backup.WithMaxAttempts(settings.Backup.MaxAttempts),
		backup.WithAppVersion(settings.Version),
	}
	if m != nil {
		opts = append(opts, backup.WithRecorder(m.Integrations))
	}
	return backup.NewManager(store, settings.Backup.StagingDir, ts, opts...)
}

// startBackupSchedule runs manager on interval until the returned stop is
// called. stop cancels the schedule and blocks until any running snapshot has
// returned, so the store can be closed after it.
func startBackupSchedule(ctx context.Context, manager *backup.Manager, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() { manager.Schedule(ctx, interval) })
	return func() {
		cancel()
		wg.Wait()
	}
}
