// Package datastore persists scans in SQLite or MySQL through gorm.
package datastore

import (
	"context"
	"encoding/base64"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
)

const (
	// DefaultHistoryLimit is used when a caller passes a non-positive limit.
	DefaultHistoryLimit = 200
	// MaxHistoryLimit caps a single history read.
	MaxHistoryLimit = 1000
)

// slowQueryThreshold is the duration above which queries are logged as warnings.
const slowQueryThreshold = 200 * time.Millisecond

// Interface abstracts the underlying database.
type Interface interface {
	Open() error
	Close() error
	Ping(ctx context.Context) error
	CreateScan(ctx context.Context, scan *NewScan) (*Scan, error)
	// ListRecentScans returns newest first without image bytes.
	ListRecentScans(ctx context.Context, limit int) ([]Scan, error)
	GetScan(ctx context.Context, id uint) (*Scan, error)
	DeleteScan(ctx context.Context, id uint) (bool, error)
	// LabelHistogram counts top labels over the most recent limit scans.
	LabelHistogram(ctx context.Context, limit int) (map[string]int, int, error)
	// Snapshot writes a consistent copy of the database to dest.
	Snapshot(ctx context.Context, dest string) error
	Driver() string
}

// Recorder receives one observation per store operation.
type Recorder interface {
	RecordOperation(operation, status string, d time.Duration)
}

// Option configures a store.
type Option func(*DataStore)

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(ds *DataStore) {
		ds.recorder = r
	}
}

// DataStore implements the shared queries on a gorm connection.
type DataStore struct {
	DB       *gorm.DB
	recorder Recorder
}

// New returns the store selected by settings. SQLite wins when both are enabled.
func New(settings *conf.Settings, opts ...Option) (Interface, error) {
	var ds DataStore
	for _, opt := range opts {
		opt(&ds)
	}

	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{DataStore: ds, Settings: settings}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{DataStore: ds, Settings: settings}, nil
	default:
		return nil, errors.Newf("no database enabled, set output.sqlite.enabled or output.mysql.enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func (ds *DataStore) observe(operation string, start time.Time, err error) {
	if ds.recorder == nil {
		return
	}
	status := "success"
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		status = "not_found"
	default:
		status = "error"
	}
	ds.recorder.RecordOperation(operation, status, time.Since(start))
}

func (ds *DataStore) ready(operation string) error {
	if ds.DB == nil {
		return dbError(errors.NewStd("database connection is not initialized"), operation)
	}
	return nil
}

// Ping checks connectivity.
func (ds *DataStore) Ping(ctx context.Context) error {
	if err := ds.ready("ping"); err != nil {
		return err
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "ping")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping")
	}
	return nil
}

// CreateScan inserts a new row and returns it with ID and CreatedAt assigned.
func (ds *DataStore) CreateScan(ctx context.Context, in *NewScan) (scan *Scan, err error) {
	start := time.Now()
	defer func() { ds.observe("create_scan", start, err) }()

	if err := ds.ready("create_scan"); err != nil {
		return nil, err
	}
	if in.Label == "" {
		return nil, validationError("top label is required", "label", in.Label)
	}
	if math.IsNaN(in.Confidence) || in.Confidence < 0 || in.Confidence > 1 {
		return nil, validationError("confidence must be within [0,1]", "confidence", in.Confidence)
	}

	scan = &Scan{
		CreatedAt:   time.Now().UTC(),
		Crop:        in.Crop,
		Label:       in.Label,
		Confidence:  in.Confidence,
		ImageBase64: base64.StdEncoding.EncodeToString(in.Image),
		Geo:         in.Geo,
		Notes:       in.Notes,
		Treatment:   in.Treatment,
		TopK:        in.TopK,
	}
	if in.ImagePath != "" {
		path := in.ImagePath
		scan.ImagePath = &path
	}

	if err := ds.DB.WithContext(ctx).Create(scan).Error; err != nil {
		return nil, dbError(err, "create_scan", "label", in.Label, "image_bytes", len(in.Image))
	}

	GetLogger().Debug("scan saved",
		logger.Uint64("scan_id", uint64(scan.ID)),
		logger.String("label", scan.Label))
	return scan, nil
}

// ListRecentScans returns up to limit scans, newest first. The limit is
// clamped to [1, MaxHistoryLimit] and defaults to DefaultHistoryLimit.
func (ds *DataStore) ListRecentScans(ctx context.Context, limit int) (scans []Scan, err error) {
	start := time.Now()
	defer func() { ds.observe("list_scans", start, err) }()

	if err := ds.ready("list_scans"); err != nil {
		return nil, err
	}

	err = ds.DB.WithContext(ctx).
		Omit("image_base64").
		Order("created_at DESC").
		Order("id DESC").
		Limit(ClampLimit(limit)).
		Find(&scans).Error
	if err != nil {
		return nil, dbError(err, "list_scans", "limit", limit)
	}
	return scans, nil
}

// GetScan returns the full record including the encoded image.
func (ds *DataStore) GetScan(ctx context.Context, id uint) (scan *Scan, err error) {
	start := time.Now()
	defer func() { ds.observe("get_scan", start, err) }()

	if err := ds.ready("get_scan"); err != nil {
		return nil, err
	}

	scan = &Scan{}
	if err := ds.DB.WithContext(ctx).First(scan, id).Error; err != nil {
		if isRecordNotFound(err) {
			return nil, notFoundError(id)
		}
		return nil, dbError(err, "get_scan", "scan_id", id)
	}
	return scan, nil
}

// DeleteScan hard-deletes a row and reports whether one existed.
func (ds *DataStore) DeleteScan(ctx context.Context, id uint) (deleted bool, err error) {
	start := time.Now()
	defer func() { ds.observe("delete_scan", start, err) }()

	if err := ds.ready("delete_scan"); err != nil {
		return false, err
	}

	result := ds.DB.WithContext(ctx).Delete(&Scan{}, id)
	if result.Error != nil {
		return false, dbError(result.Error, "delete_scan", "scan_id", id)
	}
	if result.RowsAffected > 0 {
		GetLogger().Info("scan deleted", logger.Uint64("scan_id", uint64(id)))
	}
	return result.RowsAffected > 0, nil
}

// LabelHistogram returns label counts and the number of scans considered.
func (ds *DataStore) LabelHistogram(ctx context.Context, limit int) (counts map[string]int, total int, err error) {
	start := time.Now()
	defer func() { ds.observe("label_histogram", start, err) }()

	if err := ds.ready("label_histogram"); err != nil {
		return nil, 0, err
	}

	var labels []string
	err = ds.DB.WithContext(ctx).
		Model(&Scan{}).
		Order("created_at DESC").
		Order("id DESC").
		Limit(ClampLimit(limit)).
		Pluck("top_label", &labels).Error
	if err != nil {
		return nil, 0, dbError(err, "label_histogram")
	}

	counts = make(map[string]int)
	for _, l := range labels {
		counts[l]++
	}
	return counts, len(labels), nil
}

// ClampLimit applies the history limit rules.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// performAutoMigration creates or updates the scans table.
func performAutoMigration(db *gorm.DB, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Scan{}); err != nil {
		return dbError(err, "auto_migrate", "db_type", dbType)
	}
	GetLogger().Info("database initialized",
		logger.String("db_type", dbType),
		logger.String("connection", connectionInfo))
	return nil
}

func newGormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
	}
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}
