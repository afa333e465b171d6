// Package backup snapshots the scan store and ships the snapshot to one or
// more storage targets with retries and retention.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
)

// MetadataVersion is written into every sidecar.
const MetadataVersion = 1

// Target stores snapshot files.
type Target interface {
	// Name returns the name of the target
	Name() string
	// Store copies the file at sourcePath and its metadata into the target.
	Store(ctx context.Context, sourcePath string, metadata *Metadata) error
	// List returns the stored backups.
	List(ctx context.Context) ([]Metadata, error)
	// Delete removes a backup and its metadata.
	Delete(ctx context.Context, id string) error
}

// Snapshotter writes a consistent copy of the store to a path.
type Snapshotter interface {
	Snapshot(ctx context.Context, dest string) error
	Driver() string
}

// Recorder receives one outcome per target upload.
type Recorder interface {
	RecordBackup(target string, size int64, err error)
}

// Metadata describes one snapshot.
type Metadata struct {
	Version    int       `json:"version"`
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	Timestamp  time.Time `json:"timestamp"`
	Size       int64     `json:"size"`
	Type       string    `json:"type"` // sqlite or mysql
	Checksum   string    `json:"checksum"`
	AppVersion string    `json:"app_version,omitempty"`
}

// Manager coordinates snapshot creation and upload.
type Manager struct {
	store       Snapshotter
	targets     []Target
	stagingDir  string
	maxAttempts int
	keep        int
	appVersion  string
	recorder    Recorder
	newBackOff  func() backoff.BackOff
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithRetention keeps the newest n snapshots per target. 0 keeps all.
func WithRetention(n int) Option {
	return func(m *Manager) { m.keep = n }
}

// WithMaxAttempts bounds uploads per target.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithAppVersion stamps metadata with the running version.
func WithAppVersion(v string) Option {
	return func(m *Manager) { m.appVersion = v }
}

// NewManager returns a manager writing temporary snapshots under stagingDir.
func NewManager(store Snapshotter, stagingDir string, targets []Target, opts ...Option) (*Manager, error) {
	if len(targets) == 0 {
		return nil, configError("backup requires at least one target")
	}
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}

	m := &Manager{
		store:       store,
		targets:     targets,
		stagingDir:  stagingDir,
		maxAttempts: 4,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = time.Minute
			return b
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run takes one snapshot and uploads it to every target. Targets are
// independent: a failing target does not stop the others, and the joined
// errors of all failed targets are returned.
func (m *Manager) Run(ctx context.Context) (*Metadata, error) {
	start := m.now()
	meta, path, err := m.snapshot(ctx, start)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			GetLogger().Warn("failed to remove staged snapshot", logger.String("path", path), logger.Error(err))
		}
	}()

	var errs []error
	for _, t := range m.targets {
		err := m.upload(ctx, t, path, meta)
		if m.recorder != nil {
			m.recorder.RecordBackup(t.Name(), meta.Size, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		if m.keep > 0 {
			m.prune(ctx, t)
		}
	}

	GetLogger().Info("backup finished",
		logger.String("id", meta.ID),
		logger.Int("targets", len(m.targets)),
		logger.Int("failed", len(errs)),
		logger.Duration("duration", time.Since(start)))

	if len(errs) > 0 {
		return meta, errors.New(errors.Join(errs...)).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("backup_id", meta.ID).
			Build()
	}
	return meta, nil
}

func (m *Manager) snapshot(ctx context.Context, at time.Time) (*Metadata, string, error) {
	if err := os.MkdirAll(m.stagingDir, 0o700); err != nil {
		return nil, "", backupError(err, "create_staging_dir")
	}

	driver := m.store.Driver()
	ext := ".db"
	if driver == "mysql" {
		ext = ".json"
	}
	id := fmt.Sprintf("cropscan-%s-%s", driver, at.UTC().Format("20060102T150405Z"))
	path := filepath.Join(m.stagingDir, id+ext)

	if err := m.store.Snapshot(ctx, path); err != nil {
		return nil, "", err
	}

	size, sum, err := checksum(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, "", backupError(err, "checksum")
	}

	return &Metadata{
		Version:    MetadataVersion,
		ID:         id,
		FileName:   id + ext,
		Timestamp:  at.UTC(),
		Size:       size,
		Type:       driver,
		Checksum:   sum,
		AppVersion: m.appVersion,
	}, path, nil
}

func (m *Manager) upload(ctx context.Context, t Target, path string, meta *Metadata) error {
	attempts := 0
	op := func() error {
		attempts++
		err := t.Store(ctx, path, meta)
		if err != nil && (errors.IsCategory(err, errors.CategoryConfiguration) || errors.IsCategory(err, errors.CategoryValidation)) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), uint64(m.maxAttempts-1)), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		GetLogger().Warn("backup upload failed, retrying",
			logger.String("target", t.Name()),
			logger.Int("attempt", attempts),
			logger.Duration("retry_in", wait),
			logger.Error(err))
	})
}

func (m *Manager) prune(ctx context.Context, t Target) {
	list, err := t.List(ctx)
	if err != nil {
		GetLogger().Warn("cannot list backups for retention", logger.String("target", t.Name()), logger.Error(err))
		return
	}
	if len(list) <= m.keep {
		return
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	for _, old := range list[m.keep:] {
		if err := t.Delete(ctx, old.ID); err != nil {
			GetLogger().Warn("failed to delete expired backup",
				logger.String("target", t.Name()),
				logger.String("id", old.ID),
				logger.Error(err))
		}
	}
}

func checksum(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
