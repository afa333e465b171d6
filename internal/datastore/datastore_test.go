package datastore

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
)

func createTestSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "db", "crop_scans.db")
	return settings
}

func createDatabase(t *testing.T, settings *conf.Settings, opts ...Option) Interface {
	t.Helper()
	ds, err := New(settings, opts...)
	require.NoError(t, err)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func sampleScan(label string) *NewScan {
	return &NewScan{
		Image:      []byte{0xff, 0xd8, 0xff, 0x00, 0x01},
		Crop:       "Tomato",
		Label:      label,
		Confidence: 0.87,
		Geo:        "12.97,77.59",
		Notes:      "lower leaves",
		Treatment:  "Apply copper-based fungicide",
		TopK: []RankedLabel{
			{Label: label, Confidence: 0.87, Treatment: "Apply copper-based fungicide"},
			{Label: "Tomato_healthy", Confidence: 0.1, Treatment: "Plant appears healthy"},
		},
	}
}

type recordingRecorder struct {
	mu   sync.Mutex
	ops  []string
	stat []string
}

func (r *recordingRecorder) RecordOperation(op, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	r.stat = append(r.stat, status)
}

func TestNewRequiresEnabledDatabase(t *testing.T) {
	t.Parallel()

	_, err := New(&conf.Settings{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewSelectsDriver(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Output.MySQL.Enabled = true
	ds, err := New(settings)
	require.NoError(t, err)
	assert.Equal(t, "mysql", ds.Driver())

	settings.Output.SQLite.Enabled = true
	ds, err = New(settings)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", ds.Driver())
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	ctx := context.Background()

	in := sampleScan("Tomato_Early_blight")
	in.ImagePath = "uploads/scan.jpg"
	created, err := ds.CreateScan(ctx, in)
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Minute)

	got, err := ds.GetScan(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.ID, got.ID)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt), "created %v, read %v", created.CreatedAt, got.CreatedAt)
	assert.Equal(t, in.Crop, got.Crop)
	assert.Equal(t, in.Label, got.Label)
	assert.InDelta(t, in.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, in.Geo, got.Geo)
	assert.Equal(t, in.Notes, got.Notes)
	assert.Equal(t, in.Treatment, got.Treatment)
	assert.Equal(t, in.TopK, []RankedLabel(got.TopK))
	require.NotNil(t, got.ImagePath)
	assert.Equal(t, "uploads/scan.jpg", *got.ImagePath)

	raw, err := base64.StdEncoding.DecodeString(got.ImageBase64)
	require.NoError(t, err)
	assert.Equal(t, in.Image, raw)
}

func TestCreateScanValidation(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))

	tests := []struct {
		name   string
		mutate func(*NewScan)
	}{
		{"missing label", func(s *NewScan) { s.Label = "" }},
		{"confidence above one", func(s *NewScan) { s.Confidence = 1.01 }},
		{"negative confidence", func(s *NewScan) { s.Confidence = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleScan("Tomato_Early_blight")
			tt.mutate(in)
			_, err := ds.CreateScan(context.Background(), in)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}

	scans, err := ds.ListRecentScans(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, scans)
}

func TestGetScanNotFound(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	_, err := ds.GetScan(context.Background(), 4242)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteScan(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	ctx := context.Background()

	created, err := ds.CreateScan(ctx, sampleScan("Potato___Late_blight"))
	require.NoError(t, err)

	deleted, err := ds.DeleteScan(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = ds.GetScan(ctx, created.ID)
	assert.True(t, errors.IsNotFound(err))

	deleted, err = ds.DeleteScan(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListRecentScansOrderAndLimit(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	ctx := context.Background()

	var ids []uint
	for _, label := range []string{"a", "b", "c", "d", "e"} {
		s, err := ds.CreateScan(ctx, sampleScan(label))
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	scans, err := ds.ListRecentScans(ctx, 3)
	require.NoError(t, err)
	require.Len(t, scans, 3)
	assert.Equal(t, []uint{ids[4], ids[3], ids[2]}, []uint{scans[0].ID, scans[1].ID, scans[2].ID})

	for i := 1; i < len(scans); i++ {
		assert.False(t, scans[i].CreatedAt.After(scans[i-1].CreatedAt))
	}
	for _, s := range scans {
		assert.Empty(t, s.ImageBase64, "history must not carry image bytes")
	}

	all, err := ds.ListRecentScans(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestLabelHistogram(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	ctx := context.Background()

	for _, label := range []string{"Tomato_healthy", "Tomato_Early_blight", "Tomato_healthy"} {
		_, err := ds.CreateScan(ctx, sampleScan(label))
		require.NoError(t, err)
	}

	counts, total, err := ds.LabelHistogram(ctx, MaxHistoryLimit)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, map[string]int{"Tomato_healthy": 2, "Tomato_Early_blight": 1}, counts)

	counts, total, err = ds.LabelHistogram(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, map[string]int{"Tomato_healthy": 1}, counts)
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultHistoryLimit, ClampLimit(0))
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(-5))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, MaxHistoryLimit, ClampLimit(5000))
}

func TestSQLiteSnapshot(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	ctx := context.Background()

	created, err := ds.CreateScan(ctx, sampleScan("Tomato_Leaf_Mold"))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, ds.Snapshot(ctx, dest))

	db, err := gorm.Open(sqlite.Open(dest), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	var copied Scan
	require.NoError(t, db.First(&copied, created.ID).Error)
	assert.Equal(t, "Tomato_Leaf_Mold", copied.Label)

	err = ds.Snapshot(ctx, dest)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation), "existing destination must not be overwritten")
}

func TestOperationsBeforeOpen(t *testing.T) {
	t.Parallel()

	ds, err := New(createTestSettings(t))
	require.NoError(t, err)

	_, err = ds.GetScan(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	assert.Error(t, ds.Ping(context.Background()))
}

func TestRecorderObservesOperations(t *testing.T) {
	t.Parallel()

	rec := &recordingRecorder{}
	ds := createDatabase(t, createTestSettings(t), WithRecorder(rec))
	ctx := context.Background()

	created, err := ds.CreateScan(ctx, sampleScan("Tomato_healthy"))
	require.NoError(t, err)
	_, err = ds.GetScan(ctx, created.ID+100)
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"create_scan", "get_scan"}, rec.ops)
	assert.Equal(t, []string{"success", "not_found"}, rec.stat)
}

func TestOpenCreatesDirectory(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	createDatabase(t, settings)
	_, err := os.Stat(settings.Output.SQLite.Path)
	assert.NoError(t, err)
}

func TestMySQLDSNEscapesCredentials(t *testing.T) {
	t.Parallel()

	dsn := mysqlDSN(conf.MySQLSettings{Username: "crop", Password: "p@ss/word", Host: "db", Database: "scans"})
	assert.Contains(t, dsn, "crop:p@ss/word@tcp(db:3306)/scans?")
	assert.Contains(t, dsn, "parseTime=True")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestValidateMySQLConfig(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Output.MySQL = conf.MySQLSettings{Host: "db", Database: "scans"}
	err := validateMySQLConfig(settings)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
