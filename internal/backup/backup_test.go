package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/testutil"
)

type fakeStore struct {
	driver  string
	content string
	err     error
}

func (f *fakeStore) Snapshot(_ context.Context, dest string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte(f.content), 0o600)
}

func (f *fakeStore) Driver() string { return f.driver }

type memTarget struct {
	name     string
	failures int
	failWith error

	mu      sync.Mutex
	calls   int
	stored  map[string]Metadata
	content map[string]string
}

func newMemTarget(name string) *memTarget {
	return &memTarget{name: name, stored: map[string]Metadata{}, content: map[string]string{}}
}

func (m *memTarget) Name() string { return m.name }

func (m *memTarget) Store(_ context.Context, sourcePath string, meta *Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return m.failWith
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	m.stored[meta.ID] = *meta
	m.content[meta.ID] = string(data)
	return nil
}

func (m *memTarget) List(context.Context) ([]Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Metadata, 0, len(m.stored))
	for _, v := range m.stored {
		out = append(out, v)
	}
	return out, nil
}

func (m *memTarget) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stored, id)
	return nil
}

type recorded struct {
	target string
	size   int64
	err    error
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recorded
}

func (r *fakeRecorder) RecordBackup(target string, size int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, recorded{target, size, err})
}

func newTestManager(t *testing.T, store Snapshotter, targets []Target, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(store, t.TempDir(), targets, opts...)
	require.NoError(t, err)
	m.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return m
}

func TestRunStoresSnapshotOnEveryTarget(t *testing.T) {
	t.Parallel()

	store := &fakeStore{driver: "sqlite", content: "scans"}
	a, b := newMemTarget("a"), newMemTarget("b")
	rec := &fakeRecorder{}
	m := newTestManager(t, store, []Target{a, b}, WithRecorder(rec), WithAppVersion("1.2.3"))
	m.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC) }

	meta, err := m.Run(t.Context())
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("scans"))
	assert.Equal(t, "cropscan-sqlite-20260504T030201Z", meta.ID)
	assert.Equal(t, "cropscan-sqlite-20260504T030201Z.db", meta.FileName)
	assert.Equal(t, hex.EncodeToString(sum[:]), meta.Checksum)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "1.2.3", meta.AppVersion)
	assert.Equal(t, MetadataVersion, meta.Version)

	for _, target := range []*memTarget{a, b} {
		assert.Equal(t, "scans", target.content[meta.ID])
	}
	assert.Len(t, rec.seen, 2)

	entries, err := os.ReadDir(m.stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged snapshot must be removed")
}

func TestRunUsesJSONExtensionForMySQL(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeStore{driver: "mysql", content: "[]"}, []Target{newMemTarget("a")})
	meta, err := m.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ".json", filepath.Ext(meta.FileName))
	assert.Equal(t, "mysql", meta.Type)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	flaky := newMemTarget("flaky")
	flaky.failures = 2
	flaky.failWith = errors.NewStd("connection reset")

	m := newTestManager(t, &fakeStore{driver: "sqlite", content: "x"}, []Target{flaky}, WithMaxAttempts(3))
	_, err := m.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestRunReportsFailedTargetsAndContinues(t *testing.T) {
	t.Parallel()

	broken := newMemTarget("broken")
	broken.failures = 100
	broken.failWith = errors.NewStd("disk full")
	good := newMemTarget("good")
	rec := &fakeRecorder{}

	m := newTestManager(t, &fakeStore{driver: "sqlite", content: "x"}, []Target{broken, good},
		WithMaxAttempts(2), WithRecorder(rec))
	meta, err := m.Run(t.Context())
	require.Error(t, err)
	require.NotNil(t, meta)

	assert.True(t, errors.IsCategory(err, errors.CategoryBackup))
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 2, broken.calls)
	assert.Contains(t, good.content, meta.ID)

	require.Len(t, rec.seen, 2)
	assert.Error(t, rec.seen[0].err)
	assert.NoError(t, rec.seen[1].err)
}

func TestRunDoesNotRetryConfigurationErrors(t *testing.T) {
	t.Parallel()

	misconfigured := newMemTarget("misconfigured")
	misconfigured.failures = 100
	misconfigured.failWith = errors.Newf("bad credentials").Category(errors.CategoryConfiguration).Build()

	m := newTestManager(t, &fakeStore{driver: "sqlite", content: "x"}, []Target{misconfigured}, WithMaxAttempts(5))
	_, err := m.Run(t.Context())
	require.Error(t, err)
	assert.Equal(t, 1, misconfigured.calls)
}

func TestRunSnapshotFailure(t *testing.T) {
	t.Parallel()

	target := newMemTarget("a")
	m := newTestManager(t, &fakeStore{driver: "sqlite", err: errors.NewStd("locked")}, []Target{target})
	meta, err := m.Run(t.Context())
	require.Error(t, err)
	assert.Nil(t, meta)
	assert.Zero(t, target.calls)
}

func TestRunPrunesToRetention(t *testing.T) {
	t.Parallel()

	target := newMemTarget("a")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 4 {
		id := base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339)
		target.stored[id] = Metadata{ID: id, Timestamp: base.Add(time.Duration(i) * time.Hour)}
	}

	m := newTestManager(t, &fakeStore{driver: "sqlite", content: "x"}, []Target{target}, WithRetention(2))
	m.now = func() time.Time { return base.Add(24 * time.Hour) }

	meta, err := m.Run(t.Context())
	require.NoError(t, err)

	list, err := target.List(t.Context())
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.Contains(t, ids, meta.ID)
	assert.Contains(t, ids, base.Add(3*time.Hour).Format(time.RFC3339))
}

func TestNewManagerRequiresTarget(t *testing.T) {
	t.Parallel()

	_, err := NewManager(&fakeStore{}, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestScheduleStopsOnCancel(t *testing.T) {
	t.Parallel()

	target := newMemTarget("a")
	m := newTestManager(t, &fakeStore{driver: "sqlite", content: "x"}, []Target{target})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		m.Schedule(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		target.mu.Lock()
		defer target.mu.Unlock()
		return target.calls >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	testutil.WaitClosed(t, done, 2*time.Second, "schedule did not stop after cancel")
}
