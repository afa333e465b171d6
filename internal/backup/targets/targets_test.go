package targets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/backup"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
)

func writeSnapshot(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLocalTargetRoundTrip(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()
	dest := filepath.Join(t.TempDir(), "nested", "backups")

	target, err := NewLocalTarget(conf.LocalTargetSettings{Enabled: true, Path: dest})
	require.NoError(t, err)
	assert.Equal(t, "local", target.Name())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"snap-a", "snap-b"} {
		src := writeSnapshot(t, staging, id+".db", "payload-"+id)
		meta := &backup.Metadata{
			Version:   backup.MetadataVersion,
			ID:        id,
			FileName:  id + ".db",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Size:      int64(len("payload-" + id)),
			Type:      "sqlite",
		}
		require.NoError(t, target.Store(t.Context(), src, meta))
	}

	data, err := os.ReadFile(filepath.Join(dest, "snap-a.db"))
	require.NoError(t, err)
	assert.Equal(t, "payload-snap-a", string(data))

	list, err := target.List(t.Context())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "snap-b", list[0].ID, "newest first")
	assert.Equal(t, "sqlite", list[1].Type)

	require.NoError(t, target.Delete(t.Context(), "snap-a"))
	assert.NoFileExists(t, filepath.Join(dest, "snap-a.db"))
	assert.NoFileExists(t, filepath.Join(dest, "snap-a.meta.json"))

	list, err = target.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), tempPrefix, "temporary files must not remain")
	}
}

func TestLocalTargetSkipsCorruptMetadata(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	target, err := NewLocalTarget(conf.LocalTargetSettings{Path: dest})
	require.NoError(t, err)

	writeSnapshot(t, dest, "broken.meta.json", "{not json")
	writeSnapshot(t, dest, "future.meta.json", `{"version": 99, "id": "future"}`)

	list, err := target.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLocalTargetRejectsUnsafeIDs(t *testing.T) {
	t.Parallel()

	target, err := NewLocalTarget(conf.LocalTargetSettings{Path: t.TempDir()})
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		err := target.Delete(t.Context(), id)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), "id %q: %v", id, err)
	}
}

func TestTargetConstructorsValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		make func() error
	}{
		{"local without path", func() error {
			_, err := NewLocalTarget(conf.LocalTargetSettings{})
			return err
		}},
		{"ftp without host", func() error {
			_, err := NewFTPTarget(conf.FTPTargetSettings{})
			return err
		}},
		{"ftp bad port", func() error {
			_, err := NewFTPTarget(conf.FTPTargetSettings{Host: "h", Port: 70000})
			return err
		}},
		{"sftp without user", func() error {
			_, err := NewSFTPTarget(conf.SFTPTargetSettings{Host: "h", Password: "p"})
			return err
		}},
		{"sftp without credentials", func() error {
			_, err := NewSFTPTarget(conf.SFTPTargetSettings{Host: "h", Username: "u"})
			return err
		}},
		{"sftp missing key file", func() error {
			_, err := NewSFTPTarget(conf.SFTPTargetSettings{Host: "h", Username: "u", KeyFile: "/nonexistent/key"})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.make()
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), "got %v", err)
		})
	}
}

func TestRemoteTargetDefaults(t *testing.T) {
	t.Parallel()

	f, err := NewFTPTarget(conf.FTPTargetSettings{Host: "ftp.example.com", Path: "backups/"})
	require.NoError(t, err)
	assert.Equal(t, "ftp.example.com:21", f.addr)
	assert.Equal(t, "/backups", f.path)
	assert.Equal(t, defaultFTPTimeout, f.timeout)

	s, err := NewSFTPTarget(conf.SFTPTargetSettings{Host: "::1", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "[::1]:22", s.addr)
	assert.Equal(t, ".", s.path)
	assert.Equal(t, "u", s.config.User)
}

func TestFromSettings(t *testing.T) {
	t.Parallel()

	settings := &conf.BackupSettings{
		Local: conf.LocalTargetSettings{Enabled: true, Path: t.TempDir()},
		FTP:   conf.FTPTargetSettings{Enabled: true, Host: "ftp.example.com"},
		SFTP:  conf.SFTPTargetSettings{Enabled: false},
	}
	list, err := FromSettings(settings)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "local", list[0].Name())
	assert.Equal(t, "ftp", list[1].Name())

	settings.SFTP.Enabled = true
	_, err = FromSettings(settings)
	require.Error(t, err)
}
