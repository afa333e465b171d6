package targets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cropscan/cropscan/internal/backup"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/logger"
)

// LocalTarget stores backups in a directory on the local filesystem.
type LocalTarget struct {
	path string
}

// NewLocalTarget creates the target directory if needed.
func NewLocalTarget(settings conf.LocalTargetSettings) (*LocalTarget, error) {
	if settings.Path == "" {
		return nil, configError("local", "path is required")
	}
	abs, err := filepath.Abs(settings.Path)
	if err != nil {
		return nil, configError("local", err.Error())
	}
	if err := os.MkdirAll(abs, dirPermissions); err != nil {
		return nil, targetError(err, "local", "create_dir")
	}
	return &LocalTarget{path: abs}, nil
}

// Name returns the name of the target
func (t *LocalTarget) Name() string {
	return "local"
}

// Store copies the snapshot and writes its sidecar, each via a temp file and rename.
func (t *LocalTarget) Store(ctx context.Context, sourcePath string, metadata *backup.Metadata) error {
	if err := validID(metadata.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return targetError(err, t.Name(), "open_source")
	}
	defer func() { _ = src.Close() }()

	dest := filepath.Join(t.path, filepath.Base(metadata.FileName))
	if err := atomicWriteFile(dest, func(f *os.File) error {
		_, err := io.Copy(f, src)
		return err
	}); err != nil {
		return targetError(err, t.Name(), "store")
	}

	data, err := encodeMetadata(metadata)
	if err != nil {
		return targetError(err, t.Name(), "encode_metadata")
	}
	if err := atomicWriteFile(filepath.Join(t.path, metaName(metadata.ID)), func(f *os.File) error {
		_, err := f.Write(data)
		return err
	}); err != nil {
		return targetError(err, t.Name(), "store_metadata")
	}

	GetLogger().Debug("backup stored", logger.String("target", t.Name()), logger.String("path", dest))
	return nil
}

// List returns stored backups, newest first. Unreadable sidecars are skipped.
func (t *LocalTarget) List(ctx context.Context) ([]backup.Metadata, error) {
	entries, err := os.ReadDir(t.path)
	if err != nil {
		return nil, targetError(err, t.Name(), "list")
	}

	var list []backup.Metadata
	for _, e := range entries {
		if e.IsDir() || !isMetaName(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.path, e.Name()))
		if err != nil {
			continue
		}
		m, err := decodeMetadata(data)
		if err != nil {
			GetLogger().Warn("skipping unreadable backup metadata", logger.String("file", e.Name()), logger.Error(err))
			continue
		}
		list = append(list, m)
	}
	sortNewestFirst(list)
	return list, nil
}

// Delete removes a backup and its sidecar.
func (t *LocalTarget) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	metaPath := filepath.Join(t.path, metaName(id))
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return targetError(err, t.Name(), "delete")
	}
	m, err := decodeMetadata(data)
	if err != nil {
		return targetError(err, t.Name(), "delete")
	}
	if err := os.Remove(filepath.Join(t.path, filepath.Base(m.FileName))); err != nil && !os.IsNotExist(err) {
		return targetError(err, t.Name(), "delete")
	}
	if err := os.Remove(metaPath); err != nil {
		return targetError(err, t.Name(), "delete_metadata")
	}
	return nil
}

// atomicWriteFile writes to a temporary file beside targetPath and renames it into place.
func atomicWriteFile(targetPath string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(targetPath), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(filePermissions); err != nil {
		return fmt.Errorf("set file permissions: %w", err)
	}
	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return fmt.Errorf("rename temporary file: %w", err)
	}

	success = true
	return nil
}
