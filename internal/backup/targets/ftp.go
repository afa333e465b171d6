package targets

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/cropscan/cropscan/internal/backup"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/logger"
)

const defaultFTPTimeout = 30 * time.Second

// FTPTarget stores backups on an FTP server. Each operation opens its own
// control connection.
type FTPTarget struct {
	addr     string
	username string
	password string
	path     string
	timeout  time.Duration
}

// NewFTPTarget validates settings and returns an FTP target.
func NewFTPTarget(settings conf.FTPTargetSettings) (*FTPTarget, error) {
	if settings.Host == "" {
		return nil, configError("ftp", "host is required")
	}
	port := settings.Port
	if port == 0 {
		port = 21
	}
	if port < 0 || port > 65535 {
		return nil, configError("ftp", fmt.Sprintf("invalid port %d", port))
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultFTPTimeout
	}
	remote := settings.Path
	if remote == "" {
		remote = "/"
	}

	return &FTPTarget{
		addr:     net.JoinHostPort(settings.Host, strconv.Itoa(port)),
		username: settings.Username,
		password: settings.Password,
		path:     path.Clean("/" + remote),
		timeout:  timeout,
	}, nil
}

// Name returns the name of the target
func (t *FTPTarget) Name() string {
	return "ftp"
}

func (t *FTPTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(t.addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(t.timeout))
	if err != nil {
		return nil, targetError(err, t.Name(), "connect")
	}
	if t.username != "" {
		if err := conn.Login(t.username, t.password); err != nil {
			_ = conn.Quit()
			return nil, targetError(err, t.Name(), "login")
		}
	}
	return conn, nil
}

func (t *FTPTarget) withConn(ctx context.Context, op func(*ftp.ServerConn) error) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			GetLogger().Debug("ftp quit failed", logger.Error(err))
		}
	}()
	return op(conn)
}

// makeDirs creates every missing element of dir. Errors are ignored because
// most servers report existing directories as failures.
func (t *FTPTarget) makeDirs(conn *ftp.ServerConn, dir string) {
	current := "/"
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		_ = conn.MakeDir(current)
	}
}

// Store uploads to a temporary name and renames it into place.
func (t *FTPTarget) Store(ctx context.Context, sourcePath string, metadata *backup.Metadata) error {
	if err := validID(metadata.ID); err != nil {
		return err
	}
	data, err := encodeMetadata(metadata)
	if err != nil {
		return targetError(err, t.Name(), "encode_metadata")
	}

	return t.withConn(ctx, func(conn *ftp.ServerConn) error {
		t.makeDirs(conn, t.path)

		f, err := os.Open(sourcePath)
		if err != nil {
			return targetError(err, t.Name(), "open_source")
		}
		defer func() { _ = f.Close() }()

		if err := t.atomicStor(conn, f, path.Join(t.path, path.Base(metadata.FileName))); err != nil {
			return err
		}
		if err := t.atomicStor(conn, strings.NewReader(string(data)), path.Join(t.path, metaName(metadata.ID))); err != nil {
			return err
		}
		GetLogger().Debug("backup uploaded", logger.String("target", t.Name()), logger.String("id", metadata.ID))
		return nil
	})
}

func (t *FTPTarget) atomicStor(conn *ftp.ServerConn, r io.Reader, remotePath string) error {
	tmp := path.Join(path.Dir(remotePath), fmt.Sprintf("%s%d", tempPrefix, time.Now().UnixNano()))
	if err := conn.Stor(tmp, r); err != nil {
		_ = conn.Delete(tmp)
		return targetError(err, t.Name(), "upload")
	}
	if err := conn.Rename(tmp, remotePath); err != nil {
		_ = conn.Delete(tmp)
		return targetError(err, t.Name(), "rename")
	}
	return nil
}

// List reads every sidecar in the remote directory.
func (t *FTPTarget) List(ctx context.Context) ([]backup.Metadata, error) {
	var list []backup.Metadata
	err := t.withConn(ctx, func(conn *ftp.ServerConn) error {
		entries, err := conn.List(t.path)
		if err != nil {
			return targetError(err, t.Name(), "list")
		}
		for _, e := range entries {
			if e.Type != ftp.EntryTypeFile || !isMetaName(e.Name) {
				continue
			}
			m, err := t.readMetadata(conn, path.Join(t.path, e.Name))
			if err != nil {
				GetLogger().Warn("skipping unreadable backup metadata", logger.String("file", e.Name), logger.Error(err))
				continue
			}
			list = append(list, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(list)
	return list, nil
}

func (t *FTPTarget) readMetadata(conn *ftp.ServerConn, remotePath string) (backup.Metadata, error) {
	resp, err := conn.Retr(remotePath)
	if err != nil {
		return backup.Metadata{}, err
	}
	data, err := io.ReadAll(resp)
	closeErr := resp.Close()
	if err != nil {
		return backup.Metadata{}, err
	}
	if closeErr != nil {
		return backup.Metadata{}, closeErr
	}
	return decodeMetadata(data)
}

// Delete removes a backup and its sidecar.
func (t *FTPTarget) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	return t.withConn(ctx, func(conn *ftp.ServerConn) error {
		metaPath := path.Join(t.path, metaName(id))
		m, err := t.readMetadata(conn, metaPath)
		if err != nil {
			return targetError(err, t.Name(), "delete")
		}
		if err := conn.Delete(path.Join(t.path, path.Base(m.FileName))); err != nil {
			return targetError(err, t.Name(), "delete")
		}
		if err := conn.Delete(metaPath); err != nil {
			return targetError(err, t.Name(), "delete_metadata")
		}
		return nil
	})
}
