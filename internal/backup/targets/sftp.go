package targets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cropscan/cropscan/internal/backup"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/logger"
)

const defaultSFTPTimeout = 30 * time.Second

// SFTPTarget stores backups over SSH.
type SFTPTarget struct {
	addr    string
	config  *ssh.ClientConfig
	path    string
	timeout time.Duration
}

// NewSFTPTarget validates settings and prepares the SSH client config. Key
// authentication is used when KeyFile is set, otherwise the password.
func NewSFTPTarget(settings conf.SFTPTargetSettings) (*SFTPTarget, error) {
	if settings.Host == "" {
		return nil, configError("sftp", "host is required")
	}
	if settings.Username == "" {
		return nil, configError("sftp", "username is required")
	}
	if settings.KeyFile == "" && settings.Password == "" {
		return nil, configError("sftp", "password or key file is required")
	}
	port := settings.Port
	if port == 0 {
		port = 22
	}
	if port < 0 || port > 65535 {
		return nil, configError("sftp", fmt.Sprintf("invalid port %d", port))
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultSFTPTimeout
	}

	auth, err := sftpAuth(settings)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(settings.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	remote := settings.Path
	if remote == "" {
		remote = "."
	}

	return &SFTPTarget{
		addr: net.JoinHostPort(settings.Host, strconv.Itoa(port)),
		config: &ssh.ClientConfig{
			User:            settings.Username,
			Auth:            auth,
			HostKeyCallback: hostKey,
			Timeout:         timeout,
		},
		path:    path.Clean(remote),
		timeout: timeout,
	}, nil
}

func sftpAuth(settings conf.SFTPTargetSettings) ([]ssh.AuthMethod, error) {
	if settings.KeyFile == "" {
		return []ssh.AuthMethod{ssh.Password(settings.Password)}, nil
	}
	key, err := os.ReadFile(settings.KeyFile)
	if err != nil {
		return nil, configError("sftp", fmt.Sprintf("read key file: %v", err))
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, configError("sftp", fmt.Sprintf("parse key file: %v", err))
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		GetLogger().Warn("sftp host key verification disabled, set known_hosts_file to enable it")
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in via missing known_hosts_file
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, configError("sftp", fmt.Sprintf("load known hosts: %v", err))
	}
	return cb, nil
}

// Name returns the name of the target
func (t *SFTPTarget) Name() string {
	return "sftp"
}

func (t *SFTPTarget) withClient(ctx context.Context, op func(*sftp.Client) error) error {
	d := net.Dialer{Timeout: t.timeout}
	netConn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return targetError(err, t.Name(), "connect")
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, t.addr, t.config)
	if err != nil {
		_ = netConn.Close()
		return targetError(err, t.Name(), "handshake")
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	defer func() { _ = sshClient.Close() }()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return targetError(err, t.Name(), "open_session")
	}
	defer func() { _ = client.Close() }()

	return op(client)
}

// Store uploads to a temporary name and renames it into place.
func (t *SFTPTarget) Store(ctx context.Context, sourcePath string, metadata *backup.Metadata) error {
	if err := validID(metadata.ID); err != nil {
		return err
	}
	data, err := encodeMetadata(metadata)
	if err != nil {
		return targetError(err, t.Name(), "encode_metadata")
	}

	return t.withClient(ctx, func(client *sftp.Client) error {
		if err := client.MkdirAll(t.path); err != nil {
			return targetError(err, t.Name(), "create_dir")
		}

		f, err := os.Open(sourcePath)
		if err != nil {
			return targetError(err, t.Name(), "open_source")
		}
		defer func() { _ = f.Close() }()

		if err := t.atomicPut(client, f, path.Join(t.path, path.Base(metadata.FileName))); err != nil {
			return err
		}
		if err := t.atomicPut(client, bytes.NewReader(data), path.Join(t.path, metaName(metadata.ID))); err != nil {
			return err
		}
		GetLogger().Debug("backup uploaded", logger.String("target", t.Name()), logger.String("id", metadata.ID))
		return nil
	})
}

func (t *SFTPTarget) atomicPut(client *sftp.Client, r io.Reader, remotePath string) error {
	tmp := path.Join(path.Dir(remotePath), fmt.Sprintf("%s%d", tempPrefix, time.Now().UnixNano()))
	dst, err := client.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return targetError(err, t.Name(), "upload")
	}
	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		_ = client.Remove(tmp)
		return targetError(err, t.Name(), "upload")
	}
	if err := dst.Close(); err != nil {
		_ = client.Remove(tmp)
		return targetError(err, t.Name(), "upload")
	}
	if err := client.PosixRename(tmp, remotePath); err != nil {
		_ = client.Remove(tmp)
		return targetError(err, t.Name(), "rename")
	}
	return nil
}

// List reads every sidecar in the remote directory.
func (t *SFTPTarget) List(ctx context.Context) ([]backup.Metadata, error) {
	var list []backup.Metadata
	err := t.withClient(ctx, func(client *sftp.Client) error {
		entries, err := client.ReadDir(t.path)
		if err != nil {
			return targetError(err, t.Name(), "list")
		}
		for _, e := range entries {
			if e.IsDir() || !isMetaName(e.Name()) {
				continue
			}
			m, err := readRemoteMetadata(client, path.Join(t.path, e.Name()))
			if err != nil {
				GetLogger().Warn("skipping unreadable backup metadata", logger.String("file", e.Name()), logger.Error(err))
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

func readRemoteMetadata(client *sftp.Client, remotePath string) (backup.Metadata, error) {
	f, err := client.Open(remotePath)
	if err != nil {
		return backup.Metadata{}, err
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return backup.Metadata{}, err
	}
	return decodeMetadata(data)
}

// Delete removes a backup and its sidecar.
func (t *SFTPTarget) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	return t.withClient(ctx, func(client *sftp.Client) error {
		metaPath := path.Join(t.path, metaName(id))
		m, err := readRemoteMetadata(client, metaPath)
		if err != nil {
			return targetError(err, t.Name(), "delete")
		}
		if err := client.Remove(path.Join(t.path, path.Base(m.FileName))); err != nil && !os.IsNotExist(err) {
			return targetError(err, t.Name(), "delete")
		}
		if err := client.Remove(metaPath); err != nil {
			return targetError(err, t.Name(), "delete_metadata")
		}
		return nil
	})
}
