package targets

import (
	"github.com/cropscan/cropscan/internal/backup"
	"github.com/cropscan/cropscan/internal/conf"
)

// FromSettings builds every enabled target.
func FromSettings(settings *conf.BackupSettings) ([]backup.Target, error) {
	var out []backup.Target

	if settings.Local.Enabled {
		t, err := NewLocalTarget(settings.Local)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if settings.FTP.Enabled {
		t, err := NewFTPTarget(settings.FTP)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if settings.SFTP.Enabled {
		t, err := NewSFTPTarget(settings.SFTP)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, nil
}
