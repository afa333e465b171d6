package backup

import (
	"context"
	"time"

	"github.com/cropscan/cropscan/internal/logger"
)

// Schedule runs a backup every interval until ctx is done. Failures are
// logged and the schedule continues.
func (m *Manager) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	GetLogger().Info("backup schedule started", logger.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Run(ctx); err != nil {
				GetLogger().Error("scheduled backup failed", logger.Error(err))
			}
		}
	}
}
