package backup

import (
	"sync"

	"github.com/cropscan/cropscan/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the backup package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("backup")
	})
	return serviceLogger
}
