package app

import (
	"sync"

	"github.com/cropscan/cropscan/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("app")
	})
	return serviceLogger
}
