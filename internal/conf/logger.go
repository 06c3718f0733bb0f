package conf

import "github.com/tphakala/trackmix/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// It is resolved on every call because the central logger is installed after
// package init.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
