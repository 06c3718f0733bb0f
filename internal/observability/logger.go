package observability

import "github.com/tphakala/trackmix/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("metrics")
