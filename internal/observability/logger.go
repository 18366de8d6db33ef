package observability

import "github.com/tphakala/agm/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("telemetry")
