package observability

import (
	logs "github.com/danmuck/smplog"
	"github.com/rs/zerolog"
)

// ComponentLogger derives a zerolog logger from the configured smplog logger
// with a fixed component field, for code that wants structured events.
func ComponentLogger(component string) zerolog.Logger {
	return logs.With().Str("component", component).Logger()
}
