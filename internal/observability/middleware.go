package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HTTPObserver records every request in the http metrics and writes one
// structured event for it. Scrapes of quietPaths are logged at debug so a
// Prometheus poller does not flood the console.
func HTTPObserver(logger zerolog.Logger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := routeOf(c)
		status := c.Writer.Status()
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch _, isQuiet := quiet[route]; {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case isQuiet:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("remote", c.ClientIP()).
			Msg("status request")
	}
}

// routeOf prefers the registered pattern so unknown paths do not explode
// metric cardinality.
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
