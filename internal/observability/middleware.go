package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

// GatewayMiddleware logs and counts every gateway request. Unmatched paths
// share one route label so scans cannot grow the metric set.
func GatewayMiddleware(gateway string, logger zerolog.Logger) gin.HandlerFunc {
	logger = logger.With().Str("component", "gateway").Str("gateway", gateway).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := routeOf(c)
		elapsed := time.Since(start)
		RecordHTTPRequest(gateway, c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Debug()
		}
		if q := c.Request.URL.RawQuery; q != "" {
			event = event.Str("query", q)
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("gateway request")
	}
}
