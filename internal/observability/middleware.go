package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// quietPaths are probed often and logged at debug level only.
var quietPaths = map[string]bool{"/health": true, "/metrics": true}

// RequestLogger logs one event per HTTP request. Contract routes also carry
// the contract, method and X-Contract-Id of the call.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := routeOf(c)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case quietPaths[path]:
			event = logger.Debug()
		default:
			event = logger.Info()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size())
		if name := c.Param("contract"); name != "" {
			event = event.Str("contract", name).Str("contract_method", c.Param("method"))
		}
		if id := c.Writer.Header().Get("X-Contract-Id"); id != "" {
			event = event.Str("call_id", id)
		}
		if msg := c.Writer.Header().Get("X-Contract-Message"); msg != "" && status >= 400 {
			event = event.Str("call_message", msg)
		}
		event.Msg("http_request")
	}
}

// RequestMetricsMiddleware records request counts and latency per route
// template, so contract calls do not explode label cardinality.
func RequestMetricsMiddleware(hostName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(hostName, c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

func routeOf(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}
