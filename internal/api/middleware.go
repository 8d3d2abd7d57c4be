package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500
)

// ZerologLogger is a Gin middleware that logs requests using zerolog.
// Successful requests whose route contains one of quietRoutes are logged at
// debug level; previews and event streams are polled often.
func ZerologLogger(quietRoutes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()

		var evt *zerolog.Event
		switch {
		case status >= statusErrorThreshold:
			evt = log.Error()
		case status >= statusWarnThreshold:
			evt = log.Warn()
		case isQuiet(route, quietRoutes):
			evt = log.Debug()
		default:
			evt = log.Info()
		}

		if raw != "" {
			path = path + "?" + raw
		}
		if id := c.Param("id"); id != "" {
			evt = evt.Str("job_id", id)
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}

		evt.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("route", route).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http request completed")
	}
}

func isQuiet(route string, parts []string) bool {
	for _, p := range parts {
		if route != "" && strings.Contains(route, p) {
			return true
		}
	}
	return false
}
