package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Link states used to label status requests.
const (
	LinkDown      = "down"
	LinkHandshake = "handshake"
	LinkReady     = "ready"
)

func linkState(h HealthView) string {
	switch {
	case !h.Connected:
		return LinkDown
	case !h.Ready:
		return LinkHandshake
	default:
		return LinkReady
	}
}

// StatusRequests logs and counts each request together with the link state
// it was answered under. A request served while the link is not ready logs
// at warn, since its snapshot may be stale or partial.
func StatusRequests(logger zerolog.Logger, health func() HealthView) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		h := health()
		state := linkState(h)

		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400 || state != LinkReady:
			event = logger.Warn()
		}
		event.
			Str("device", h.Device).
			Str("link", state).
			Uint64("rx", h.Received).
			Uint64("tx", h.Sent).
			Uint64("dropped", h.Dropped).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", took).
			Msg("status_request")

		RecordHTTPRequest(h.Device, state, c.Request.Method, path, status, took)
	}
}
