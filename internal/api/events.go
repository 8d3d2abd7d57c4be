package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"quiltmaker/internal/job"
)

const (
	statusEventName   = "quilt_status"
	keepAliveInterval = 15 * time.Second
)

// StreamEvents sends the job's progress as Server-Sent Events. Past events are
// replayed first; the stream ends after the job's last event.
func (a *API) StreamEvents(c *gin.Context) {
	id := c.Param("id")
	events, cancel, err := a.jobs.Subscribe(id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	sent := 0
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("job_id", id).Int("sent", sent).Msg("event stream client gone")
			return
		case ev, ok := <-events:
			if !ok {
				log.Debug().Str("job_id", id).Int("sent", sent).Msg("event stream complete")
				return
			}
			c.SSEvent(statusEventName, ev)
			c.Writer.Flush()
			sent++
		case <-keepAlive.C:
			if _, err := io.WriteString(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
