package api

import (
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
)

const (
	defaultPreviewWidth = 320
	minPreviewWidth     = 16
	maxPreviewWidth     = 2048
)

// PreviewQuilt renders a PNG thumbnail of quilt n, keeping its aspect ratio
func (a *API) PreviewQuilt(c *gin.Context) {
	id := c.Param("id")
	found, ok := a.jobs.GetJob(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quilt number"})
		return
	}
	width := defaultPreviewWidth
	if raw := c.Query("width"); raw != "" {
		width, err = strconv.Atoi(raw)
		if err != nil || width < minPreviewWidth || width > maxPreviewWidth {
			c.JSON(http.StatusBadRequest, gin.H{"error": "width must be between 16 and 2048"})
			return
		}
	}
	if found.Result == nil || n >= len(found.Result.Compose.Quilts) {
		c.JSON(http.StatusNotFound, gin.H{"error": "quilt not available"})
		return
	}

	path := found.Result.Compose.Quilts[n]
	src, err := imaging.Open(path)
	if err != nil {
		log.Warn().Str("job_id", id).Str("file", path).Err(err).Msg("preview source unreadable")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quilt unreadable"})
		return
	}
	thumb := resize.Resize(uint(width), 0, src, resize.Lanczos3)

	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	if err := imaging.Encode(c.Writer, thumb, imaging.PNG); err != nil {
		log.Warn().Str("job_id", id).Err(err).Msg("preview encode failed")
	}
}
