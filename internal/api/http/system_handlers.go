package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/cloud"
)

// GetSettings returns the user settings
func (h *Handlers) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Get())
}

// PutSettings replaces the user settings
func (h *Handlers) PutSettings(c *gin.Context) {
	next := h.settings.Get()
	if err := c.ShouldBindJSON(&next); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := next.Validate(); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.settings.Save(c.Request.Context(), next); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.settings.Get())
}

// Boundary returns the rendered shell boundary
func (h *Handlers) Boundary(c *gin.Context) {
	c.JSON(http.StatusOK, h.boundary.State().Render())
}

type failRequest struct {
	Error string `json:"error" binding:"required"`
}

// FailBoundary records a failure reported by the shell
func (h *Handlers) FailBoundary(c *gin.Context) {
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.boundary.Fail(errors.New(req.Error)).Render())
}

// RetryBoundary clears the failure
func (h *Handlers) RetryBoundary(c *gin.Context) {
	c.JSON(http.StatusOK, h.boundary.Retry().Render())
}

// RepairBoundary asks the generator to repair the failed head
func (h *Handlers) RepairBoundary(c *gin.Context) {
	var repaired version.Version
	err := h.generation(c, "boundary.repair", func(ctx context.Context) error {
		var err error
		repaired, err = h.boundary.Repair(ctx)
		return err
	})
	if err != nil {
		status := statusFor(err)
		c.JSON(status, gin.H{
			"error":    err.Error(),
			"boundary": h.boundary.State().Render(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":  repaired,
		"boundary": h.boundary.State().Render(),
	})
}

// Reset performs the factory reset
func (h *Handlers) Reset(c *gin.Context) {
	if err := h.boundary.HardReset(c.Request.Context()); err != nil {
		h.fail(c, fmt.Errorf("reset: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reset":      true,
		"settings":   h.settings.Get(),
		"supervisor": h.supervisor.Snapshot(),
		"boundary":   h.boundary.State().Render(),
	})
}

// Backup uploads the history archive to the cloud bucket
func (h *Handlers) Backup(c *gin.Context) {
	data, err := h.versions.Export()
	if err != nil {
		h.fail(c, err)
		return
	}
	var obj cloud.Object
	err = h.traced(c, "cloud.backup", func(ctx context.Context) error {
		var err error
		obj, err = h.archiver.Backup(ctx, data)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, obj)
}

// Backups lists the archives in the cloud bucket
func (h *Handlers) Backups(c *gin.Context) {
	objs, err := h.archiver.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": objs})
}

// Restore imports an archive from the cloud bucket
func (h *Handlers) Restore(c *gin.Context) {
	name := c.Param("name")
	var raw []byte
	err := h.traced(c, "cloud.restore", func(ctx context.Context) error {
		var err error
		raw, err = h.archiver.Fetch(ctx, name)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	data, err := decodeArchive(raw)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.supervisor.Import(c.Request.Context(), data); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"restored": name,
		"imported": h.versions.Len(),
		"head":     h.versions.Current().ID,
	})
}
