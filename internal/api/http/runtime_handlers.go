package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/validation"
)

// EpochHeader carries the render epoch of a served document.
const EpochHeader = "X-Nexus-Epoch"

// documentPolicy keeps the document in an opaque origin even when it is
// opened outside the shell's iframe.
const documentPolicy = "sandbox allow-scripts allow-modals allow-forms allow-popups"

// Document serves the sandboxed runtime document
func (h *Handlers) Document(c *gin.Context) {
	epoch, doc := h.host.Document()
	c.Header(EpochHeader, epoch)
	c.Header("Content-Security-Policy", documentPolicy)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(doc))
}

type inspectRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetInspect toggles inspect mode
func (h *Handlers) SetInspect(c *gin.Context) {
	var req inspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	changed := h.host.SetInspect(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{
		"enabled": h.host.Inspecting(),
		"changed": changed,
	})
}

// SelectElement records an inspector selection and relays it to the conduit
func (h *Handlers) SelectElement(c *gin.Context) {
	var sel runtime.ElementSelection
	if err := c.ShouldBindJSON(&sel); err != nil {
		h.badRequest(c, err)
		return
	}
	m, err := h.host.SelectElement(c.Request.Context(), sel)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	current, _ := h.host.Selection()
	c.JSON(http.StatusOK, gin.H{
		"selection": current,
		"message":   m,
	})
}

type improveRequest struct {
	Selector    string `json:"selector"`
	Instruction string `json:"instruction"`
}

// ImproveElement asks the generator to rework one element. The element is
// the given selector's first match in the head, or the current selection.
func (h *Handlers) ImproveElement(c *gin.Context) {
	var req improveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	if req.Instruction != "" {
		if err := validation.ValidateInstruction(req.Instruction); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	var (
		el  runtime.ElementSelection
		err error
	)
	if req.Selector != "" {
		el, err = h.host.Element(req.Selector)
		if err != nil {
			h.fail(c, err)
			return
		}
	} else {
		var ok bool
		if el, ok = h.host.Selection(); !ok {
			h.badRequest(c, fmt.Errorf("no element selected"))
			return
		}
	}

	err = h.generation(c, "supervisor.improve", func(ctx context.Context) error {
		return h.supervisor.ImproveElement(ctx, el, req.Instruction)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"element":    el,
		"supervisor": h.supervisor.Snapshot(),
	})
}
