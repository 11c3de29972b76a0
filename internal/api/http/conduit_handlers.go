package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/conduit"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/validation"
)

// clipboardColors is the color each message type gets when the sender does
// not pick one.
var clipboardColors = map[conduit.MessageType]conduit.Color{
	conduit.CodeFragment:   conduit.Blue,
	conduit.ElementData:    conduit.Yellow,
	conduit.RawInstruction: conduit.Green,
	conduit.SystemReport:   conduit.Purple,
}

type sendRequest struct {
	Type     conduit.MessageType `json:"type" binding:"required"`
	Payload  json.RawMessage     `json:"payload"`
	Hyperbit *conduit.Overrides  `json:"hyperbit"`
}

// Messages returns the conduit log as the calling tab sees it
func (h *Handlers) Messages(c *gin.Context) {
	tab, release, ok := h.tab(c)
	if !ok {
		return
	}
	defer release()
	msgs, err := tab.Messages(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tab":      tab.ID(),
		"messages": msgs,
	})
}

// SendMessage appends a message to the conduit
func (h *Handlers) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if !req.Type.Valid() {
		h.badRequest(c, fmt.Errorf("unknown message type %q", req.Type))
		return
	}
	if len(req.Payload) == 0 {
		h.badRequest(c, fmt.Errorf("payload is required"))
		return
	}
	if err := validation.ValidateSize(req.Payload, validation.MaxPayloadSize, "payload"); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errTooLarge, err))
		return
	}

	meta := req.Hyperbit
	if meta == nil {
		meta = &conduit.Overrides{}
	}
	if meta.Color == "" {
		meta.Color = clipboardColors[req.Type]
	}

	tab, release, ok := h.tab(c)
	if !ok {
		return
	}
	defer release()
	m, err := tab.Send(c.Request.Context(), req.Type, req.Payload, meta)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// ClearMessages wipes the conduit log for every tab
func (h *Handlers) ClearMessages(c *gin.Context) {
	tab, release, ok := h.tab(c)
	if !ok {
		return
	}
	defer release()
	if err := tab.Clear(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// RemoveMessage deletes one message without notifying other tabs
func (h *Handlers) RemoveMessage(c *gin.Context) {
	messageID := c.Param("id")
	if err := validation.ValidateString(messageID, "id", 1, 128, true); err != nil {
		h.badRequest(c, err)
		return
	}
	tab, release, ok := h.tab(c)
	if !ok {
		return
	}
	defer release()
	if err := tab.Remove(c.Request.Context(), messageID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": messageID})
}

// ShareCode sends the current head's code to the conduit as a code fragment
func (h *Handlers) ShareCode(c *gin.Context) {
	tab, release, ok := h.tab(c)
	if !ok {
		return
	}
	defer release()
	head := h.versions.Current()
	note := fmt.Sprintf("system code %s", head.ID)
	m, err := tab.Send(c.Request.Context(), conduit.CodeFragment, head.Code, &conduit.Overrides{
		Color:   conduit.Blue,
		Context: &note,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}
