package http

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/conduit"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/genai"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/validation"
)

// Supervisor returns the supervisor snapshot
func (h *Handlers) Supervisor(c *gin.Context) {
	c.JSON(http.StatusOK, h.supervisor.Snapshot())
}

// StartCapture moves the supervisor to LISTENING
func (h *Handlers) StartCapture(c *gin.Context) {
	if err := h.supervisor.BeginCapture(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.supervisor.Snapshot())
}

// AbortCapture discards an in-progress capture
func (h *Handlers) AbortCapture(c *gin.Context) {
	aborted := h.supervisor.AbortCapture()
	c.JSON(http.StatusOK, gin.H{
		"aborted":    aborted,
		"supervisor": h.supervisor.Snapshot(),
	})
}

type submitRequest struct {
	Text string `json:"text"`
}

// SubmitCapture ends a capture. The body is either multipart with the
// recording in the "audio" field or JSON {"text": ...}.
func (h *Handlers) SubmitCapture(c *gin.Context) {
	var (
		in  genai.Instruction
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		in, err = audioInstruction(c)
	} else {
		in, err = textInstruction(c)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	err = h.generation(c, "supervisor.evolve", func(ctx context.Context) error {
		return h.supervisor.SubmitCapture(ctx, in)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.supervisor.Snapshot())
}

func textInstruction(c *gin.Context) (genai.Instruction, error) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return genai.Instruction{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := validation.ValidateInstruction(req.Text); err != nil {
		return genai.Instruction{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return genai.Instruction{Text: req.Text}, nil
}

func audioInstruction(c *gin.Context) (genai.Instruction, error) {
	fh, err := c.FormFile("audio")
	if err != nil {
		return genai.Instruction{}, fmt.Errorf("%w: audio field: %v", errBadRequest, err)
	}
	data, err := readPart(fh, validation.MaxAudioSize)
	if err != nil {
		return genai.Instruction{}, err
	}
	if len(data) == 0 {
		return genai.Instruction{}, fmt.Errorf("%w: empty recording", errBadRequest)
	}

	mt := audioType(data, fh.Header.Get("Content-Type"))
	if mt == "" {
		return genai.Instruction{}, fmt.Errorf("%w: recording is not audio", errUnsupportedMedia)
	}

	in := genai.Instruction{Audio: data, MIMEType: mt}
	if text := c.PostForm("text"); text != "" {
		if err := validation.ValidateInstruction(text); err != nil {
			return genai.Instruction{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		in.Text = text
	}
	return in, nil
}

// audioType sniffs the recording. Browsers record webm or ogg; a webm file
// without a video track still sniffs as video/webm, so the declared type
// wins when it is audio.
func audioType(data []byte, declared string) string {
	declared = strings.TrimSpace(strings.SplitN(declared, ";", 2)[0])
	detected := mimetype.Detect(data)

	switch {
	case strings.HasPrefix(declared, "audio/"):
		return declared
	case strings.HasPrefix(detected.String(), "audio/"):
		return strings.SplitN(detected.String(), ";", 2)[0]
	case detected.Is("video/webm"):
		return "audio/webm"
	case detected.Is("application/ogg"):
		return "audio/ogg"
	}
	return ""
}

func readPart(fh *multipart.FileHeader, max int) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	defer f.Close()
	return readLimited(f, max)
}

func readLimited(r io.Reader, max int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := validation.ValidateSize(data, max, "body"); err != nil {
		return nil, fmt.Errorf("%w: %v", errTooLarge, err)
	}
	return data, nil
}

// HealthCheck accepts a health signal relayed by the shell
func (h *Handlers) HealthCheck(c *gin.Context) {
	var sig runtime.HealthSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		h.badRequest(c, err)
		return
	}
	if !sig.Valid() {
		h.badRequest(c, fmt.Errorf("invalid health signal"))
		return
	}
	accepted := h.host.Publish(sig)
	c.JSON(http.StatusAccepted, gin.H{
		"accepted":   accepted,
		"supervisor": h.supervisor.Snapshot(),
	})
}

type reportRequest struct {
	Send bool `json:"send"`
}

// Report generates a system report of the current head. With {"send": true}
// the report is also placed on the conduit.
func (h *Handlers) Report(c *gin.Context) {
	var req reportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	var text string
	err := h.traced(c, "supervisor.report", func(ctx context.Context) error {
		var err error
		text, err = h.supervisor.Report(ctx)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	md, err := h.markdown.ConvertString(text)
	if err != nil {
		h.fail(c, fmt.Errorf("report markdown: %w", err))
		return
	}

	resp := gin.H{"html": text, "markdown": md}
	if req.Send {
		tab, release, ok := h.tab(c)
		if !ok {
			return
		}
		defer release()
		note := "system report"
		m, err := tab.Send(c.Request.Context(), conduit.SystemReport, text, &conduit.Overrides{
			Color:   conduit.Purple,
			Context: &note,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		resp["message"] = m
	}
	c.JSON(http.StatusOK, resp)
}
