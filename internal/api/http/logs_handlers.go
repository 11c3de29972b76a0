package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/validation"
)

// maxLogBatch bounds one shell log upload.
const maxLogBatch = 200

// ShellLogEntry is one log line forwarded by the shell
type ShellLogEntry struct {
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	Timestamp string         `json:"timestamp"`
	Tab       string         `json:"tab"`
}

// ShellLogBatch is a batch of shell log lines
type ShellLogBatch struct {
	Source  string          `json:"source"`
	Entries []ShellLogEntry `json:"entries"`
}

// StreamLogs writes shell log lines into the server log
func (h *Handlers) StreamLogs(c *gin.Context) {
	var req ShellLogBatch
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Source != "shell" && req.Source != "runtime" {
		h.badRequest(c, fmt.Errorf("invalid log source %q", req.Source))
		return
	}
	if len(req.Entries) == 0 {
		h.badRequest(c, fmt.Errorf("no log entries"))
		return
	}
	if len(req.Entries) > maxLogBatch {
		h.fail(c, fmt.Errorf("%w: %d entries, max %d", errTooLarge, len(req.Entries), maxLogBatch))
		return
	}

	logger := h.logger.Named(req.Source)
	for _, entry := range req.Entries {
		h.writeShellLog(logger, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  len(req.Entries),
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handlers) writeShellLog(logger *zap.Logger, entry ShellLogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+3)
	fields = append(fields,
		zap.String("log_id", entry.ID),
		zap.String("tab", entry.Tab),
		zap.String("shell_timestamp", entry.Timestamp),
	)
	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, validation.Truncate(v, validation.MaxErrorLength)))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	msg := validation.Truncate(entry.Message, validation.MaxErrorLength)
	switch entry.Level {
	case "error":
		logger.Error(msg, fields...)
	case "warn":
		logger.Warn(msg, fields...)
	case "debug", "verbose":
		logger.Debug(msg, fields...)
	default:
		logger.Info(msg, fields...)
	}
}
