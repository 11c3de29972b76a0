package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/cloud"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/validation"
)

// ListVersions returns the history, newest first
func (h *Handlers) ListVersions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"versions": h.versions.List(),
		"head":     h.versions.Current().ID,
	})
}

// GetVersion returns one version
func (h *Handlers) GetVersion(c *gin.Context) {
	v, ok := h.versions.Get(c.Param("id"))
	if !ok {
		h.fail(c, fmt.Errorf("%w: %s", version.ErrNotFound, c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, v)
}

// RollbackVersion pops the head. The genesis version is never removed.
func (h *Handlers) RollbackVersion(c *gin.Context) {
	removed, err := h.supervisor.Rollback(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := gin.H{
		"rolledBack": removed != nil,
		"head":       h.versions.Current(),
		"supervisor": h.supervisor.Snapshot(),
	}
	if removed != nil {
		resp["removed"] = removed.ID
	}
	c.JSON(http.StatusOK, resp)
}

// ExportVersions downloads the history archive. ?gzip=1 returns a .json.gz
// file; otherwise the body is gzip-encoded when the client accepts it.
func (h *Handlers) ExportVersions(c *gin.Context) {
	data, err := h.versions.Export()
	if err != nil {
		h.fail(c, err)
		return
	}
	name := cloud.ArchiveName(time.Now())

	switch {
	case c.Query("gzip") == "1":
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.gz"`, name))
		h.writeGzip(c, "application/gzip", data)
	case strings.Contains(c.GetHeader("Accept-Encoding"), "gzip"):
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		h.writeGzip(c, "application/json", data)
	default:
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		c.Data(http.StatusOK, "application/json", data)
	}
}

func (h *Handlers) writeGzip(c *gin.Context, contentType string, data []byte) {
	var buf bytes.Buffer
	zw, _ := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if _, err := zw.Write(data); err != nil {
		h.fail(c, fmt.Errorf("compress archive: %w", err))
		return
	}
	if err := zw.Close(); err != nil {
		h.fail(c, fmt.Errorf("compress archive: %w", err))
		return
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// ImportVersions replaces the history with an uploaded archive: a multipart
// "file" field or the raw request body. Gzip, non-UTF-8 text and a BOM are
// all accepted.
func (h *Handlers) ImportVersions(c *gin.Context) {
	var (
		raw []byte
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, ferr := c.FormFile("file")
		if ferr != nil {
			h.badRequest(c, fmt.Errorf("file field: %w", ferr))
			return
		}
		raw, err = readPart(fh, validation.MaxArchiveSize)
	} else {
		raw, err = readLimited(c.Request.Body, validation.MaxArchiveSize)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	data, err := decodeArchive(raw)
	if err != nil {
		h.fail(c, err)
		return
	}

	if err := h.pause(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.supervisor.Import(c.Request.Context(), data); err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("archive imported", zap.Int("bytes", len(data)), zap.Int("versions", h.versions.Len()))
	c.JSON(http.StatusOK, gin.H{
		"imported": h.versions.Len(),
		"head":     h.versions.Current().ID,
	})
}

// pause applies the configured import delay.
func (h *Handlers) pause(ctx context.Context) error {
	if h.importDelay <= 0 {
		return nil
	}
	t := time.NewTimer(h.importDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeArchive turns an uploaded archive into UTF-8 JSON bytes.
func decodeArchive(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty archive", version.ErrInvalidArchive)
	}

	if mimetype.Detect(raw).Is("application/gzip") {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", version.ErrInvalidArchive, err)
		}
		defer zr.Close()
		raw, err = readLimited(zr, validation.MaxArchiveSize)
		if err != nil {
			return nil, err
		}
	}

	mt := mimetype.Detect(raw)
	if !mt.Is("application/json") && !mt.Is("text/plain") {
		return nil, fmt.Errorf("%w: archive is %s", errUnsupportedMedia, mt.String())
	}

	data, err := toUTF8(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", version.ErrInvalidArchive, err)
	}
	return bytes.TrimPrefix(data, utf8BOM), nil
}

// toUTF8 transcodes data when it is not valid UTF-8.
func toUTF8(data []byte) ([]byte, error) {
	if utf8.Valid(data) {
		return data, nil
	}
	name := "utf-8"
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res != nil {
		name = strings.ToLower(res.Charset)
	}
	r, err := charset.NewReader(bytes.NewReader(data), "application/json; charset="+name)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return io.ReadAll(r)
}
