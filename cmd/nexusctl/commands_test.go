package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/NexusCore/backend/internal/api/middleware"
)

type recorded struct {
	method string
	path   string
	tab    string
	body   []byte
}

func fakeServer(t *testing.T, routes func(r *gin.Engine)) (string, *[]recorded) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var calls []recorded
	r := gin.New()
	r.Use(func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		calls = append(calls, recorded{
			method: c.Request.Method,
			path:   c.Request.URL.Path,
			tab:    c.GetHeader(middleware.TabHeader),
			body:   body,
		})
	})
	routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL, &calls
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--server", url}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	url, _ := fakeServer(t, func(r *gin.Engine) {
		r.GET("/supervisor", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "IDLE", "integrity": 70, "headId": "v_2", "versions": 2, "error": "SYSTEM CRASH DETECTED"})
		})
	})

	out, err := run(t, url, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "IDLE")
	assert.Contains(t, out, "70%")
	assert.Contains(t, out, "v_2")
	assert.Contains(t, out, "SYSTEM CRASH DETECTED")
}

func TestEvolveSendsTextAndTab(t *testing.T) {
	url, calls := fakeServer(t, func(r *gin.Engine) {
		r.POST("/capture/submit", func(c *gin.Context) {
			c.JSON(http.StatusAccepted, gin.H{"status": "REPLICATING", "headId": "v_3"})
		})
	})

	out, err := run(t, url, "--tab", "tab_ops", "evolve", "make", "it", "blue")
	require.NoError(t, err)
	assert.Contains(t, out, "REPLICATING v_3")

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "tab_ops", call.tab)
	var body map[string]string
	require.NoError(t, json.Unmarshal(call.body, &body))
	assert.Equal(t, "make it blue", body["text"])
}

func TestServerErrorsSurface(t *testing.T) {
	url, _ := fakeServer(t, func(r *gin.Engine) {
		r.POST("/versions/rollback", func(c *gin.Context) {
			c.JSON(http.StatusConflict, gin.H{"error": "supervisor busy: REPLICATING"})
		})
	})

	_, err := run(t, url, "rollback")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supervisor busy")
	assert.Contains(t, err.Error(), "409")
}

func TestVersionsMarksHead(t *testing.T) {
	url, _ := fakeServer(t, func(r *gin.Engine) {
		r.GET("/versions", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"head": "v_2",
				"versions": []gin.H{
					{"id": "v_2", "timestamp": 1700000000000, "description": "blue header", "isStable": false},
					{"id": "v_1", "timestamp": 1690000000000, "description": "genesis", "isStable": true},
				},
			})
		})
	})

	out, err := run(t, url, "versions")
	require.NoError(t, err)
	assert.Contains(t, out, "* v_2")
	assert.Contains(t, out, "  v_1")
	assert.Contains(t, out, "[stable]")
}

func TestExportImportRoundTrip(t *testing.T) {
	archive := []byte(`[{"id":"v_1","code":"<html></html>"}]`)
	url, calls := fakeServer(t, func(r *gin.Engine) {
		r.GET("/versions/export", func(c *gin.Context) {
			c.Data(http.StatusOK, "application/json", archive)
		})
		r.POST("/versions/import", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"imported": 1, "head": "v_1"})
		})
	})

	file := filepath.Join(t.TempDir(), "history.json")
	out, err := run(t, url, "export", "-o", file)
	require.NoError(t, err)
	assert.Contains(t, out, file)
	saved, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, archive, saved)

	out, err = run(t, url, "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 versions")
	last := (*calls)[len(*calls)-1]
	assert.Equal(t, archive, last.body)
}

func TestMessagesAndClear(t *testing.T) {
	url, calls := fakeServer(t, func(r *gin.Engine) {
		r.GET("/conduit/messages", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"messages": []gin.H{
				{"type": "CODE_FRAGMENT", "senderId": "tab_a", "payload": "const x = 1", "hyperbit": gin.H{"COLOR": "Blue"}},
			}})
		})
		r.DELETE("/conduit/messages", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"cleared": true})
		})
	})

	out, err := run(t, url, "messages")
	require.NoError(t, err)
	assert.Contains(t, out, "CODE_FRAGMENT")
	assert.Contains(t, out, "Blue")
	assert.Contains(t, out, "const x = 1")

	out, err = run(t, url, "messages", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")
	assert.Equal(t, http.MethodDelete, (*calls)[len(*calls)-1].method)
}

func TestReportMarkdown(t *testing.T) {
	url, _ := fakeServer(t, func(r *gin.Engine) {
		r.POST("/report", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"html": "<h2>Overview</h2>", "markdown": "## Overview"})
		})
	})

	out, err := run(t, url, "report", "--markdown")
	require.NoError(t, err)
	assert.Equal(t, "## Overview\n", out)
}

func TestRestoreEscapesName(t *testing.T) {
	url, calls := fakeServer(t, func(r *gin.Engine) {
		r.POST("/cloud/restore/:name", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"restored": c.Param("name"), "head": "v_9"})
		})
	})

	out, err := run(t, url, "restore", "nexus_memory_2024-01-01T00-00-00.json")
	require.NoError(t, err)
	assert.Contains(t, out, "restored nexus_memory_2024-01-01T00-00-00.json")
	assert.Equal(t, "/cloud/restore/nexus_memory_2024-01-01T00-00-00.json", (*calls)[0].path)
}
