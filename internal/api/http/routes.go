package http

import "github.com/gin-gonic/gin"

// Register mounts every handler on r. /metrics and /stream are mounted by
// the server since they are not served by Handlers.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/diagnostics", h.Diagnostics)

	// Supervisor
	r.GET("/supervisor", h.Supervisor)
	r.POST("/capture/start", h.StartCapture)
	r.POST("/capture/abort", h.AbortCapture)
	r.POST("/capture/submit", h.SubmitCapture)
	r.POST("/health-check", h.HealthCheck)
	r.POST("/report", h.Report)

	// Runtime
	r.GET("/runtime/document", h.Document)
	r.PUT("/runtime/inspect", h.SetInspect)
	r.POST("/runtime/select", h.SelectElement)
	r.POST("/runtime/improve", h.ImproveElement)

	// History; static segments before :id
	r.GET("/versions", h.ListVersions)
	r.GET("/versions/export", h.ExportVersions)
	r.POST("/versions/import", h.ImportVersions)
	r.POST("/versions/rollback", h.RollbackVersion)
	r.GET("/versions/:id", h.GetVersion)

	// Conduit
	r.GET("/conduit/messages", h.Messages)
	r.POST("/conduit/messages", h.SendMessage)
	r.DELETE("/conduit/messages", h.ClearMessages)
	r.DELETE("/conduit/messages/:id", h.RemoveMessage)
	r.POST("/conduit/share-code", h.ShareCode)

	// Settings and boundary
	r.GET("/settings", h.GetSettings)
	r.PUT("/settings", h.PutSettings)
	r.GET("/boundary", h.Boundary)
	r.POST("/boundary/fail", h.FailBoundary)
	r.POST("/boundary/retry", h.RetryBoundary)
	r.POST("/boundary/repair", h.RepairBoundary)
	r.POST("/system/reset", h.Reset)

	// Cloud
	r.POST("/cloud/backup", h.Backup)
	r.GET("/cloud/backups", h.Backups)
	r.POST("/cloud/restore/:name", h.Restore)

	r.POST("/logs", h.StreamLogs)
}
