package sentinel

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	textPolicy   = bluemonday.StrictPolicy()
	reportPolicy = bluemonday.UGCPolicy()
)

// CleanSummary reduces generator-provided text (change summaries, version
// descriptions) to plain text.
func CleanSummary(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// CleanReport keeps the formatting markup of a generated report and drops
// scripts, handlers and other active content.
func CleanReport(s string) string {
	return strings.TrimSpace(reportPolicy.Sanitize(s))
}
