package sentinel

import (
	"regexp"
	"strings"
)

var (
	prologueBlock  = regexp.MustCompile(`(?s)<!--nexus:prologue-->.*?<!--/nexus:prologue-->`)
	monitorBlock   = regexp.MustCompile(`(?is)<script data-nexus="health-monitor"[^>]*>.*?</script>`)
	inspectorBlock = regexp.MustCompile(`(?s)<!--nexus:inspector-->.*?<!--/nexus:inspector-->`)

	importMapTag = regexp.MustCompile(`(?is)<script type="importmap">.*?</script>`)
	tailwindTag  = regexp.MustCompile(`(?i)<script src="https://cdn\.tailwindcss\.com"></script>`)
	reactURL     = regexp.MustCompile(`https://esm\.sh/react@\^?19[\d.]*`)

	strayMonitorTag = regexp.MustCompile(`(?i)<script data-nexus="health-monitor"[^>]*>`)

	headOpen  = regexp.MustCompile(`(?i)<head(\s[^>]*)?>`)
	htmlOpen  = regexp.MustCompile(`(?i)<html(\s[^>]*)?>`)
	bodyClose = regexp.MustCompile(`(?i)</body\s*>`)
)

// PinnedReactURL is the framework URL every reference is rewritten to.
const PinnedReactURL = "https://esm.sh/react@18.2.0"

// Sanitize rewrites a generated document into one that can be embedded in the
// runtime sandbox: conflicting loaders are removed, React is pinned, the
// canonical head prologue is injected and a health monitor is installed.
//
// Sanitize never fails and is idempotent: Sanitize(Sanitize(x)) == Sanitize(x),
// and its output always holds exactly one prologue and one monitor.
func Sanitize(raw string) string {
	code := strip(raw)
	code = reactURL.ReplaceAllString(code, PinnedReactURL)

	code = injectPrologue(code)
	return injectMonitor(code)
}

var reservedMarkers = []string{prologueOpen, prologueClose, inspectorOpen, inspectorClose}

// strip removes blocks injected by an earlier pass, the loaders the prologue
// replaces, and stray reserved markers. It repeats until nothing changes since
// a removal can join two fragments into a new match.
func strip(code string) string {
	for {
		next := stripOnce(code)
		if next == code {
			return code
		}
		code = next
	}
}

func stripOnce(code string) string {
	code = prologueBlock.ReplaceAllString(code, "")
	code = monitorBlock.ReplaceAllString(code, "")
	code = inspectorBlock.ReplaceAllString(code, "")

	code = importMapTag.ReplaceAllString(code, "")
	code = tailwindTag.ReplaceAllString(code, "")

	for _, m := range reservedMarkers {
		code = strings.ReplaceAll(code, m, "")
	}
	return strayMonitorTag.ReplaceAllString(code, "<script>")
}

func injectPrologue(code string) string {
	if loc := headOpen.FindStringIndex(code); loc != nil {
		return code[:loc[1]] + prologue + code[loc[1]:]
	}
	if loc := htmlOpen.FindStringIndex(code); loc != nil {
		return code[:loc[1]] + "<head>" + prologue + "</head>" + code[loc[1]:]
	}
	return "<!DOCTYPE html><html><head>" + prologue + "</head><body>" + code + "</body></html>"
}

func injectMonitor(code string) string {
	return insertBeforeBodyClose(code, healthMonitor)
}

// insertBeforeBodyClose places block before the last closing body tag, or at
// the end of the document when there is none.
func insertBeforeBodyClose(code, block string) string {
	all := bodyClose.FindAllStringIndex(code, -1)
	if len(all) == 0 {
		return code + block
	}
	at := all[len(all)-1][0]
	return code[:at] + block + code[at:]
}

// Stamp tags the health monitor with the render epoch so the host can discard
// signals coming from a context it already replaced.
func Stamp(doc, epoch string) string {
	if epoch == "" {
		return doc
	}
	tag := `<script data-nexus="health-monitor" data-epoch="` + escapeAttr(epoch) + `">`
	return strings.Replace(doc, monitorTag, tag, 1)
}

// Counts reports how many prologues and health monitors doc carries.
func Counts(doc string) (prologues, monitors int) {
	return strings.Count(doc, prologueOpen), len(monitorBlock.FindAllStringIndex(doc, -1))
}

// HasPrologue reports whether doc has been through Sanitize.
func HasPrologue(doc string) bool {
	return strings.Contains(doc, prologueOpen)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")
	return r.Replace(s)
}
