// Package detector decides when a statically fetched page is a JavaScript
// shell that has to be rendered in a browser before extraction.
package detector

import (
	"bytes"
	"net/http"
)

// DefaultBodyLengthThreshold is the document size below which script-heavy
// pages are treated as shells.
const DefaultBodyLengthThreshold = 2048

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldRender reports whether body, served with status, needs a browser render.
func (h *Heuristic) ShouldRender(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
	)
	coverage := 0
	pos := 0
	for {
		rel := bytes.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := bytes.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag: the rest of the document is script.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if end := bytes.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}

	return coverage > 0 && coverage*100/total >= 25
}
