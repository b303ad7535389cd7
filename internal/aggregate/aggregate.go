// Package aggregate folds progress events into a batch summary.
package aggregate

import (
	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/normalize"
)

// Aggregator accumulates a BatchSummary. The zero value is ready to use; it is
// not safe for concurrent use.
type Aggregator struct {
	rejected  []importer.FailureEntry
	failures  []importer.FailureEntry
	succeeded int
	total     int
}

// AddRejected records inputs refused before scheduling. They count as failed
// with reason InvalidUrl and are listed ahead of stream failures.
func (a *Aggregator) AddRejected(rejections ...normalize.Rejection) {
	for _, r := range rejections {
		a.total++
		a.rejected = append(a.rejected, importer.FailureEntry{
			URL:     r.Input,
			Reason:  importer.KindInvalidURL,
			Message: r.Message,
		})
	}
}

// Add folds one stream event.
func (a *Aggregator) Add(evt importer.ProgressEvent) {
	a.total++
	if evt.Status == importer.StatusSuccess {
		a.succeeded++
		return
	}
	reason := evt.Reason
	if reason == "" {
		reason = importer.KindProviderError
	}
	a.failures = append(a.failures, importer.FailureEntry{
		URL:     evt.URL,
		Reason:  reason,
		Message: evt.Message,
	})
}

// Summary returns the summary of everything added so far.
func (a *Aggregator) Summary() importer.BatchSummary {
	failures := make([]importer.FailureEntry, 0, len(a.rejected)+len(a.failures))
	failures = append(failures, a.rejected...)
	failures = append(failures, a.failures...)
	return importer.BatchSummary{
		Total:     a.total,
		Succeeded: a.succeeded,
		Failed:    len(failures),
		Failures:  failures,
	}
}

// Fold summarizes a finished batch in one call.
func Fold(rejected []normalize.Rejection, events []importer.ProgressEvent) importer.BatchSummary {
	var a Aggregator
	a.AddRejected(rejected...)
	for _, evt := range events {
		a.Add(evt)
	}
	return a.Summary()
}
