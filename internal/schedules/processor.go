// Package schedules runs the periodic batch processors: payout
// disbursement, deadline closure, stuck-job detection, and artifact
// cleanup. Each processor scans for due work and handles items
// independently, so one bad row never blocks the rest of the batch.
package schedules

import "context"

// MaxReportErrors bounds the error sample carried in a DueReport
const MaxReportErrors = 25

// ItemError records one failed item within a batch run
type ItemError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// DueReport summarizes one processor run
type DueReport struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// recordError counts a failure and keeps a bounded sample of messages
func (r *DueReport) recordError(id, message string) {
	r.Failed++
	if len(r.Errors) < MaxReportErrors {
		r.Errors = append(r.Errors, ItemError{ID: id, Message: message})
	}
}

// Processor is one periodic batch task. ProcessDue must be idempotent:
// overlapping or repeated runs over the same due set do each item's side
// effect at most once.
type Processor interface {
	Name() string
	ProcessDue(ctx context.Context) (*DueReport, error)
}
