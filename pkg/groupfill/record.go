package groupfill

import "github.com/kfarrell/groupfill/pkg/groupfill/source"

// Record is the input tuple produced by sources. See source.Record.
type Record = source.Record

// WorkItem is a Record selected for update, plus its computed target value.
// The processor owns the lifetime: created when a record passes pre-checks,
// destroyed once its Outcome is terminal.
type WorkItem struct {
	Record Record

	// Target is the value to write to the missing field.
	Target string

	// Attempts is filled in by the retry executor.
	Attempts int
}

// OutcomeKind classifies a terminal item outcome.
type OutcomeKind int

const (
	// Success means the remote field was updated and verified.
	Success OutcomeKind = iota

	// Skipped means the record was excluded before any remote call.
	Skipped

	// Failed means the update could not be completed.
	Failed
)

// String returns the outcome kind name.
func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result for one record. Immutable once recorded.
type Outcome struct {
	RecordID string
	Kind     OutcomeKind

	// Reason is set for Skipped outcomes.
	Reason string

	// Err is set for Failed outcomes.
	Err error

	// Attempts is the number of remote attempts made.
	Attempts int
}

// Succeed builds a Success outcome.
func Succeed(recordID string, attempts int) Outcome {
	return Outcome{RecordID: recordID, Kind: Success, Attempts: attempts}
}

// Skip builds a Skipped outcome.
func Skip(recordID, reason string) Outcome {
	return Outcome{RecordID: recordID, Kind: Skipped, Reason: reason}
}

// Fail builds a Failed outcome.
func Fail(recordID string, err error, attempts int) Outcome {
	return Outcome{RecordID: recordID, Kind: Failed, Err: err, Attempts: attempts}
}
