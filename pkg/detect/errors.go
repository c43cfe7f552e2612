package detect

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline stages. Callers match with errors.Is.
var (
	// ErrNotFitted is returned when prediction is attempted before any
	// successful fit. Fatal for that call, recoverable by fitting.
	ErrNotFitted = errors.New("model not fitted")

	// ErrInsufficientData is returned when too few samples are available to
	// fit reliably. The caller must keep the previous model or decline to
	// retrain, never score with an unfit model.
	ErrInsufficientData = errors.New("insufficient training data")
)

// EncodingError reports a malformed or incomplete input record. The record
// is rejected; the batch continues.
type EncodingError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode event %s: field %q %s", e.EventID, e.Field, e.Reason)
}

// AlignmentAmbiguity flags a degenerate assignment cost matrix (e.g. all
// distances identical). Alignment still resolves via deterministic
// tie-break; this is surfaced for logging only, never fatal.
type AlignmentAmbiguity struct {
	Reason string
}

func (e *AlignmentAmbiguity) Error() string {
	return fmt.Sprintf("ambiguous cluster alignment: %s", e.Reason)
}
