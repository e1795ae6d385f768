package domain

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Contract violations and missing mandatory
// input surface immediately; transient conditions retry inside the
// stage that hit them.
var (
	// ErrInsufficientContext means the customer profile is missing
	// fields the feature extractor requires. Fatal to the transaction.
	ErrInsufficientContext = errors.New("insufficient customer context")

	// ErrMissingRationale means the classification capability returned
	// a non-trivial label without an explanation. Fatal; the capability
	// violated its contract.
	ErrMissingRationale = errors.New("classification rationale missing")

	// ErrInvalidLabel means the classification capability returned a
	// label outside the allowed set. Fatal contract violation.
	ErrInvalidLabel = errors.New("invalid classification label")

	// ErrClassificationTimeout means the capability did not answer in
	// time after bounded retries. The alert is stalled, not defaulted.
	ErrClassificationTimeout = errors.New("classification timed out")

	// ErrSourceUnavailable means an evidence lookup failed. Retried a
	// bounded number of times, then degraded to an evidence gap.
	ErrSourceUnavailable = errors.New("evidence source unavailable")

	// ErrCaseNotFound is returned for unknown case ids.
	ErrCaseNotFound = errors.New("case not found")

	// ErrCaseNotOpen is returned when a disposition is attached to a
	// case that already has one.
	ErrCaseNotOpen = errors.New("case is not open")
)

// StageError annotates a pipeline failure with enough context to
// reproduce it: transaction id, stage name, underlying condition.
type StageError struct {
	Stage string
	TxID  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: tx %s: %v", e.Stage, e.TxID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with stage and transaction context.
func NewStageError(stage, txID string, err error) *StageError {
	return &StageError{Stage: stage, TxID: txID, Err: err}
}
