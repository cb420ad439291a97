package domain

import "errors"

// Pipeline error taxonomy. Stages wrap these with context via fmt.Errorf and
// callers classify with errors.Is.
var (
	// ErrDataUnavailable - required upstream data is missing entirely
	// (no prices, no active model, no feature rows for the required date).
	// Fatal for the stage; no partial writes of its primary output.
	ErrDataUnavailable = errors.New("required data unavailable")

	// ErrInsufficientHistory - data exists but is too short for the
	// computation (indicator warm-up, minimum training samples, fewer than
	// two feature dates for evaluation).
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrInputContractMismatch - the active model's recorded feature columns
	// do not match the current feature schema. Never silently reordered.
	ErrInputContractMismatch = errors.New("model input contract mismatch")
)
