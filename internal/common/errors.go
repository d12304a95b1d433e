// Package common holds the error taxonomy and timing helpers shared by the
// pipeline stages.
package common

import (
	"fmt"
)

// InputError reports an unreadable, missing or corrupt input image. It is
// fatal for the run and no partial result is produced.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid input image: %v", e.Err)
	}
	return fmt.Sprintf("invalid input image %s: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// ModelUnavailableError reports model weights that are missing or fail to
// load. Raised when a pipeline is constructed.
type ModelUnavailableError struct {
	Model string
	Path  string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("%s model unavailable at %s: %v", e.Model, e.Path, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// VerifierUnavailableError reports that the external verifier cannot be used
// for this run. Non-fatal: detections stay unverified.
type VerifierUnavailableError struct {
	Reason string
	Err    error
}

func (e *VerifierUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verifier unavailable: %s: %v", e.Reason, e.Err)
	}
	return "verifier unavailable: " + e.Reason
}

func (e *VerifierUnavailableError) Unwrap() error { return e.Err }

// PerDetectionVerificationError reports a failed verifier call for a single
// detection. Non-fatal: only that detection keeps its pre-verification state.
type PerDetectionVerificationError struct {
	Index int
	Code  string
	Err   error
}

func (e *PerDetectionVerificationError) Error() string {
	return fmt.Sprintf("verification of detection %d (%s) failed: %v", e.Index, e.Code, e.Err)
}

func (e *PerDetectionVerificationError) Unwrap() error { return e.Err }

// StageError attaches the failing pipeline stage to an error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
