package profiling

import (
	"errors"
	"fmt"

	"github.com/chis/chis/internal/backend"
)

var (
	ErrSessionNotFound     = errors.New("profiling session not found")
	ErrUnknownPath         = errors.New("unknown form path")
	ErrFieldNotApplicable  = errors.New("field does not apply to the resident's age band")
	ErrNoResidentSelected  = errors.New("no resident selected")
	ErrDuplicateDependent  = errors.New("resident is already a dependent")
	ErrRecordNotFound      = errors.New("record not found")
	ErrResidentNotFound    = errors.New("resident not found")
	ErrNoNextStep          = errors.New("already on the last step")
	ErrNoPreviousStep      = errors.New("already on the first step")
	ErrNotOnFinalStep      = errors.New("submission is only available from the last step")
	ErrNothingSubmitted    = errors.New("nothing was submitted")
	ErrUnsavedChanges      = errors.New("session has unsaved changes")
	ErrFamilyRequired      = errors.New("family_id is required for a continuation session")
	ErrFamilyNotRegistered = errors.New("family has not been registered yet")
	ErrNoDependents        = errors.New("must have at least one dependent")
)

// WriteError identifies the single backend write that failed in a
// submission or registration pass.
type WriteError struct {
	Category   string
	RecordID   string
	ResidentID string
	Err        error
}

func (e *WriteError) Error() string {
	if e.ResidentID != "" {
		return fmt.Sprintf("%s write for resident %s failed: %v", e.Category, e.ResidentID, e.Err)
	}
	return fmt.Sprintf("%s write failed: %v", e.Category, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Retryable reports whether the failure came from an unavailable backend
// rather than a rejected payload.
func (e *WriteError) Retryable() bool {
	return errors.Is(e.Err, backend.ErrUnavailable)
}

// SubmissionBlockedError is returned when final validation fails.
type SubmissionBlockedError struct {
	Result FullValidationResult
}

func (e *SubmissionBlockedError) Error() string {
	return fmt.Sprintf("submission blocked by %d validation error(s)", len(e.Result.Errors()))
}
