package profiling

import (
	"time"

	"github.com/google/uuid"
)

// Session is a persisted wizard instance, resumable until it is submitted
// or discarded.
type Session struct {
	ID          uuid.UUID          `db:"id" json:"id"`
	Flow        Flow               `db:"flow" json:"flow"`
	FamilyID    string             `db:"family_id" json:"family_id,omitempty"`
	CreatedBy   string             `db:"created_by" json:"created_by"`
	State       WizardState        `db:"state" json:"state"`
	LastOutcome *SubmissionOutcome `db:"last_outcome" json:"last_outcome,omitempty"`
	VersionID   int                `db:"version_id" json:"version_id"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}

func (s *Session) clone() *Session {
	out := *s
	out.State = s.State.Clone()
	return &out
}

// SessionView is the API representation of a session: the session plus the
// registry entries of its flow and the derived progress.
type SessionView struct {
	*Session
	Steps             []Step `json:"steps"`
	Step              Step   `json:"step"`
	Progress          int    `json:"progress"`
	HasUnsavedChanges bool   `json:"has_unsaved_changes"`
}

func viewOf(s *Session) *SessionView {
	step, _ := StepByNumber(s.State.CurrentStep)
	return &SessionView{
		Session:           s,
		Steps:             s.Flow.Steps(),
		Step:              step,
		Progress:          ProgressForStep(s.State.CurrentStep),
		HasUnsavedChanges: s.State.HasUnsavedChanges,
	}
}
