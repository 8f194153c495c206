package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is a follow-up visit booked for a profiled resident.
type Appointment struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	ResidentID         string    `db:"resident_id" json:"resident_id"`
	FamilyID           *string   `db:"family_id" json:"family_id,omitempty"`
	Status             string    `db:"status" json:"status"`
	Reason             string    `db:"reason" json:"reason"`
	StartTime          time.Time `db:"start_time" json:"start_time"`
	EndTime            time.Time `db:"end_time" json:"end_time"`
	Notes              *string   `db:"notes" json:"notes,omitempty"`
	CancellationReason *string   `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedBy          string    `db:"created_by" json:"created_by"`
	VersionID          int       `db:"version_id" json:"version_id"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

const (
	StatusProposed  = "proposed"
	StatusBooked    = "booked"
	StatusArrived   = "arrived"
	StatusFulfilled = "fulfilled"
	StatusCancelled = "cancelled"
	StatusNoShow    = "noshow"
)

// Active reports whether the appointment still holds its time slot.
func (a *Appointment) Active() bool {
	switch a.Status {
	case StatusProposed, StatusBooked, StatusArrived:
		return true
	}
	return false
}

// Overlaps reports whether a and the interval [start, end) intersect.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

func (a *Appointment) clone() *Appointment {
	c := *a
	if a.FamilyID != nil {
		v := *a.FamilyID
		c.FamilyID = &v
	}
	if a.Notes != nil {
		v := *a.Notes
		c.Notes = &v
	}
	if a.CancellationReason != nil {
		v := *a.CancellationReason
		c.CancellationReason = &v
	}
	return &c
}
