package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("appointment not found")
	ErrOverlap         = errors.New("resident already has an appointment in that time range")
	ErrVersionConflict = errors.New("appointment was modified concurrently")
)

type Repository interface {
	// Create inserts a unless the resident already holds an active
	// appointment overlapping it, in which case ErrOverlap is returned.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes a when its VersionID still matches the stored row.
	Update(ctx context.Context, a *Appointment) error
	ListByResident(ctx context.Context, residentID string, limit, offset int) ([]*Appointment, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
}
