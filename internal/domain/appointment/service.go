package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chis/chis/internal/backend"
	"github.com/chis/chis/internal/platform/auth"
	"github.com/chis/chis/internal/platform/metrics"
)

var (
	ErrInvalid           = errors.New("invalid appointment")
	ErrInvalidTransition = errors.New("status change not allowed")
	ErrUnknownResident   = errors.New("resident not found")
)

// DefaultVisitDuration is used when a booking has no end time.
const DefaultVisitDuration = 30 * time.Minute

var validAppointmentStatuses = map[string]bool{
	StatusProposed: true, StatusBooked: true, StatusArrived: true,
	StatusFulfilled: true, StatusCancelled: true, StatusNoShow: true,
}

// transitions lists the statuses reachable from each status. Fulfilled,
// cancelled and noshow are terminal.
var transitions = map[string][]string{
	StatusProposed: {StatusBooked, StatusCancelled},
	StatusBooked:   {StatusArrived, StatusCancelled, StatusNoShow},
	StatusArrived:  {StatusFulfilled, StatusCancelled},
}

// CanTransition reports whether an appointment in from may move to to.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Service struct {
	appointments Repository
	residents    backend.Reader
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

// NewService wires the repository with the reader used to confirm that a
// resident exists before booking. Pass the cached catalog, not the raw client.
func NewService(repo Repository, residents backend.Reader, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		appointments: repo,
		residents:    residents,
		logger:       logger.With().Str("component", "appointment").Logger(),
		metrics:      m,
	}
}

func (s *Service) Book(ctx context.Context, a *Appointment) error {
	a.ResidentID = strings.TrimSpace(a.ResidentID)
	if a.ResidentID == "" {
		return fmt.Errorf("%w: resident_id is required", ErrInvalid)
	}
	if a.StartTime.IsZero() {
		return fmt.Errorf("%w: start_time is required", ErrInvalid)
	}
	if a.EndTime.IsZero() {
		a.EndTime = a.StartTime.Add(DefaultVisitDuration)
	}
	if !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalid)
	}
	if strings.TrimSpace(a.Reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalid)
	}
	if a.Status == "" {
		a.Status = StatusProposed
	}
	if a.Status != StatusProposed && a.Status != StatusBooked {
		return fmt.Errorf("%w: new appointments must be proposed or booked, got %s", ErrInvalid, a.Status)
	}
	if err := s.checkResident(ctx, a.ResidentID); err != nil {
		return err
	}
	a.CancellationReason = nil
	a.CreatedBy = auth.UserIDFromContext(ctx)

	if err := s.appointments.Create(ctx, a); err != nil {
		if errors.Is(err, ErrOverlap) {
			return err
		}
		return fmt.Errorf("create appointment: %w", err)
	}
	s.metrics.ObserveAppointment(a.Status)
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("resident_id", a.ResidentID).
		Time("start_time", a.StartTime).Msg("appointment booked")
	return nil
}

func (s *Service) checkResident(ctx context.Context, residentID string) error {
	residents, err := s.residents.FetchResidents(ctx)
	if err != nil {
		return fmt.Errorf("load residents: %w", err)
	}
	for _, r := range residents {
		if r.ID == residentID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownResident, residentID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListByResident(ctx context.Context, residentID string, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByResident(ctx, residentID, limit, offset)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	if st, ok := params["status"]; ok && !validAppointmentStatuses[st] {
		return nil, 0, fmt.Errorf("%w: unknown status %s", ErrInvalid, st)
	}
	return s.appointments.Search(ctx, params, limit, offset)
}

// UpdateStatus moves the appointment along the status graph. versionID, when
// non-zero, must match the stored version.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string, versionID int) (*Appointment, error) {
	if !validAppointmentStatuses[status] {
		return nil, fmt.Errorf("%w: unknown status %s", ErrInvalid, status)
	}
	return s.transition(ctx, id, status, versionID, func(*Appointment) {})
}

// Cancel is UpdateStatus to cancelled with a recorded reason.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, versionID int) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", ErrInvalid)
	}
	return s.transition(ctx, id, StatusCancelled, versionID, func(a *Appointment) {
		a.CancellationReason = &reason
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to string, versionID int, apply func(*Appointment)) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if versionID != 0 && versionID != a.VersionID {
		return nil, ErrVersionConflict
	}
	if !CanTransition(a.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	from := a.Status
	a.Status = to
	apply(a)
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	s.metrics.ObserveAppointment(to)
	s.logger.Info().Str("appointment_id", id.String()).Str("from", from).Str("to", to).
		Msg("appointment status changed")
	return a, nil
}
