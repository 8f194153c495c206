package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chis/chis/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &appointmentRepoPG{pool: pool} }

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, resident_id, family_id, status, reason, start_time, end_time,
	notes, cancellation_reason, created_by, version_id, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ResidentID, &a.FamilyID, &a.Status, &a.Reason, &a.StartTime, &a.EndTime,
		&a.Notes, &a.CancellationReason, &a.CreatedBy, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create serializes bookings per resident with a transaction-scoped advisory
// lock so the overlap check and the insert see the same rows.
func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		c := r.conn(ctx)
		if _, err := c.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.ResidentID); err != nil {
			return fmt.Errorf("lock resident %s: %w", a.ResidentID, err)
		}
		var clash bool
		if err := c.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointment
				WHERE resident_id = $1 AND status IN ('proposed','booked','arrived')
				  AND start_time < $3 AND end_time > $2)`,
			a.ResidentID, a.StartTime, a.EndTime).Scan(&clash); err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if clash {
			return ErrOverlap
		}
		return c.QueryRow(ctx, `
			INSERT INTO appointment (id, resident_id, family_id, status, reason, start_time, end_time,
				notes, cancellation_reason, created_by, version_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)
			RETURNING version_id, created_at, updated_at`,
			a.ID, a.ResidentID, a.FamilyID, a.Status, a.Reason, a.StartTime, a.EndTime,
			a.Notes, a.CancellationReason, a.CreatedBy).
			Scan(&a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	})
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status=$3, reason=$4, start_time=$5, end_time=$6, notes=$7,
			cancellation_reason=$8, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		a.ID, a.VersionID, a.Status, a.Reason, a.StartTime, a.EndTime, a.Notes, a.CancellationReason).
		Scan(&a.VersionID, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gErr := r.GetByID(ctx, a.ID); errors.Is(gErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return err
}

func (r *appointmentRepoPG) ListByResident(ctx context.Context, residentID string, limit, offset int) ([]*Appointment, int, error) {
	return r.Search(ctx, map[string]string{"resident": residentID}, limit, offset)
}

func (r *appointmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + apptCols + ` FROM appointment WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM appointment WHERE 1=1`
	var args []interface{}
	idx := 1

	filters := []struct{ param, clause string }{
		{"resident", "resident_id = $%d"},
		{"family", "family_id = $%d"},
		{"status", "status = $%d"},
		{"date", "start_time::date = $%d"},
	}
	for _, f := range filters {
		p, ok := params[f.param]
		if !ok {
			continue
		}
		clause := fmt.Sprintf(` AND `+f.clause, idx)
		query += clause
		countQuery += clause
		args = append(args, p)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY start_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
