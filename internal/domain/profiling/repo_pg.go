package profiling

import (
	"context"
	"encoding/json"
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

// sessionRepoPG stores the wizard state as a JSONB draft.
type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository { return &sessionRepoPG{pool: pool} }

func (r *sessionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const sessionCols = `id, flow, family_id, created_by, state, last_outcome, version_id, created_at, updated_at`

func (r *sessionRepoPG) scanSession(row pgx.Row) (*Session, error) {
	var (
		s                  Session
		state, lastOutcome []byte
	)
	if err := row.Scan(&s.ID, &s.Flow, &s.FamilyID, &s.CreatedBy, &state, &lastOutcome,
		&s.VersionID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(state, &s.State); err != nil {
		return nil, fmt.Errorf("decode session %s state: %w", s.ID, err)
	}
	if len(lastOutcome) > 0 {
		var o SubmissionOutcome
		if err := json.Unmarshal(lastOutcome, &o); err != nil {
			return nil, fmt.Errorf("decode session %s outcome: %w", s.ID, err)
		}
		s.LastOutcome = &o
	}
	return &s, nil
}

func encodeSession(s *Session) (state, outcome []byte, err error) {
	if state, err = json.Marshal(s.State); err != nil {
		return nil, nil, fmt.Errorf("encode session state: %w", err)
	}
	if s.LastOutcome != nil {
		if outcome, err = json.Marshal(s.LastOutcome); err != nil {
			return nil, nil, fmt.Errorf("encode session outcome: %w", err)
		}
	}
	return state, outcome, nil
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	state, outcome, err := encodeSession(s)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO profiling_session (id, flow, family_id, created_by, state, last_outcome, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,1)
		RETURNING version_id, created_at, updated_at`,
		s.ID, s.Flow, s.FamilyID, s.CreatedBy, state, outcome).
		Scan(&s.VersionID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM profiling_session WHERE id = $1`, id))
}

// Update writes the session if nobody else has since the caller read it.
func (r *sessionRepoPG) Update(ctx context.Context, s *Session) error {
	state, outcome, err := encodeSession(s)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE profiling_session
		SET family_id=$3, state=$4, last_outcome=$5, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		s.ID, s.VersionID, s.FamilyID, state, outcome).
		Scan(&s.VersionID, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gErr := r.GetByID(ctx, s.ID); errors.Is(gErr, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return ErrVersionConflict
	}
	return err
}

func (r *sessionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM profiling_session WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepoPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM profiling_session WHERE created_by = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sessionCols+` FROM profiling_session WHERE created_by = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
