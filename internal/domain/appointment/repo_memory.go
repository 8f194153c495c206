package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepo keeps appointments in process. Used when no DATABASE_URL is set.
type memoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Appointment
}

func NewMemoryRepo() Repository {
	return &memoryRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (r *memoryRepo) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.items {
		if cur.ResidentID == a.ResidentID && cur.Active() && cur.Overlaps(a.StartTime, a.EndTime) {
			return ErrOverlap
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	a.VersionID = 1
	r.items[a.ID] = a.clone()
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (r *memoryRepo) Update(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.VersionID != a.VersionID {
		return ErrVersionConflict
	}
	a.VersionID++
	a.UpdatedAt = time.Now().UTC()
	r.items[a.ID] = a.clone()
	return nil
}

func (r *memoryRepo) ListByResident(ctx context.Context, residentID string, limit, offset int) ([]*Appointment, int, error) {
	return r.Search(ctx, map[string]string{"resident": residentID}, limit, offset)
}

func (r *memoryRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	r.mu.RLock()
	var matched []*Appointment
	for _, a := range r.items {
		if matches(a, params) {
			matched = append(matched, a.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].StartTime.After(matched[j].StartTime) })
	total := len(matched)
	if offset >= total {
		return []*Appointment{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func matches(a *Appointment, params map[string]string) bool {
	if v, ok := params["resident"]; ok && a.ResidentID != v {
		return false
	}
	if v, ok := params["family"]; ok && (a.FamilyID == nil || *a.FamilyID != v) {
		return false
	}
	if v, ok := params["status"]; ok && a.Status != v {
		return false
	}
	if v, ok := params["date"]; ok && a.StartTime.UTC().Format("2006-01-02") != v {
		return false
	}
	return true
}
