package profiling

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chis/chis/internal/backend"
	"github.com/chis/chis/internal/platform/auth"
	"github.com/chis/chis/internal/platform/metrics"
	"github.com/chis/chis/internal/platform/refcache"
)

// Registrar persists a new family once the registration flow leaves the
// dependents step: the family record first, then one composition row per
// parent and dependent.
type Registrar struct {
	writer  backend.Writer
	cache   Invalidator
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewRegistrar(w backend.Writer, cache Invalidator, logger zerolog.Logger, m *metrics.Metrics) *Registrar {
	return &Registrar{
		writer:  w,
		cache:   cache,
		logger:  logger.With().Str("component", "registrar").Logger(),
		metrics: m,
	}
}

// BeforeAdvance is the navigator hook. It only acts when a registration
// session leaves the dependents step.
func (r *Registrar) BeforeAdvance(ctx context.Context, f *Form, from int) error {
	if f.Flow() != FlowRegistration || from != StepDependents {
		return nil
	}
	return r.Register(ctx, f)
}

// Register creates the family and its composition. Steps already accepted by
// an earlier attempt are not repeated, so a retry only re-sends the rows that
// failed.
func (r *Registrar) Register(ctx context.Context, f *Form) error {
	st := f.Snapshot()
	if len(st.Dependents.List) == 0 {
		return ErrNoDependents
	}

	if !st.Committed.Family {
		d := backend.FamilyDemographics{
			HouseholdID: st.HouseholdID(),
			SitioID:     st.DemographicInfo["sitioId"],
			Income:      st.DemographicInfo["income"],
			Religion:    st.DemographicInfo["religion"],
			Ethnicity:   st.DemographicInfo["ethnicity"],
			CreatedBy:   auth.UserIDFromContext(ctx),
		}
		start := time.Now()
		rec, err := r.writer.CreateFamily(ctx, d)
		r.metrics.ObserveWrite(CategoryFamily, err == nil, time.Since(start))
		if err != nil {
			r.logger.Warn().Err(err).Str("household_id", d.HouseholdID).Msg("create family failed")
			return &WriteError{Category: CategoryFamily, Err: err}
		}
		f.recordFamily(rec.ID)
		r.invalidate(ctx, refcache.KeyHouseholds)
		r.logger.Info().Str("family_id", rec.ID).Str("household_id", d.HouseholdID).Msg("family created")
		st = f.Snapshot()
	}

	entries := compositionEntries(st)
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()
	results, err := r.writer.CreateFamilyComposition(ctx, st.FamilyID, entries)
	r.metrics.ObserveWrite(CategoryComposition, err == nil, time.Since(start))

	var firstFailed *backend.CompositionResult
	for i := range results {
		res := results[i]
		if res.OK {
			f.recordComposed(compositionKey(res.Role, res.ResidentID))
			continue
		}
		if firstFailed == nil {
			firstFailed = &res
		}
	}
	if len(results) > 0 {
		r.invalidate(ctx, refcache.FamilyMembersKey(st.FamilyID), refcache.FamilyRecordKey(st.FamilyID))
	}

	switch {
	case firstFailed != nil:
		r.logger.Warn().Str("family_id", st.FamilyID).Str("resident_id", firstFailed.ResidentID).
			Str("role", firstFailed.Role).Msg("family composition row rejected")
		return &WriteError{
			Category:   CategoryComposition,
			ResidentID: firstFailed.ResidentID,
			Err:        fmt.Errorf("%s row rejected: %s", firstFailed.Role, firstFailed.Error),
		}
	case err != nil:
		return &WriteError{Category: CategoryComposition, Err: err}
	}
	return nil
}

func (r *Registrar) invalidate(ctx context.Context, keys ...string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, keys...); err != nil {
		r.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}

// compositionEntries lists the rows not yet accepted: mother, father, then
// dependents in list order.
func compositionEntries(st WizardState) []backend.CompositionEntry {
	var out []backend.CompositionEntry
	add := func(role, id string) {
		if id == "" || st.Committed.composed(compositionKey(role, id)) {
			return
		}
		out = append(out, backend.CompositionEntry{ResidentID: id, Role: role})
	}
	add(backend.RoleMother, st.MotherInfo["residentId"])
	add(backend.RoleFather, st.FatherInfo["residentId"])
	for _, d := range st.Dependents.List {
		add(backend.RoleDependent, d.ID)
	}
	return out
}
