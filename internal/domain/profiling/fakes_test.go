package profiling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chis/chis/internal/backend"
	"github.com/chis/chis/internal/platform/refcache"
)

var testNow = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

var errBackendDown = errors.New("backend rejected the request")

type conditionCall struct {
	Category backend.Category
	Payload  backend.ConditionPayload
}

// fakeBackend is an in-memory stand-in for the cached reader, the writer and
// the cache invalidator.
type fakeBackend struct {
	mu sync.Mutex

	households []backend.Household
	residents  []backend.Resident
	sitios     []backend.Sitio
	families   map[string]backend.FamilyRecord
	members    map[string][]backend.FamilyMember

	failResidents error
	failFamily    error

	envCalls        []backend.EnvironmentalPayload
	conditionCalls  []conditionCall
	surveyCalls     []backend.SurveyPayload
	failEnv         error
	afterEnv        func() // runs once the environmental write is accepted
	failCondition   map[string]error // by resident id
	failSurvey      error
	familyCalls     []backend.FamilyDemographics
	failCreate      error
	compositionRuns [][]backend.CompositionEntry
	failComposition map[string]bool // by resident id
	invalidated     []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		households: []backend.Household{
			{ID: "H-1", HouseholdNumber: "001", SitioID: "S-1"},
			{ID: "H-2", HouseholdNumber: "002", SitioID: "S-2"},
		},
		residents: []backend.Resident{
			{ID: "R-1", LastName: "Santos", FirstName: "Maria", Sex: "F", DateOfBirth: "1990-03-02", HouseholdID: "H-1"},
			{ID: "R-2", LastName: "Santos", FirstName: "Jose", Sex: "M", DateOfBirth: "1988-11-20", HouseholdID: "H-1"},
			{ID: "R-3", LastName: "Santos", FirstName: "Ana", Sex: "F", DateOfBirth: "2023-01-10", HouseholdID: "H-1"},
			{ID: "R-4", LastName: "Santos", FirstName: "Paolo", Sex: "M", DateOfBirth: "2015-07-04", HouseholdID: "H-1"},
		},
		sitios:          []backend.Sitio{{ID: "S-1", Name: "Riverside"}, {ID: "S-2", Name: "Hilltop"}},
		families:        map[string]backend.FamilyRecord{},
		members:         map[string][]backend.FamilyMember{},
		failCondition:   map[string]error{},
		failComposition: map[string]bool{},
	}
}

func (f *fakeBackend) FetchHouseholds(context.Context) ([]backend.Household, error) {
	return f.households, nil
}

func (f *fakeBackend) FetchResidents(context.Context) ([]backend.Resident, error) {
	if f.failResidents != nil {
		return nil, f.failResidents
	}
	return f.residents, nil
}

func (f *fakeBackend) FetchSitios(context.Context) ([]backend.Sitio, error) { return f.sitios, nil }

func (f *fakeBackend) FetchFamilyMembers(_ context.Context, familyID string) ([]backend.FamilyMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[familyID], nil
}

func (f *fakeBackend) FetchFamilyRecord(_ context.Context, familyID string) (backend.FamilyRecord, error) {
	if f.failFamily != nil {
		return backend.FamilyRecord{}, f.failFamily
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.families[familyID]
	if !ok {
		return backend.FamilyRecord{}, backend.ErrNotFound
	}
	return rec, nil
}

func (f *fakeBackend) Load(ctx context.Context) refcache.ReferenceData {
	data := refcache.ReferenceData{Households: f.households, Sitios: f.sitios, Residents: []backend.Resident{}}
	if rs, err := f.FetchResidents(ctx); err != nil {
		data.Errors = map[string]string{refcache.KeyResidents: err.Error()}
	} else {
		data.Residents = rs
	}
	return data
}

// Writes behave like the HTTP client: a request issued on a cancelled
// context fails even when the server already acted on it.
func (f *fakeBackend) SubmitEnvironmental(ctx context.Context, p backend.EnvironmentalPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.envCalls = append(f.envCalls, p)
	if f.afterEnv != nil {
		f.afterEnv()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.failEnv
}

func (f *fakeBackend) SubmitConditionRecord(ctx context.Context, c backend.Category, p backend.ConditionPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.conditionCalls = append(f.conditionCalls, conditionCall{Category: c, Payload: p})
	return f.failCondition[p.ResidentID]
}

func (f *fakeBackend) SubmitSurveyIdentification(ctx context.Context, p backend.SurveyPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.surveyCalls = append(f.surveyCalls, p)
	return f.failSurvey
}

func (f *fakeBackend) CreateFamily(ctx context.Context, d backend.FamilyDemographics) (backend.FamilyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return backend.FamilyRecord{}, err
	}
	f.familyCalls = append(f.familyCalls, d)
	if f.failCreate != nil {
		return backend.FamilyRecord{}, f.failCreate
	}
	rec := backend.FamilyRecord{ID: "F-100", HouseholdID: d.HouseholdID}
	f.families[rec.ID] = rec
	return rec, nil
}

func (f *fakeBackend) CreateFamilyComposition(_ context.Context, familyID string, entries []backend.CompositionEntry) ([]backend.CompositionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compositionRuns = append(f.compositionRuns, entries)
	var results []backend.CompositionResult
	var failed bool
	for _, e := range entries {
		r := backend.CompositionResult{ResidentID: e.ResidentID, Role: e.Role, OK: !f.failComposition[e.ResidentID]}
		if !r.OK {
			r.Error = "duplicate membership"
			failed = true
		}
		results = append(results, r)
	}
	if failed {
		return results, errors.New("composition rows failed")
	}
	return results, nil
}

func (f *fakeBackend) Invalidate(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, keys...)
	return nil
}

func (f *fakeBackend) wasInvalidated(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.invalidated {
		if k == key {
			return true
		}
	}
	return false
}

// validEnvironmental fills the environmental form with acceptable values.
func validEnvironmental(f *Form) {
	f.Set("environmentalForm.waterSupply", "level-3")
	f.Set("environmentalForm.facilityType", "flush")
	f.Set("environmentalForm.wasteManagement", "collected")
}

func validSurvey(f *Form) {
	f.Set("surveyInfo.informant", "Maria Santos")
	f.Set("surveyInfo.checkedBy", "BHW Reyes")
	f.Set("surveyInfo.date", "2026-06-15")
}

// pickCondition selects a resident into a condition slot and fills one field
// of the resident's band.
func pickCondition(t interface{ Fatalf(string, ...interface{}) }, f *Form, cat backend.Category, r backend.Resident, field, value string) ConditionRecord {
	target := pathNCDSlot
	if cat == backend.CategoryTB {
		target = pathTBSlot
	}
	if err := f.PickResident(target, r.ID, personalFromResident(r)); err != nil {
		t.Fatalf("pick %s: %v", r.ID, err)
	}
	if err := f.Set(target+".conditions."+field, value); err != nil {
		t.Fatalf("set %s: %v", field, err)
	}
	rec, err := f.AddCondition(cat)
	if err != nil {
		t.Fatalf("add condition: %v", err)
	}
	return rec
}
