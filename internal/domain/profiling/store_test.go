package profiling

import (
	"errors"
	"testing"

	"github.com/chis/chis/internal/backend"
)

func TestForm_SetMarksDirtyAndTouched(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	if f.HasUnsavedChanges() {
		t.Fatal("new form should be clean")
	}
	if err := f.Set("environmentalForm.waterSupply", "level-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := f.Get("environmentalForm.waterSupply")
	if err != nil || v != "level-2" {
		t.Errorf("expected level-2, got %q (%v)", v, err)
	}
	if !f.HasUnsavedChanges() {
		t.Error("expected form to be dirty after a user write")
	}
	if !f.Snapshot().Touched["environmentalForm.waterSupply"] {
		t.Error("expected path to be touched")
	}
}

func TestForm_UnknownPath(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	for _, p := range []string{
		"environmentalForm.colour",
		"nope.field",
		"ncdRecords.list.residentId",
		"ncdRecords.new.conditions.coughTwoWeeks",
		"dependentsInfo.new.conditions.x",
		"surveyInfo",
	} {
		if err := f.Set(p, "x"); !errors.Is(err, ErrUnknownPath) {
			t.Errorf("%s: expected ErrUnknownPath, got %v", p, err)
		}
	}
	if f.HasUnsavedChanges() {
		t.Error("rejected writes must not dirty the form")
	}
}

func TestForm_PrepopulateIsOneShot(t *testing.T) {
	f := NewForm(FlowContinuation, fixedClock)
	ran := f.Prepopulate(func(s *WizardState) {
		s.DemographicInfo["householdId"] = "H-1"
	})
	if !ran {
		t.Fatal("expected first prepopulation to run")
	}
	if f.HasUnsavedChanges() {
		t.Error("server population must not dirty the form")
	}
	again := f.Prepopulate(func(s *WizardState) {
		s.DemographicInfo["householdId"] = "H-2"
	})
	if again {
		t.Error("expected second prepopulation to be ignored")
	}
	if v, _ := f.Get("demographicInfo.householdId"); v != "H-1" {
		t.Errorf("expected H-1, got %s", v)
	}
}

func TestForm_SetDefaultNeverOverwritesTouched(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	if !f.SetDefault("demographicInfo.sitioId", "S-1") {
		t.Fatal("expected default to be written into an untouched path")
	}
	if f.HasUnsavedChanges() {
		t.Error("defaults must not dirty the form")
	}
	f.Set("demographicInfo.sitioId", "S-9")
	if f.SetDefault("demographicInfo.sitioId", "S-2") {
		t.Error("default must not overwrite a touched path")
	}
	if v, _ := f.Get("demographicInfo.sitioId"); v != "S-9" {
		t.Errorf("expected S-9, got %s", v)
	}
}

func TestForm_AddDependent_EmptySelectionRejected(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	f.Set("dependentsInfo.new.lastName", "Santos")
	if _, err := f.AddDependent(); !errors.Is(err, ErrNoResidentSelected) {
		t.Fatalf("expected ErrNoResidentSelected, got %v", err)
	}
	if n := len(f.Snapshot().Dependents.List); n != 0 {
		t.Errorf("expected empty list, got %d", n)
	}
}

func TestForm_AddDependent_AppendsAndResetsSlot(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	f.PickResident(pathDependentSlot, "R-3", PersonalInfo{LastName: "Santos", FirstName: "Ana"})
	rec, err := f.AddDependent()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "R-3" {
		t.Errorf("expected R-3, got %s", rec.ID)
	}
	s := f.Snapshot()
	if len(s.Dependents.List) != 1 {
		t.Fatalf("expected 1 dependent, got %d", len(s.Dependents.List))
	}
	if s.Dependents.New != (DependentRecord{}) {
		t.Errorf("expected slot to be reset, got %+v", s.Dependents.New)
	}
	if s.Touched["dependentsInfo.new.residentId"] {
		t.Error("expected slot paths to be untouched after reset")
	}
}

func TestForm_AddDependent_Duplicate(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	f.Set("dependentsInfo.new.residentId", "R-3")
	f.AddDependent()
	f.Set("dependentsInfo.new.residentId", "R-3")
	if _, err := f.AddDependent(); !errors.Is(err, ErrDuplicateDependent) {
		t.Fatalf("expected ErrDuplicateDependent, got %v", err)
	}
	if n := len(f.Snapshot().Dependents.List); n != 1 {
		t.Errorf("expected 1 dependent, got %d", n)
	}
}

func TestForm_RemoveDependent_KeepsOrder(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	for _, id := range []string{"R-1", "R-2", "R-3", "R-4"} {
		f.Set("dependentsInfo.new.residentId", id)
		if _, err := f.AddDependent(); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if err := f.RemoveDependent("R-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := f.Snapshot().DependentIDs()
	want := []string{"R-1", "R-3", "R-4"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if err := f.RemoveDependent("R-9"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestForm_AddCondition(t *testing.T) {
	f := NewForm(FlowContinuation, fixedClock)
	if _, err := f.AddCondition(backend.CategoryNCD); !errors.Is(err, ErrNoResidentSelected) {
		t.Fatalf("expected ErrNoResidentSelected, got %v", err)
	}

	f.Set("ncdRecords.new.residentId", "R-1")
	f.Set("ncdRecords.new.dateOfBirth", "1990-03-02")
	f.Set("ncdRecords.new.conditions.hypertension", "yes")
	rec, err := f.AddCondition(backend.CategoryNCD)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected record id to be assigned")
	}
	s := f.Snapshot()
	if len(s.NCDRecords.List) != 1 || s.NCDRecords.List[0].Conditions["hypertension"] != "yes" {
		t.Errorf("unexpected list: %+v", s.NCDRecords.List)
	}
	if s.NCDRecords.New.ResidentID != "" || len(s.NCDRecords.New.Conditions) != 0 {
		t.Errorf("expected slot reset, got %+v", s.NCDRecords.New)
	}
	if len(s.TBRecords.List) != 0 {
		t.Error("TB list must be unaffected")
	}
}

func TestForm_RemoveCondition_ExactlyOne(t *testing.T) {
	f := NewForm(FlowContinuation, fixedClock)
	var ids []string
	for _, r := range []string{"R-1", "R-2", "R-1"} {
		f.Set("tbRecords.new.residentId", r)
		rec, _ := f.AddCondition(backend.CategoryTB)
		ids = append(ids, rec.ID)
	}
	if err := f.RemoveCondition(backend.CategoryTB, ids[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list := f.Snapshot().TBRecords.List
	if len(list) != 2 || list[0].ID != ids[1] || list[1].ID != ids[2] {
		t.Errorf("unexpected remaining records: %+v", list)
	}
}

func TestForm_AgeBandChangeClearsOtherBand(t *testing.T) {
	f := NewForm(FlowContinuation, fixedClock)
	f.Set("ncdRecords.new.residentId", "R-3")
	f.Set("ncdRecords.new.dateOfBirth", "2023-01-10")
	if err := f.Set("ncdRecords.new.conditions.lowBirthWeight", "yes"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Set("ncdRecords.new.conditions.malnutrition", "no"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Still under six: nothing is cleared.
	f.Set("ncdRecords.new.dateOfBirth", "2022-05-01")
	conds := f.Snapshot().NCDRecords.New.Conditions
	if conds["lowBirthWeight"] != "yes" || conds["malnutrition"] != "no" {
		t.Errorf("applicable fields must stay, got %v", conds)
	}

	// Crossing into 6+ clears the 0-5 fields.
	f.Set("ncdRecords.new.dateOfBirth", "2010-05-01")
	if conds := f.Snapshot().NCDRecords.New.Conditions; len(conds) != 0 {
		t.Errorf("expected 0-5 fields cleared, got %v", conds)
	}
	if err := f.Set("ncdRecords.new.conditions.hypertension", "yes"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// And back.
	f.Set("ncdRecords.new.dateOfBirth", "2024-02-02")
	if conds := f.Snapshot().NCDRecords.New.Conditions; len(conds) != 0 {
		t.Errorf("expected 6+ fields cleared, got %v", conds)
	}
}

func TestForm_ConditionFieldOutsideBandRejected(t *testing.T) {
	f := NewForm(FlowContinuation, fixedClock)
	f.Set("tbRecords.new.dateOfBirth", "1980-01-01")
	err := f.Set("tbRecords.new.conditions.tbContact", "yes")
	if !errors.Is(err, ErrFieldNotApplicable) {
		t.Fatalf("expected ErrFieldNotApplicable, got %v", err)
	}
	if err := f.Set("tbRecords.new.conditions.coughTwoWeeks", "yes"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestForm_PickResidentAppliesAgeBand(t *testing.T) {
	f := NewForm(FlowContinuation, fixedClock)
	f.Set("ncdRecords.new.conditions.diabetes", "yes")
	f.Set("ncdRecords.new.conditions.malnutrition", "yes")

	if err := f.PickResident(pathNCDSlot, "R-3", PersonalInfo{LastName: "Santos", FirstName: "Ana", DateOfBirth: "2023-01-10"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slot := f.Snapshot().NCDRecords.New
	if slot.ResidentID != "R-3" || slot.FirstName != "Ana" {
		t.Errorf("expected resident copied into slot, got %+v", slot)
	}
	if _, ok := slot.Conditions["diabetes"]; ok {
		t.Error("expected 6+ field cleared for a toddler")
	}
	if slot.Conditions["malnutrition"] != "yes" {
		t.Error("expected 0-5 field kept")
	}
}

func TestForm_PickResidentUnknownTarget(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	if err := f.PickResident("surveyInfo", "R-1", PersonalInfo{}); !errors.Is(err, ErrUnknownPath) {
		t.Errorf("expected ErrUnknownPath, got %v", err)
	}
	if err := f.PickResident("motherInfo", "", PersonalInfo{}); !errors.Is(err, ErrNoResidentSelected) {
		t.Errorf("expected ErrNoResidentSelected, got %v", err)
	}
}

func TestForm_SnapshotIsDeepCopy(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	f.Set("motherInfo.residentId", "R-1")
	f.Set("ncdRecords.new.residentId", "R-1")
	f.Set("ncdRecords.new.conditions.hypertension", "yes")
	f.AddCondition(backend.CategoryNCD)

	snap := f.Snapshot()
	snap.MotherInfo["residentId"] = "R-9"
	snap.NCDRecords.List[0].Conditions["hypertension"] = "no"
	snap.Touched["x"] = true

	again := f.Snapshot()
	if again.MotherInfo["residentId"] != "R-1" {
		t.Error("snapshot aliased the mother section")
	}
	if again.NCDRecords.List[0].Conditions["hypertension"] != "yes" {
		t.Error("snapshot aliased a condition record")
	}
	if again.Touched["x"] {
		t.Error("snapshot aliased the touched set")
	}
}

func TestForm_Discard(t *testing.T) {
	f := NewForm(FlowRegistration, fixedClock)
	f.Set("demographicInfo.householdId", "H-1")
	f.setStep(StepDependents)
	f.Discard()

	s := f.Snapshot()
	if s.HasUnsavedChanges {
		t.Error("expected clean form after discard")
	}
	if s.CurrentStep != StepDemographics {
		t.Errorf("expected step 1, got %d", s.CurrentStep)
	}
	if len(s.DemographicInfo) != 0 {
		t.Errorf("expected fields cleared, got %v", s.DemographicInfo)
	}
}

func TestFormFromState_ClampsStep(t *testing.T) {
	s := newState(FlowContinuation)
	s.CurrentStep = 1
	f := FormFromState(s, fixedClock)
	if f.CurrentStep() != StepFamily {
		t.Errorf("expected step %d, got %d", StepFamily, f.CurrentStep())
	}
}
