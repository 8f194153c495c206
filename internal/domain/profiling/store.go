package profiling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chis/chis/internal/backend"
)

// Flat sections and the fields each accepts.
var sectionFields = map[string][]string{
	"demographicInfo":   {"householdId", "sitioId", "familyNumber", "income", "religion", "ethnicity"},
	"motherInfo":        {"residentId", "lastName", "firstName", "middleName", "suffix", "sex", "dateOfBirth", "civilStatus", "educationalAttainment", "occupation"},
	"fatherInfo":        {"residentId", "lastName", "firstName", "middleName", "suffix", "sex", "dateOfBirth", "civilStatus", "educationalAttainment", "occupation"},
	"respondentInfo":    {"residentId", "relationship"},
	"environmentalForm": {"waterSupply", "facilityType", "wasteManagement", "wasteManagementOthers"},
	"surveyInfo":        {"informant", "checkedBy", "date", "remarks"},
}

var slotFields = []string{"residentId", "lastName", "firstName", "middleName", "suffix", "sex", "dateOfBirth"}

const (
	pathDependentSlot = "dependentsInfo.new"
	pathNCDSlot       = "ncdRecords.new"
	pathTBSlot        = "tbRecords.new"
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type pathKind int

const (
	kindSection pathKind = iota
	kindDependentSlot
	kindConditionSlot
	kindConditionField
)

type formPath struct {
	kind     pathKind
	section  string
	field    string
	category backend.Category
}

func slotCategory(section string) (backend.Category, bool) {
	switch section {
	case "ncdRecords":
		return backend.CategoryNCD, true
	case "tbRecords":
		return backend.CategoryTB, true
	}
	return "", false
}

func parsePath(path string) (formPath, error) {
	parts := strings.Split(path, ".")
	unknown := fmt.Errorf("%w: %q", ErrUnknownPath, path)

	if len(parts) == 2 {
		if fields, ok := sectionFields[parts[0]]; ok && contains(fields, parts[1]) {
			return formPath{kind: kindSection, section: parts[0], field: parts[1]}, nil
		}
		return formPath{}, unknown
	}
	if len(parts) < 3 || parts[1] != "new" {
		return formPath{}, unknown
	}

	if parts[0] == "dependentsInfo" {
		if len(parts) == 3 && contains(slotFields, parts[2]) {
			return formPath{kind: kindDependentSlot, section: parts[0], field: parts[2]}, nil
		}
		return formPath{}, unknown
	}

	cat, ok := slotCategory(parts[0])
	if !ok {
		return formPath{}, unknown
	}
	switch {
	case len(parts) == 3 && contains(slotFields, parts[2]):
		return formPath{kind: kindConditionSlot, section: parts[0], field: parts[2], category: cat}, nil
	case len(parts) == 4 && parts[2] == "conditions" && isConditionField(cat, parts[3]):
		return formPath{kind: kindConditionField, section: parts[0], field: parts[3], category: cat}, nil
	}
	return formPath{}, unknown
}

func personalField(p *PersonalInfo, name string) *string {
	switch name {
	case "lastName":
		return &p.LastName
	case "firstName":
		return &p.FirstName
	case "middleName":
		return &p.MiddleName
	case "suffix":
		return &p.Suffix
	case "sex":
		return &p.Sex
	case "dateOfBirth":
		return &p.DateOfBirth
	}
	return nil
}

// Form is the mutable store around one WizardState. It is not safe for
// concurrent use; the session service serializes access per session.
type Form struct {
	state WizardState
	now   func() time.Time
}

func NewForm(flow Flow, now func() time.Time) *Form {
	if now == nil {
		now = time.Now
	}
	return &Form{state: newState(flow), now: now}
}

// FormFromState wraps a copy of a persisted state.
func FormFromState(s WizardState, now func() time.Time) *Form {
	if now == nil {
		now = time.Now
	}
	st := s.Clone()
	if st.CurrentStep < st.Flow.MinStep() || st.CurrentStep > st.Flow.MaxStep() {
		st.CurrentStep = st.Flow.MinStep()
	}
	return &Form{state: st, now: now}
}

// Snapshot returns a deep copy of the current state.
func (f *Form) Snapshot() WizardState { return f.state.Clone() }

func (f *Form) CurrentStep() int { return f.state.CurrentStep }

func (f *Form) Flow() Flow { return f.state.Flow }

func (f *Form) HasUnsavedChanges() bool { return f.state.HasUnsavedChanges }

func (f *Form) section(name string) Fields {
	switch name {
	case "demographicInfo":
		return f.state.DemographicInfo
	case "motherInfo":
		return f.state.MotherInfo
	case "fatherInfo":
		return f.state.FatherInfo
	case "respondentInfo":
		return f.state.RespondentInfo
	case "environmentalForm":
		return f.state.EnvironmentalForm
	case "surveyInfo":
		return f.state.SurveyInfo
	}
	return nil
}

func (f *Form) Get(path string) (string, error) {
	p, err := parsePath(path)
	if err != nil {
		return "", err
	}
	switch p.kind {
	case kindSection:
		return f.section(p.section)[p.field], nil
	case kindDependentSlot:
		slot := &f.state.Dependents.New
		if p.field == "residentId" {
			return slot.ID, nil
		}
		return *personalField(&slot.PersonalInfo, p.field), nil
	case kindConditionSlot:
		slot := &f.state.Conditions(p.category).New
		if p.field == "residentId" {
			return slot.ResidentID, nil
		}
		return *personalField(&slot.PersonalInfo, p.field), nil
	default:
		return f.state.Conditions(p.category).New.Conditions[p.field], nil
	}
}

// Set is a user-driven write: the path becomes touched and the form dirty.
func (f *Form) Set(path, value string) error {
	p, err := parsePath(path)
	if err != nil {
		return err
	}
	if err := f.write(p, value); err != nil {
		return err
	}
	f.state.Touched[path] = true
	f.state.HasUnsavedChanges = true
	return nil
}

// SetDefault is a derived-data write. It never overwrites a path the user
// has touched and never marks the form dirty. Reports whether it wrote.
func (f *Form) SetDefault(path, value string) bool {
	p, err := parsePath(path)
	if err != nil || f.state.Touched[path] {
		return false
	}
	if cur, _ := f.Get(path); cur == value {
		return false
	}
	return f.write(p, value) == nil
}

func (f *Form) write(p formPath, value string) error {
	switch p.kind {
	case kindSection:
		sec := f.section(p.section)
		if value == "" {
			delete(sec, p.field)
		} else {
			sec[p.field] = value
		}
	case kindDependentSlot:
		slot := &f.state.Dependents.New
		if p.field == "residentId" {
			slot.ID = value
		} else {
			*personalField(&slot.PersonalInfo, p.field) = value
		}
	case kindConditionSlot:
		slot := &f.state.Conditions(p.category).New
		if p.field == "residentId" {
			slot.ResidentID = value
		} else {
			*personalField(&slot.PersonalInfo, p.field) = value
		}
		if p.field == "dateOfBirth" {
			f.applyBand(p.section, p.category)
		}
	case kindConditionField:
		slot := &f.state.Conditions(p.category).New
		band := AgeBandOf(slot.DateOfBirth, f.now())
		if !fieldInBand(p.category, band, p.field) {
			return fmt.Errorf("%w: %s.new.conditions.%s (band %s)", ErrFieldNotApplicable, p.section, p.field, band)
		}
		if slot.Conditions == nil {
			slot.Conditions = map[string]string{}
		}
		if value == "" {
			delete(slot.Conditions, p.field)
		} else {
			slot.Conditions[p.field] = value
		}
	}
	return nil
}

func (f *Form) applyBand(section string, category backend.Category) {
	slot := &f.state.Conditions(category).New
	band := AgeBandOf(slot.DateOfBirth, f.now())
	for _, key := range ApplyAgeBand(slot, category, band) {
		delete(f.state.Touched, section+".new.conditions."+key)
	}
}

// Prepopulate runs fn once per wizard instance to load server data. It never
// marks the form dirty; later calls are ignored and report false.
func (f *Form) Prepopulate(fn func(s *WizardState)) bool {
	if f.state.IsDataPrePopulated {
		return false
	}
	fn(&f.state)
	f.state.IsDataPrePopulated = true
	return true
}

// MarkClean clears the dirty flag after a successful full submission.
func (f *Form) MarkClean() { f.state.HasUnsavedChanges = false }

// Discard drops every entered value and returns to the flow's first step.
// Once a family exists the record of accepted writes survives, so walking
// the flow again never re-creates the family or re-sends a composition row,
// environmental form or survey. Server data must be loaded again with
// Prepopulate.
func (f *Form) Discard() {
	prev := f.state
	f.state = newState(prev.Flow)
	if prev.Committed.Family || prev.Flow == FlowContinuation {
		f.state.FamilyID = prev.FamilyID
		f.state.Committed = prev.Committed
		f.state.Committed.Composed = append([]string(nil), prev.Committed.Composed...)
	}
}

func (f *Form) untouchSlot(prefix string) {
	for k := range f.state.Touched {
		if strings.HasPrefix(k, prefix+".") {
			delete(f.state.Touched, k)
		}
	}
}

// AddDependent appends the working slot to the dependents list and resets
// the slot. An empty resident selection is rejected.
func (f *Form) AddDependent() (DependentRecord, error) {
	slot := f.state.Dependents.New
	if strings.TrimSpace(slot.ID) == "" {
		return DependentRecord{}, ErrNoResidentSelected
	}
	for _, d := range f.state.Dependents.List {
		if d.ID == slot.ID {
			return DependentRecord{}, fmt.Errorf("%w: %s", ErrDuplicateDependent, slot.ID)
		}
	}
	f.state.Dependents.List = append(f.state.Dependents.List, slot)
	f.state.Dependents.New = DependentRecord{}
	f.untouchSlot(pathDependentSlot)
	f.state.HasUnsavedChanges = true
	return slot, nil
}

// RemoveDependent removes the dependent with the given resident id.
func (f *Form) RemoveDependent(id string) error {
	list := f.state.Dependents.List
	for i, d := range list {
		if d.ID == id {
			f.state.Dependents.List = append(list[:i:i], list[i+1:]...)
			f.state.HasUnsavedChanges = true
			return nil
		}
	}
	return fmt.Errorf("%w: dependent %s", ErrRecordNotFound, id)
}

// AddCondition appends the category's working slot as a new record with a
// fresh id and resets the slot.
func (f *Form) AddCondition(category backend.Category) (ConditionRecord, error) {
	l := f.state.Conditions(category)
	if strings.TrimSpace(l.New.ResidentID) == "" {
		return ConditionRecord{}, ErrNoResidentSelected
	}
	rec := l.New.clone()
	rec.ID = uuid.NewString()
	l.List = append(l.List, rec)
	l.New = ConditionRecord{Conditions: map[string]string{}}
	f.untouchSlot(slotPrefix(category))
	f.state.HasUnsavedChanges = true
	return rec, nil
}

// RemoveCondition removes exactly one record by id, keeping the order of
// the rest.
func (f *Form) RemoveCondition(category backend.Category, id string) error {
	l := f.state.Conditions(category)
	for i, r := range l.List {
		if r.ID == id {
			l.List = append(l.List[:i:i], l.List[i+1:]...)
			f.state.HasUnsavedChanges = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s record %s", ErrRecordNotFound, category, id)
}

func slotPrefix(category backend.Category) string {
	if category == backend.CategoryTB {
		return pathTBSlot
	}
	return pathNCDSlot
}

// Pick targets accepted by PickResident.
var pickTargets = []string{"motherInfo", "fatherInfo", "respondentInfo", pathDependentSlot, pathNCDSlot, pathTBSlot}

// PickResident copies a resident's identity into a parent section, the
// respondent section or a working slot, as a user write. Condition slots
// re-apply the age band for the picked date of birth.
func (f *Form) PickResident(target, residentID string, info PersonalInfo) error {
	if !contains(pickTargets, target) {
		return fmt.Errorf("%w: %q", ErrUnknownPath, target)
	}
	if strings.TrimSpace(residentID) == "" {
		return ErrNoResidentSelected
	}

	touch := func(fields ...string) {
		for _, fl := range fields {
			f.state.Touched[target+"."+fl] = true
		}
		f.state.HasUnsavedChanges = true
	}

	switch target {
	case "respondentInfo":
		f.state.RespondentInfo["residentId"] = residentID
		touch("residentId")
	case "motherInfo", "fatherInfo":
		sec := f.section(target)
		sec["residentId"] = residentID
		setPersonal(sec, info)
		touch(slotFields...)
	case pathDependentSlot:
		f.state.Dependents.New = DependentRecord{ID: residentID, PersonalInfo: info}
		touch(slotFields...)
	default:
		cat := backend.CategoryNCD
		if target == pathTBSlot {
			cat = backend.CategoryTB
		}
		slot := &f.state.Conditions(cat).New
		slot.ResidentID = residentID
		slot.PersonalInfo = info
		if slot.Conditions == nil {
			slot.Conditions = map[string]string{}
		}
		f.applyBand(strings.TrimSuffix(target, ".new"), cat)
		touch(slotFields...)
	}
	return nil
}

func setPersonal(sec Fields, p PersonalInfo) {
	for k, v := range map[string]string{
		"lastName":    p.LastName,
		"firstName":   p.FirstName,
		"middleName":  p.MiddleName,
		"suffix":      p.Suffix,
		"sex":         p.Sex,
		"dateOfBirth": p.DateOfBirth,
	} {
		if v == "" {
			delete(sec, k)
		} else {
			sec[k] = v
		}
	}
}

// setStep moves the cursor. Only the navigator calls it.
func (f *Form) setStep(n int) { f.state.CurrentStep = n }

// recordFamily stores the id of a family created by registration.
func (f *Form) recordFamily(familyID string) {
	f.state.FamilyID = familyID
	f.state.Committed.Family = true
}

func (f *Form) recordComposed(key string) {
	if !f.state.Committed.composed(key) {
		f.state.Committed.Composed = append(f.state.Committed.Composed, key)
	}
}

// applyOutcome folds a submission pass back into the form: committed
// condition records leave their lists and committed one-off payloads are
// flagged so a later pass does not re-issue them.
func (f *Form) applyOutcome(o *SubmissionOutcome) {
	if o.Environmental == WriteCommitted {
		f.state.Committed.Environmental = true
	}
	if o.Survey == WriteCommitted {
		f.state.Committed.Survey = true
	}
	for _, co := range []CategoryOutcome{o.NCD, o.TB} {
		if len(co.Committed) == 0 {
			continue
		}
		done := make(map[string]bool, len(co.Committed))
		for _, c := range co.Committed {
			done[c.RecordID] = true
		}
		l := f.state.Conditions(co.Category)
		kept := l.List[:0:0]
		for _, r := range l.List {
			if !done[r.ID] {
				kept = append(kept, r)
			}
		}
		l.List = kept
	}
	if o.Success && len(o.Failures) == 0 {
		f.MarkClean()
	}
}
