package profiling

import "github.com/chis/chis/internal/backend"

// Fields is a flat form section keyed by field name.
type Fields map[string]string

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// PersonalInfo is the identifying data copied from a picked resident.
type PersonalInfo struct {
	LastName    string `json:"last_name"`
	FirstName   string `json:"first_name"`
	MiddleName  string `json:"middle_name,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	Sex         string `json:"sex,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

func personalFromResident(r backend.Resident) PersonalInfo {
	return PersonalInfo{
		LastName:    r.LastName,
		FirstName:   r.FirstName,
		MiddleName:  r.MiddleName,
		Suffix:      r.Suffix,
		Sex:         r.Sex,
		DateOfBirth: r.DateOfBirth,
	}
}

func personalFromMember(m backend.FamilyMember) PersonalInfo {
	return PersonalInfo{
		LastName:    m.LastName,
		FirstName:   m.FirstName,
		MiddleName:  m.MiddleName,
		Suffix:      m.Suffix,
		Sex:         m.Sex,
		DateOfBirth: m.DateOfBirth,
	}
}

// DependentRecord is one dependent of the family. ID is the resident id.
type DependentRecord struct {
	ID string `json:"id"`
	PersonalInfo
}

type DependentList struct {
	New  DependentRecord   `json:"new"`
	List []DependentRecord `json:"list"`
}

// ConditionRecord is one NCD or TB surveillance entry for a resident.
type ConditionRecord struct {
	ID         string `json:"id,omitempty"`
	ResidentID string `json:"resident_id"`
	PersonalInfo
	Conditions map[string]string `json:"conditions"`
}

func (r ConditionRecord) clone() ConditionRecord {
	out := r
	out.Conditions = make(map[string]string, len(r.Conditions))
	for k, v := range r.Conditions {
		out.Conditions[k] = v
	}
	return out
}

type ConditionList struct {
	New  ConditionRecord   `json:"new"`
	List []ConditionRecord `json:"list"`
}

func (l ConditionList) clone() ConditionList {
	out := ConditionList{New: l.New.clone(), List: make([]ConditionRecord, len(l.List))}
	for i, r := range l.List {
		out.List[i] = r.clone()
	}
	return out
}

// Committed records what earlier passes already wrote to the backend, so a
// retry only re-issues what failed.
type Committed struct {
	Family        bool     `json:"family"`
	Composed      []string `json:"composed,omitempty"`
	Environmental bool     `json:"environmental"`
	Survey        bool     `json:"survey"`
}

// compositionKey identifies one composition row.
func compositionKey(role, residentID string) string { return role + ":" + residentID }

func (c Committed) composed(key string) bool {
	for _, k := range c.Composed {
		if k == key {
			return true
		}
	}
	return false
}

// WizardState is the root aggregate of one wizard instance. It owns every
// sub-record; nothing outside holds a reference into it.
type WizardState struct {
	Flow        Flow   `json:"flow"`
	CurrentStep int    `json:"current_step"`
	FamilyID    string `json:"family_id,omitempty"`

	DemographicInfo   Fields        `json:"demographic_info"`
	MotherInfo        Fields        `json:"mother_info"`
	FatherInfo        Fields        `json:"father_info"`
	RespondentInfo    Fields        `json:"respondent_info"`
	Dependents        DependentList `json:"dependents_info"`
	EnvironmentalForm Fields        `json:"environmental_form"`
	NCDRecords        ConditionList `json:"ncd_records"`
	TBRecords         ConditionList `json:"tb_records"`
	SurveyInfo        Fields        `json:"survey_info"`

	HasUnsavedChanges  bool            `json:"has_unsaved_changes"`
	IsDataPrePopulated bool            `json:"is_data_pre_populated"`
	Touched            map[string]bool `json:"touched,omitempty"`
	Committed          Committed       `json:"committed"`
}

func newState(flow Flow) WizardState {
	return WizardState{
		Flow:              flow,
		CurrentStep:       flow.MinStep(),
		DemographicInfo:   Fields{},
		MotherInfo:        Fields{},
		FatherInfo:        Fields{},
		RespondentInfo:    Fields{},
		Dependents:        DependentList{List: []DependentRecord{}},
		EnvironmentalForm: Fields{},
		NCDRecords:        ConditionList{New: ConditionRecord{Conditions: map[string]string{}}, List: []ConditionRecord{}},
		TBRecords:         ConditionList{New: ConditionRecord{Conditions: map[string]string{}}, List: []ConditionRecord{}},
		SurveyInfo:        Fields{},
		Touched:           map[string]bool{},
	}
}

// Clone returns a deep copy sharing no maps or slices with s.
func (s WizardState) Clone() WizardState {
	out := s
	out.DemographicInfo = s.DemographicInfo.clone()
	out.MotherInfo = s.MotherInfo.clone()
	out.FatherInfo = s.FatherInfo.clone()
	out.RespondentInfo = s.RespondentInfo.clone()
	out.EnvironmentalForm = s.EnvironmentalForm.clone()
	out.SurveyInfo = s.SurveyInfo.clone()
	out.Dependents = DependentList{New: s.Dependents.New, List: append([]DependentRecord{}, s.Dependents.List...)}
	out.NCDRecords = s.NCDRecords.clone()
	out.TBRecords = s.TBRecords.clone()
	out.Touched = make(map[string]bool, len(s.Touched))
	for k, v := range s.Touched {
		out.Touched[k] = v
	}
	out.Committed.Composed = append([]string(nil), s.Committed.Composed...)
	return out
}

// Conditions returns the list for a category.
func (s *WizardState) Conditions(category backend.Category) *ConditionList {
	if category == backend.CategoryTB {
		return &s.TBRecords
	}
	return &s.NCDRecords
}

// DependentIDs returns the resident ids already consumed as dependents.
func (s WizardState) DependentIDs() []string {
	ids := make([]string, 0, len(s.Dependents.List))
	for _, d := range s.Dependents.List {
		ids = append(ids, d.ID)
	}
	return ids
}

// ParentIDs returns the resident ids assigned as mother or father.
func (s WizardState) ParentIDs() []string {
	var ids []string
	for _, f := range []Fields{s.MotherInfo, s.FatherInfo} {
		if id := f["residentId"]; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// HouseholdID is the household the family belongs to, if resolved.
func (s WizardState) HouseholdID() string { return s.DemographicInfo["householdId"] }
