package backend

// Canonical shapes produced by the normalization adapter. Nothing outside
// this package sees the backend's raw field naming.

type Household struct {
	ID              string `json:"id"`
	HouseholdNumber string `json:"household_number"`
	SitioID         string `json:"sitio_id,omitempty"`
	Address         string `json:"address,omitempty"`
}

type Resident struct {
	ID          string `json:"id"`
	LastName    string `json:"last_name"`
	FirstName   string `json:"first_name"`
	MiddleName  string `json:"middle_name,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	Sex         string `json:"sex,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	HouseholdID string `json:"household_id,omitempty"`
}

type Sitio struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FamilyMember is a resident as seen through one family's composition.
type FamilyMember struct {
	ResidentID  string `json:"resident_id"`
	FamilyID    string `json:"family_id"`
	Role        string `json:"role"`
	LastName    string `json:"last_name"`
	FirstName   string `json:"first_name"`
	MiddleName  string `json:"middle_name,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	Sex         string `json:"sex,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

type FamilyRecord struct {
	ID           string `json:"id"`
	FamilyNumber string `json:"family_number,omitempty"`
	HouseholdID  string `json:"household_id"`
	SitioID      string `json:"sitio_id,omitempty"`
	MotherID     string `json:"mother_id,omitempty"`
	FatherID     string `json:"father_id,omitempty"`
	RespondentID string `json:"respondent_id,omitempty"`
	Income       string `json:"income,omitempty"`
	Religion     string `json:"religion,omitempty"`
	Ethnicity    string `json:"ethnicity,omitempty"`
}

// Family composition roles.
const (
	RoleMother    = "mother"
	RoleFather    = "father"
	RoleDependent = "dependent"
)

type FamilyDemographics struct {
	HouseholdID string `json:"household_id"`
	SitioID     string `json:"sitio_id,omitempty"`
	Income      string `json:"income,omitempty"`
	Religion    string `json:"religion,omitempty"`
	Ethnicity   string `json:"ethnicity,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
}

type CompositionEntry struct {
	ResidentID string `json:"resident_id"`
	Role       string `json:"role"`
}

// CompositionResult reports the outcome of one composition row.
type CompositionResult struct {
	ResidentID string `json:"resident_id"`
	Role       string `json:"role"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

type EnvironmentalPayload struct {
	HouseholdID           string `json:"household_id"`
	WaterSupply           string `json:"water_supply"`
	FacilityType          string `json:"facility_type"`
	WasteManagement       string `json:"waste_management"`
	WasteManagementOthers string `json:"waste_management_others,omitempty"`
}

// Category distinguishes condition surveillance records.
type Category string

const (
	CategoryNCD Category = "NCD"
	CategoryTB  Category = "TB"
)

type ConditionPayload struct {
	ResidentID  string            `json:"resident_id"`
	FamilyID    string            `json:"family_id,omitempty"`
	LastName    string            `json:"last_name"`
	FirstName   string            `json:"first_name"`
	MiddleName  string            `json:"middle_name,omitempty"`
	Suffix      string            `json:"suffix,omitempty"`
	Sex         string            `json:"sex,omitempty"`
	DateOfBirth string            `json:"date_of_birth,omitempty"`
	Conditions  map[string]string `json:"conditions"`
}

type SurveyPayload struct {
	FamilyID     string `json:"family_id,omitempty"`
	HouseholdID  string `json:"household_id"`
	RespondentID string `json:"respondent_id,omitempty"`
	Informant    string `json:"informant"`
	CheckedBy    string `json:"checked_by"`
	SurveyDate   string `json:"survey_date"`
	Remarks      string `json:"remarks,omitempty"`
}
