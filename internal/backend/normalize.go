package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// raw is a backend object before normalization. The backend is inconsistent
// about naming (resident_id vs id vs rp_id, lastname vs last_name), so every
// canonical field lists the aliases it may arrive under.
type raw map[string]interface{}

var (
	residentIDKeys  = []string{"resident_id", "rp_id", "id"}
	householdIDKeys = []string{"household_id", "hh_id", "householdId"}
	familyIDKeys    = []string{"family_id", "familyId", "fam_id"}
	lastNameKeys    = []string{"last_name", "lastname", "lastName", "lname"}
	firstNameKeys   = []string{"first_name", "firstname", "firstName", "fname"}
	middleNameKeys  = []string{"middle_name", "middlename", "middleName", "mname"}
	suffixKeys      = []string{"suffix", "name_suffix"}
	sexKeys         = []string{"sex", "gender"}
	birthDateKeys   = []string{"date_of_birth", "birthdate", "dateOfBirth", "dob"}
	sitioIDKeys     = []string{"sitio_id", "sitioId", "purok_id"}
)

// str returns the first non-empty value found under keys, rendering numbers
// without a trailing ".0" so numeric ids compare equal to string ids.
func (r raw) str(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case json.Number:
			s = t.String()
		case bool:
			s = strconv.FormatBool(t)
		default:
			s = fmt.Sprint(t)
		}
		s = strings.TrimSpace(s)
		if s != "" {
			return s
		}
	}
	return ""
}

// birthDate keeps only the calendar date of timestamp-formatted values.
func birthDate(r raw) string {
	d := r.str(birthDateKeys...)
	if len(d) > 10 && d[4] == '-' && d[7] == '-' {
		return d[:10]
	}
	return d
}

func normalizeResident(r raw) Resident {
	return Resident{
		ID:          r.str(residentIDKeys...),
		LastName:    r.str(lastNameKeys...),
		FirstName:   r.str(firstNameKeys...),
		MiddleName:  r.str(middleNameKeys...),
		Suffix:      r.str(suffixKeys...),
		Sex:         normalizeSex(r.str(sexKeys...)),
		DateOfBirth: birthDate(r),
		HouseholdID: r.str(householdIDKeys...),
	}
}

func normalizeHousehold(r raw) Household {
	return Household{
		ID:              r.str("household_id", "id", "hh_id"),
		HouseholdNumber: r.str("household_number", "household_no", "hh_number", "number"),
		SitioID:         r.str(sitioIDKeys...),
		Address:         r.str("address", "street"),
	}
}

func normalizeSitio(r raw) Sitio {
	return Sitio{
		ID:   r.str("sitio_id", "id", "purok_id"),
		Name: r.str("name", "sitio_name", "sitio", "purok"),
	}
}

func normalizeFamilyMember(r raw, familyID string) FamilyMember {
	m := FamilyMember{
		ResidentID:  r.str(residentIDKeys...),
		FamilyID:    r.str(familyIDKeys...),
		Role:        strings.ToLower(r.str("role", "relationship", "family_role")),
		LastName:    r.str(lastNameKeys...),
		FirstName:   r.str(firstNameKeys...),
		MiddleName:  r.str(middleNameKeys...),
		Suffix:      r.str(suffixKeys...),
		Sex:         normalizeSex(r.str(sexKeys...)),
		DateOfBirth: birthDate(r),
	}
	if m.FamilyID == "" {
		m.FamilyID = familyID
	}
	return m
}

func normalizeFamilyRecord(r raw) FamilyRecord {
	return FamilyRecord{
		ID:           r.str("family_id", "id", "fam_id"),
		FamilyNumber: r.str("family_number", "family_no", "fam_number"),
		HouseholdID:  r.str(householdIDKeys...),
		SitioID:      r.str(sitioIDKeys...),
		MotherID:     r.str("mother_id", "mother_resident_id", "mother"),
		FatherID:     r.str("father_id", "father_resident_id", "father"),
		RespondentID: r.str("respondent_id", "respondent"),
		Income:       r.str("income", "monthly_income"),
		Religion:     r.str("religion"),
		Ethnicity:    r.str("ethnicity", "ethnic_group"),
	}
}

func normalizeSex(s string) string {
	switch strings.ToLower(s) {
	case "m", "male":
		return "M"
	case "f", "female":
		return "F"
	default:
		return s
	}
}

// decodeObjects accepts either a bare JSON array or an envelope of the form
// {"data": [...]} and returns the contained objects.
func decodeObjects(body []byte) ([]raw, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []raw
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return list, nil
	}
	var env struct {
		Data    json.RawMessage `json:"data"`
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	inner := env.Data
	if len(inner) == 0 {
		inner = env.Results
	}
	if len(inner) == 0 {
		return nil, nil
	}
	return decodeObjects(inner)
}

// decodeObject accepts a bare object or an envelope {"data": {...}}.
func decodeObject(body []byte) (raw, error) {
	var obj raw
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if inner, ok := obj["data"].(map[string]interface{}); ok {
		return raw(inner), nil
	}
	return obj, nil
}
