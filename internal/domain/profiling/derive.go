package profiling

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chis/chis/internal/backend"
)

// Option is one entry of a select list.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// OptionFilter reports whether an id stays in an option list.
type OptionFilter func(id string) bool

// ExcludeIDs drops the given ids. Filters are opt-in: the same resident may
// legitimately hold several roles at once.
func ExcludeIDs(ids ...string) OptionFilter {
	skip := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	return func(id string) bool {
		_, ok := skip[id]
		return !ok
	}
}

func keep(id string, filters []OptionFilter) bool {
	for _, f := range filters {
		if !f(id) {
			return false
		}
	}
	return true
}

func optionLabel(id, lastName, firstName string) string {
	return fmt.Sprintf("%s - %s, %s", id, lastName, firstName)
}

// FormatResidentOptions projects residents into select options labelled
// "{residentId} - {lastName}, {firstName}", preserving input order.
func FormatResidentOptions(residents []backend.Resident, filters ...OptionFilter) []Option {
	out := make([]Option, 0, len(residents))
	for _, r := range residents {
		if !keep(r.ID, filters) {
			continue
		}
		out = append(out, Option{ID: r.ID, Label: optionLabel(r.ID, r.LastName, r.FirstName)})
	}
	return out
}

func FormatFamilyMemberOptions(members []backend.FamilyMember, filters ...OptionFilter) []Option {
	out := make([]Option, 0, len(members))
	for _, m := range members {
		if !keep(m.ResidentID, filters) {
			continue
		}
		out = append(out, Option{ID: m.ResidentID, Label: optionLabel(m.ResidentID, m.LastName, m.FirstName)})
	}
	return out
}

// AgeBand selects which condition fields apply to a resident.
type AgeBand string

const (
	AgeBandUnknown  AgeBand = ""
	AgeBandUnderSix AgeBand = "0-5"
	AgeBandSixPlus  AgeBand = "6+"
)

var dobLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006"}

// AgeBandOf derives the band from a date of birth. Unparseable or future
// dates yield AgeBandUnknown.
func AgeBandOf(dateOfBirth string, now time.Time) AgeBand {
	dob, ok := parseDOB(dateOfBirth)
	if !ok || dob.After(now) {
		return AgeBandUnknown
	}
	if ageInYears(dob, now) < 6 {
		return AgeBandUnderSix
	}
	return AgeBandSixPlus
}

func parseDOB(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func ageInYears(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

var conditionFields = map[backend.Category]map[AgeBand][]string{
	backend.CategoryNCD: {
		AgeBandUnderSix: {"lowBirthWeight", "congenitalAnomaly", "malnutrition"},
		AgeBandSixPlus:  {"hypertension", "diabetes", "smokingStatus", "alcoholUse", "physicalActivity", "familyHistory"},
	},
	backend.CategoryTB: {
		AgeBandUnderSix: {"tbContact", "poorWeightGain", "persistentFever"},
		AgeBandSixPlus:  {"coughTwoWeeks", "hemoptysis", "weightLoss", "nightSweats", "sputumResult"},
	},
}

// ConditionFields lists the condition keys shown for a band. The unknown band
// shows both sets.
func ConditionFields(category backend.Category, band AgeBand) []string {
	bands := conditionFields[category]
	if band == AgeBandUnknown {
		all := append(append([]string{}, bands[AgeBandUnderSix]...), bands[AgeBandSixPlus]...)
		sort.Strings(all)
		return all
	}
	return append([]string{}, bands[band]...)
}

func isConditionField(category backend.Category, key string) bool {
	for _, fields := range conditionFields[category] {
		for _, f := range fields {
			if f == key {
				return true
			}
		}
	}
	return false
}

func fieldInBand(category backend.Category, band AgeBand, key string) bool {
	if band == AgeBandUnknown {
		return true
	}
	for _, f := range conditionFields[category][band] {
		if f == key {
			return true
		}
	}
	return false
}

func otherBand(b AgeBand) AgeBand {
	switch b {
	case AgeBandUnderSix:
		return AgeBandSixPlus
	case AgeBandSixPlus:
		return AgeBandUnderSix
	}
	return AgeBandUnknown
}

// ApplyAgeBand clears the record's condition fields that belong to the band
// the resident is not in and returns the cleared keys. Fields of the
// applicable band are left as they are; an unknown band clears nothing.
func ApplyAgeBand(rec *ConditionRecord, category backend.Category, band AgeBand) []string {
	other := otherBand(band)
	if other == AgeBandUnknown {
		return nil
	}
	var cleared []string
	for _, key := range conditionFields[category][other] {
		if _, ok := rec.Conditions[key]; ok {
			delete(rec.Conditions, key)
			cleared = append(cleared, key)
		}
	}
	return cleared
}

// Respondent is the resolved information provider for the survey step.
type Respondent struct {
	ID     string       `json:"id"`
	Source string       `json:"source"`
	Info   PersonalInfo `json:"personal_info"`
}

// ResolveRespondent looks the id up among residents first and family members
// second. A miss is reported as false: the respondent is not resolved yet.
func ResolveRespondent(id string, residents []backend.Resident, members []backend.FamilyMember) (Respondent, bool) {
	if id == "" {
		return Respondent{}, false
	}
	for _, r := range residents {
		if r.ID == id {
			return Respondent{ID: id, Source: "resident", Info: personalFromResident(r)}, true
		}
	}
	for _, m := range members {
		if m.ResidentID == id {
			return Respondent{ID: id, Source: "family_member", Info: personalFromMember(m)}, true
		}
	}
	return Respondent{}, false
}
