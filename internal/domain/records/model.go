package records

import (
	"github.com/chis/chis/internal/backend"
	"github.com/chis/chis/internal/domain/profiling"
)

// Person is a family member as shown on the profile, with the age band that
// decides which condition forms apply to them.
type Person struct {
	ResidentID  string            `json:"resident_id"`
	Role        string            `json:"role,omitempty"`
	Name        string            `json:"name"`
	Sex         string            `json:"sex,omitempty"`
	DateOfBirth string            `json:"date_of_birth,omitempty"`
	AgeBand     profiling.AgeBand `json:"age_band,omitempty"`
}

// FamilyProfile is the read view of one registered family.
type FamilyProfile struct {
	Family     backend.FamilyRecord   `json:"family"`
	Household  *backend.Household     `json:"household,omitempty"`
	Sitio      *backend.Sitio         `json:"sitio,omitempty"`
	Mother     *Person                `json:"mother,omitempty"`
	Father     *Person                `json:"father,omitempty"`
	Respondent *profiling.Respondent  `json:"respondent,omitempty"`
	Dependents []Person               `json:"dependents"`
	Members    []backend.FamilyMember `json:"members"`
	// Warnings lists lookups that failed; the profile is still usable.
	Warnings []string `json:"warnings,omitempty"`
}
