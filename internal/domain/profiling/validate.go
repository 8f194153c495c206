package profiling

import (
	"fmt"
	"strings"

	"github.com/chis/chis/internal/backend"
)

// Error categories used to bucket validation errors and write failures.
const (
	CategoryDemographics  = "demographics"
	CategoryFamily        = "family"
	CategoryDependents    = "dependents"
	CategoryEnvironmental = "environmental"
	CategoryNCD           = "ncd"
	CategoryTB            = "tb"
	CategorySurvey        = "survey"
	CategoryComposition   = "composition"
)

func categoryName(c backend.Category) string {
	if c == backend.CategoryTB {
		return CategoryTB
	}
	return CategoryNCD
}

type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

func resultOf(errs []string) ValidationResult {
	if errs == nil {
		errs = []string{}
	}
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// StepValidationResult aggregates the sub-results of one step, keyed by
// error category.
type StepValidationResult struct {
	IsValid bool                        `json:"is_valid"`
	Errors  []string                    `json:"errors"`
	Parts   map[string]ValidationResult `json:"parts"`
}

type namedResult struct {
	category string
	result   ValidationResult
}

func combine(parts ...namedResult) StepValidationResult {
	out := StepValidationResult{IsValid: true, Errors: []string{}, Parts: make(map[string]ValidationResult, len(parts))}
	for _, p := range parts {
		out.Parts[p.category] = p.result
		out.Errors = append(out.Errors, p.result.Errors...)
		if len(p.result.Errors) > 0 {
			out.IsValid = false
		}
	}
	return out
}

// FullValidationResult covers every step in scope for final submission,
// keyed by step key.
type FullValidationResult struct {
	IsValid bool                            `json:"is_valid"`
	Steps   map[string]StepValidationResult `json:"steps"`
}

// Errors concatenates all step errors in registry order.
func (r FullValidationResult) Errors() []string {
	out := []string{}
	for _, st := range registry {
		if sr, ok := r.Steps[st.Key]; ok {
			out = append(out, sr.Errors...)
		}
	}
	return out
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func ValidateDemographicsStep(s WizardState) ValidationResult {
	var errs []string
	if blank(s.DemographicInfo["householdId"]) {
		errs = append(errs, "household is required")
	}
	return resultOf(errs)
}

func ValidateFamilyStep(s WizardState) ValidationResult {
	var errs []string
	mother, father := s.MotherInfo["residentId"], s.FatherInfo["residentId"]
	if !blank(mother) && mother == father {
		errs = append(errs, "mother and father must be different residents")
	}
	return resultOf(errs)
}

func ValidateDependentsStep(s WizardState) ValidationResult {
	var errs []string
	if len(s.Dependents.List) == 0 {
		errs = append(errs, "must have at least one dependent")
	}
	return resultOf(errs)
}

func validateEnvironmental(env Fields) ValidationResult {
	var errs []string
	if blank(env["waterSupply"]) {
		errs = append(errs, "water supply is required")
	}
	if blank(env["facilityType"]) {
		errs = append(errs, "toilet facility type is required")
	}
	wm := strings.TrimSpace(env["wasteManagement"])
	switch {
	case wm == "":
		errs = append(errs, "waste management is required")
	case strings.EqualFold(wm, "others") && blank(env["wasteManagementOthers"]):
		errs = append(errs, "please specify the waste management method")
	}
	return resultOf(errs)
}

// validateConditionRecords checks each listed record. An empty list is valid.
func validateConditionRecords(category backend.Category, records []ConditionRecord) ValidationResult {
	var errs []string
	for i, r := range records {
		if blank(r.ResidentID) {
			errs = append(errs, fmt.Sprintf("%s record #%d: resident is required", category, i+1))
			continue
		}
		filled := false
		for _, v := range r.Conditions {
			if !blank(v) {
				filled = true
				break
			}
		}
		if !filled {
			errs = append(errs, fmt.Sprintf("%s record for resident %s: at least one condition field is required", category, r.ResidentID))
		}
	}
	return resultOf(errs)
}

// ValidateHouseholdInfoStep validates the environmental form and any
// condition records present. Environmental data already committed by an
// earlier pass is not re-validated.
func ValidateHouseholdInfoStep(s WizardState) StepValidationResult {
	env := resultOf(nil)
	if !s.Committed.Environmental {
		env = validateEnvironmental(s.EnvironmentalForm)
	}
	return combine(
		namedResult{CategoryEnvironmental, env},
		namedResult{CategoryNCD, validateConditionRecords(backend.CategoryNCD, s.NCDRecords.List)},
		namedResult{CategoryTB, validateConditionRecords(backend.CategoryTB, s.TBRecords.List)},
	)
}

func ValidateSurveyStep(survey Fields) ValidationResult {
	var errs []string
	if blank(survey["informant"]) {
		errs = append(errs, "informant is required")
	}
	if blank(survey["checkedBy"]) {
		errs = append(errs, "checked by is required")
	}
	if d := survey["date"]; blank(d) {
		errs = append(errs, "survey date is required")
	} else if _, ok := parseDOB(d); !ok {
		errs = append(errs, "survey date must be a valid date")
	}
	return resultOf(errs)
}

// ValidateForSubmission aggregates the steps whose data the submission pass
// writes, plus the dependents of a registration. The survey is left out: an
// invalid survey only downgrades the pass to a warning.
func ValidateForSubmission(s WizardState) FullValidationResult {
	steps := map[string]StepValidationResult{
		"demographics": combine(namedResult{CategoryDemographics, ValidateDemographicsStep(s)}),
		"household":    ValidateHouseholdInfoStep(s),
	}
	if s.Flow == FlowRegistration {
		steps["dependents"] = combine(namedResult{CategoryDependents, ValidateDependentsStep(s)})
	}
	out := FullValidationResult{IsValid: true, Steps: steps}
	for _, sr := range steps {
		if !sr.IsValid {
			out.IsValid = false
		}
	}
	return out
}

// GroupErrorsByCategory counts errors per category for summary display.
// Categories without errors are omitted.
func GroupErrorsByCategory(r FullValidationResult) map[string]int {
	counts := map[string]int{}
	for _, sr := range r.Steps {
		for cat, part := range sr.Parts {
			if n := len(part.Errors); n > 0 {
				counts[cat] += n
			}
		}
	}
	return counts
}

// stepValidator returns the guard for leaving a step forward.
func stepValidator(step int) func(WizardState) ValidationResult {
	switch step {
	case StepDemographics:
		return ValidateDemographicsStep
	case StepFamily:
		return ValidateFamilyStep
	case StepDependents:
		return ValidateDependentsStep
	case StepHousehold:
		return func(s WizardState) ValidationResult {
			r := ValidateHouseholdInfoStep(s)
			return ValidationResult{IsValid: r.IsValid, Errors: r.Errors}
		}
	case StepSurvey:
		return func(s WizardState) ValidationResult { return ValidateSurveyStep(s.SurveyInfo) }
	}
	return func(WizardState) ValidationResult { return resultOf(nil) }
}
