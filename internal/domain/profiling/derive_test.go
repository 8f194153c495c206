package profiling

import (
	"testing"
	"time"

	"github.com/chis/chis/internal/backend"
)

func TestFormatResidentOptions(t *testing.T) {
	residents := []backend.Resident{
		{ID: "R-2", LastName: "Cruz", FirstName: "Lito"},
		{ID: "R-1", LastName: "Santos", FirstName: "Maria"},
	}
	opts := FormatResidentOptions(residents)
	if len(opts) != 2 {
		t.Fatalf("expected 2 options, got %d", len(opts))
	}
	if opts[0].ID != "R-2" || opts[0].Label != "R-2 - Cruz, Lito" {
		t.Errorf("unexpected first option: %+v", opts[0])
	}
	if opts[1].Label != "R-1 - Santos, Maria" {
		t.Errorf("unexpected second option: %+v", opts[1])
	}
}

func TestFormatResidentOptions_Empty(t *testing.T) {
	opts := FormatResidentOptions(nil)
	if opts == nil || len(opts) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", opts)
	}
}

func TestFormatResidentOptions_ExcludeIDs(t *testing.T) {
	residents := []backend.Resident{{ID: "R-1"}, {ID: "R-2"}, {ID: "R-3"}}
	opts := FormatResidentOptions(residents, ExcludeIDs("R-1", "R-3"))
	if len(opts) != 1 || opts[0].ID != "R-2" {
		t.Errorf("expected only R-2, got %+v", opts)
	}
}

func TestFormatFamilyMemberOptions(t *testing.T) {
	members := []backend.FamilyMember{{ResidentID: "R-5", LastName: "Reyes", FirstName: "Liza"}}
	opts := FormatFamilyMemberOptions(members)
	if len(opts) != 1 || opts[0].Label != "R-5 - Reyes, Liza" {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestAgeBandOf(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		dob  string
		want AgeBand
	}{
		{"2023-01-10", AgeBandUnderSix},
		{"2020-06-16", AgeBandUnderSix}, // turns six tomorrow
		{"2020-06-15", AgeBandSixPlus},
		{"1990-03-02", AgeBandSixPlus},
		{"06/01/2024", AgeBandUnderSix},
		{"2001-02-03T00:00:00Z", AgeBandSixPlus},
		{"", AgeBandUnknown},
		{"not a date", AgeBandUnknown},
		{"2027-01-01", AgeBandUnknown},
	}
	for _, tt := range tests {
		if got := AgeBandOf(tt.dob, now); got != tt.want {
			t.Errorf("AgeBandOf(%q) = %q, want %q", tt.dob, got, tt.want)
		}
	}
}

func TestConditionFields(t *testing.T) {
	young := ConditionFields(backend.CategoryTB, AgeBandUnderSix)
	if len(young) != 3 {
		t.Errorf("expected 3 TB fields for 0-5, got %v", young)
	}
	all := ConditionFields(backend.CategoryNCD, AgeBandUnknown)
	if len(all) != 9 {
		t.Errorf("expected both NCD sets for an unknown band, got %v", all)
	}
	young[0] = "mutated"
	if ConditionFields(backend.CategoryTB, AgeBandUnderSix)[0] == "mutated" {
		t.Error("ConditionFields must return a copy")
	}
}

func TestApplyAgeBand(t *testing.T) {
	rec := ConditionRecord{Conditions: map[string]string{
		"lowBirthWeight": "yes",
		"hypertension":   "no",
		"diabetes":       "yes",
	}}
	cleared := ApplyAgeBand(&rec, backend.CategoryNCD, AgeBandUnderSix)
	if len(cleared) != 2 {
		t.Errorf("expected 2 cleared keys, got %v", cleared)
	}
	if len(rec.Conditions) != 1 || rec.Conditions["lowBirthWeight"] != "yes" {
		t.Errorf("unexpected conditions: %v", rec.Conditions)
	}

	if cleared := ApplyAgeBand(&rec, backend.CategoryNCD, AgeBandUnknown); cleared != nil {
		t.Errorf("unknown band must clear nothing, got %v", cleared)
	}
}

func TestResolveRespondent(t *testing.T) {
	residents := []backend.Resident{{ID: "R-1", LastName: "Santos", FirstName: "Maria"}}
	members := []backend.FamilyMember{
		{ResidentID: "R-1", LastName: "Other", FirstName: "Name"},
		{ResidentID: "R-7", LastName: "Reyes", FirstName: "Liza"},
	}

	r, ok := ResolveRespondent("R-1", residents, members)
	if !ok || r.Source != "resident" || r.Info.LastName != "Santos" {
		t.Errorf("expected resident match to win, got %+v", r)
	}
	r, ok = ResolveRespondent("R-7", residents, members)
	if !ok || r.Source != "family_member" || r.Info.FirstName != "Liza" {
		t.Errorf("expected family member fallback, got %+v", r)
	}
	if _, ok := ResolveRespondent("R-9", residents, members); ok {
		t.Error("expected unresolved respondent")
	}
	if _, ok := ResolveRespondent("", residents, members); ok {
		t.Error("empty id must not resolve")
	}
}
