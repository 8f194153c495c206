package backend

import "testing"

func TestNormalizeResident_IDAliases(t *testing.T) {
	tests := []struct {
		name string
		in   raw
		want string
	}{
		{"resident_id", raw{"resident_id": "R-1", "id": "row-9"}, "R-1"},
		{"rp_id", raw{"rp_id": "R-2"}, "R-2"},
		{"id", raw{"id": "R-3"}, "R-3"},
		{"numeric id", raw{"id": float64(42)}, "42"},
		{"blank alias skipped", raw{"resident_id": "  ", "rp_id": "R-4"}, "R-4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeResident(tt.in).ID; got != tt.want {
				t.Errorf("ID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeResident_Fields(t *testing.T) {
	r := normalizeResident(raw{
		"rp_id":     "R-7",
		"lastname":  "Dela Cruz",
		"firstName": "Juan",
		"gender":    "male",
		"birthdate": "2021-03-04T00:00:00Z",
		"hh_id":     "H-1",
	})
	if r.LastName != "Dela Cruz" || r.FirstName != "Juan" {
		t.Errorf("unexpected name %q, %q", r.LastName, r.FirstName)
	}
	if r.Sex != "M" {
		t.Errorf("expected sex M, got %q", r.Sex)
	}
	if r.DateOfBirth != "2021-03-04" {
		t.Errorf("expected date-only birth date, got %q", r.DateOfBirth)
	}
	if r.HouseholdID != "H-1" {
		t.Errorf("expected household H-1, got %q", r.HouseholdID)
	}
}

func TestNormalizeFamilyMember_DefaultsFamilyID(t *testing.T) {
	m := normalizeFamilyMember(raw{"resident_id": "R-1", "relationship": "Mother"}, "F-1")
	if m.FamilyID != "F-1" {
		t.Errorf("expected family id F-1, got %q", m.FamilyID)
	}
	if m.Role != RoleMother {
		t.Errorf("expected role mother, got %q", m.Role)
	}
}

func TestDecodeObjects_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":"a"},{"id":"b"}]`, 2},
		{"data envelope", `{"data":[{"id":"a"}]}`, 1},
		{"results envelope", `{"results":[{"id":"a"},{"id":"b"},{"id":"c"}]}`, 3},
		{"null data", `{"data":null}`, 0},
		{"empty body", ``, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs, err := decodeObjects([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(objs) != tt.want {
				t.Errorf("got %d objects, want %d", len(objs), tt.want)
			}
		})
	}
}

func TestDecodeObject_Envelope(t *testing.T) {
	obj, err := decodeObject([]byte(`{"data":{"family_id":"F-9"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if normalizeFamilyRecord(obj).ID != "F-9" {
		t.Errorf("expected unwrapped envelope, got %v", obj)
	}
}
