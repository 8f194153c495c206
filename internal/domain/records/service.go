package records

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chis/chis/internal/backend"
	"github.com/chis/chis/internal/domain/profiling"
)

// Service assembles read views from the cached backend reads.
type Service struct {
	src    backend.Reader
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(src backend.Reader, logger zerolog.Logger) *Service {
	return &Service{
		src:    src,
		logger: logger.With().Str("component", "records").Logger(),
		now:    time.Now,
	}
}

// FamilyProfile loads the family record and its members, which must both
// succeed, together with the residents, households and sitios used to
// resolve names. A failure of the latter degrades the view to a warning.
func (s *Service) FamilyProfile(ctx context.Context, familyID string) (*FamilyProfile, error) {
	var (
		rec        backend.FamilyRecord
		members    []backend.FamilyMember
		residents  []backend.Resident
		households []backend.Household
		sitios     []backend.Sitio
		warnings   = make([]string, 3)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if rec, err = s.src.FetchFamilyRecord(gctx, familyID); err != nil {
			return fmt.Errorf("load family %s: %w", familyID, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if members, err = s.src.FetchFamilyMembers(gctx, familyID); err != nil {
			return fmt.Errorf("load family %s members: %w", familyID, err)
		}
		return nil
	})
	// Soft lookups never fail the group so they cannot cancel the hard ones.
	g.Go(func() (err error) {
		if residents, err = s.src.FetchResidents(gctx); err != nil {
			warnings[0] = "residents unavailable: " + err.Error()
		}
		return nil
	})
	g.Go(func() (err error) {
		if households, err = s.src.FetchHouseholds(gctx); err != nil {
			warnings[1] = "households unavailable: " + err.Error()
		}
		return nil
	})
	g.Go(func() (err error) {
		if sitios, err = s.src.FetchSitios(gctx); err != nil {
			warnings[2] = "sitios unavailable: " + err.Error()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := &FamilyProfile{Family: rec, Members: members, Dependents: []Person{}}
	for _, w := range warnings {
		if w != "" {
			p.Warnings = append(p.Warnings, w)
		}
	}
	if len(p.Warnings) > 0 {
		s.logger.Warn().Str("family_id", familyID).Strs("warnings", p.Warnings).Msg("family profile degraded")
	}

	for i := range households {
		if households[i].ID == rec.HouseholdID {
			p.Household = &households[i]
			break
		}
	}
	sitioID := rec.SitioID
	if sitioID == "" && p.Household != nil {
		sitioID = p.Household.SitioID
	}
	for i := range sitios {
		if sitios[i].ID == sitioID {
			p.Sitio = &sitios[i]
			break
		}
	}

	now := s.now()
	p.Mother = s.person(rec.MotherID, backend.RoleMother, members, residents, now)
	p.Father = s.person(rec.FatherID, backend.RoleFather, members, residents, now)
	for _, m := range members {
		if m.Role == backend.RoleDependent {
			p.Dependents = append(p.Dependents, personFromMember(m, now))
		}
	}
	if r, ok := profiling.ResolveRespondent(rec.RespondentID, residents, members); ok {
		p.Respondent = &r
	}
	return p, nil
}

// person resolves a parent by id, falling back to the first member holding
// the role when the record does not name one.
func (s *Service) person(id, role string, members []backend.FamilyMember, residents []backend.Resident, now time.Time) *Person {
	for _, m := range members {
		if (id != "" && m.ResidentID == id) || (id == "" && m.Role == role) {
			p := personFromMember(m, now)
			p.Role = role
			return &p
		}
	}
	if id == "" {
		return nil
	}
	for _, r := range residents {
		if r.ID == id {
			return &Person{
				ResidentID:  r.ID,
				Role:        role,
				Name:        fullName(r.LastName, r.FirstName, r.MiddleName, r.Suffix),
				Sex:         r.Sex,
				DateOfBirth: r.DateOfBirth,
				AgeBand:     profiling.AgeBandOf(r.DateOfBirth, now),
			}
		}
	}
	return &Person{ResidentID: id, Role: role}
}

func personFromMember(m backend.FamilyMember, now time.Time) Person {
	return Person{
		ResidentID:  m.ResidentID,
		Role:        m.Role,
		Name:        fullName(m.LastName, m.FirstName, m.MiddleName, m.Suffix),
		Sex:         m.Sex,
		DateOfBirth: m.DateOfBirth,
		AgeBand:     profiling.AgeBandOf(m.DateOfBirth, now),
	}
}

// fullName renders "Last, First Middle Suffix".
func fullName(last, first, middle, suffix string) string {
	given := strings.Join(strings.Fields(strings.Join([]string{first, middle, suffix}, " ")), " ")
	switch {
	case last == "":
		return given
	case given == "":
		return last
	}
	return last + ", " + given
}

// ResidentFilter narrows a resident listing. Empty fields match everything.
type ResidentFilter struct {
	Query       string
	HouseholdID string
}

// SearchResidents filters the cached resident list by a case-insensitive
// match on id or name and pages the result sorted by last then first name.
func (s *Service) SearchResidents(ctx context.Context, f ResidentFilter, limit, offset int) ([]backend.Resident, int, error) {
	all, err := s.src.FetchResidents(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load residents: %w", err)
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	var matched []backend.Resident
	for _, r := range all {
		if f.HouseholdID != "" && r.HouseholdID != f.HouseholdID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(r.ID+" "+r.LastName+" "+r.FirstName+" "+r.MiddleName), q) {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].LastName != matched[j].LastName {
			return matched[i].LastName < matched[j].LastName
		}
		return matched[i].FirstName < matched[j].FirstName
	})
	return page(matched, limit, offset), len(matched), nil
}

// HouseholdFilter narrows a household listing. Empty fields match everything.
type HouseholdFilter struct {
	Query   string
	SitioID string
}

func (s *Service) SearchHouseholds(ctx context.Context, f HouseholdFilter, limit, offset int) ([]backend.Household, int, error) {
	all, err := s.src.FetchHouseholds(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load households: %w", err)
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	var matched []backend.Household
	for _, h := range all {
		if f.SitioID != "" && h.SitioID != f.SitioID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(h.ID+" "+h.HouseholdNumber+" "+h.Address), q) {
			continue
		}
		matched = append(matched, h)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].HouseholdNumber < matched[j].HouseholdNumber })
	return page(matched, limit, offset), len(matched), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
