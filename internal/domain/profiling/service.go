package profiling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chis/chis/internal/backend"
	"github.com/chis/chis/internal/platform/auth"
	"github.com/chis/chis/internal/platform/metrics"
	"github.com/chis/chis/internal/platform/refcache"
)

// DefaultWriteTimeout bounds a pass of backend writes once it has started.
const DefaultWriteTimeout = 2 * time.Minute

// ReferenceSource is the cached read side of the backend.
type ReferenceSource interface {
	backend.Reader
	Load(ctx context.Context) refcache.ReferenceData
}

// Service runs wizard sessions. Every operation on a session loads it, works
// on a Form and saves it back while holding that session's lock.
type Service struct {
	sessions  SessionRepository
	ref       ReferenceSource
	navigator *Navigator
	submitter *Submitter
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// writeTimeout bounds submission and registration passes, which do not
	// follow the caller's cancellation.
	writeTimeout time.Duration

	locks sync.Map // uuid.UUID -> *sync.Mutex
}

func NewService(repo SessionRepository, ref ReferenceSource, w backend.Writer, cache Invalidator,
	policy FailurePolicy, logger zerolog.Logger, m *metrics.Metrics) *Service {
	registrar := NewRegistrar(w, cache, logger, m)
	return &Service{
		sessions:     repo,
		ref:          ref,
		navigator:    NewNavigator(registrar.BeforeAdvance, m),
		submitter:    NewSubmitter(w, cache, policy, logger, m),
		logger:       logger.With().Str("component", "profiling").Logger(),
		metrics:      m,
		now:          time.Now,
		writeTimeout: DefaultWriteTimeout,
	}
}

// load fetches a session owned by the caller. Sessions of other users are
// reported as not found.
func (s *Service) load(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.CreatedBy != auth.UserIDFromContext(ctx) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// detach keeps the caller's identity and token but drops its cancellation,
// so backend writes that have started are finished and saved even when the
// client goes away.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
}

// lock must only be taken for a session that exists; Discard and a failed
// load release the entry.
func (s *Service) lock(id uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// mutate runs fn on the session's form. The session is saved when fn
// succeeds, or when it fails after a backend write may already have taken
// effect (persist set).
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(sess *Session, f *Form) (persist bool, err error)) (*Session, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	unlock := s.lock(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.locks.Delete(id)
		}
		return nil, err
	}
	f := FormFromState(sess.State, s.now)
	persist, fnErr := fn(sess, f)
	if fnErr != nil && !persist {
		return nil, fnErr
	}
	sess.State = f.Snapshot()
	sess.FamilyID = sess.State.FamilyID
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session %s: %w", id, err)
	}
	return sess, fnErr
}

// -- Lifecycle --

// Create opens a session. Continuation sessions load the family record and
// its members once, without marking the form dirty.
func (s *Service) Create(ctx context.Context, flow Flow, familyID string) (*SessionView, error) {
	f := NewForm(flow, s.now)

	if flow == FlowContinuation {
		if familyID == "" {
			return nil, ErrFamilyRequired
		}
		if err := s.prepopulate(ctx, f, familyID); err != nil {
			return nil, err
		}
	}

	sess := &Session{
		ID:        uuid.New(),
		Flow:      flow,
		CreatedBy: auth.UserIDFromContext(ctx),
		State:     f.Snapshot(),
	}
	sess.FamilyID = sess.State.FamilyID
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.metrics.SessionOpened()
	s.logger.Info().Str("session_id", sess.ID.String()).Str("flow", string(flow)).
		Str("family_id", sess.FamilyID).Msg("profiling session opened")
	return viewOf(sess), nil
}

// prepopulate loads an existing family into f once.
func (s *Service) prepopulate(ctx context.Context, f *Form, familyID string) error {
	rec, err := s.ref.FetchFamilyRecord(ctx, familyID)
	if err != nil {
		return fmt.Errorf("load family %s: %w", familyID, err)
	}
	members, err := s.ref.FetchFamilyMembers(ctx, familyID)
	if err != nil {
		return fmt.Errorf("load family %s members: %w", familyID, err)
	}
	f.Prepopulate(func(st *WizardState) { prepopulateFamily(st, rec, members) })
	return nil
}

func prepopulateFamily(st *WizardState, rec backend.FamilyRecord, members []backend.FamilyMember) {
	st.FamilyID = rec.ID
	st.Committed.Family = true
	for k, v := range map[string]string{
		"householdId":  rec.HouseholdID,
		"sitioId":      rec.SitioID,
		"familyNumber": rec.FamilyNumber,
		"income":       rec.Income,
		"religion":     rec.Religion,
		"ethnicity":    rec.Ethnicity,
	} {
		if v != "" {
			st.DemographicInfo[k] = v
		}
	}
	if rec.MotherID != "" {
		st.MotherInfo["residentId"] = rec.MotherID
	}
	if rec.FatherID != "" {
		st.FatherInfo["residentId"] = rec.FatherID
	}
	if rec.RespondentID != "" {
		st.RespondentInfo["residentId"] = rec.RespondentID
	}
	for _, m := range members {
		info := personalFromMember(m)
		switch m.Role {
		case backend.RoleMother:
			st.MotherInfo["residentId"] = m.ResidentID
			setPersonal(st.MotherInfo, info)
		case backend.RoleFather:
			st.FatherInfo["residentId"] = m.ResidentID
			setPersonal(st.FatherInfo, info)
		case backend.RoleDependent:
			st.Dependents.List = append(st.Dependents.List, DependentRecord{ID: m.ResidentID, PersonalInfo: info})
		default:
			continue
		}
		if key := compositionKey(m.Role, m.ResidentID); !st.Committed.composed(key) {
			st.Committed.Composed = append(st.Committed.Composed, key)
		}
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*SessionView, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return viewOf(sess), nil
}

// List returns the caller's own sessions, most recently updated first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*SessionView, int, error) {
	items, total, err := s.sessions.ListByUser(ctx, auth.UserIDFromContext(ctx), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	views := make([]*SessionView, 0, len(items))
	for _, it := range items {
		views = append(views, viewOf(it))
	}
	return views, total, nil
}

// Discard deletes a session. A dirty session is only discarded with force.
func (s *Service) Discard(ctx context.Context, id uuid.UUID, force bool) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	unlock := s.lock(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.locks.Delete(id)
		}
		return err
	}
	if sess.State.HasUnsavedChanges && !force {
		return ErrUnsavedChanges
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return err
	}
	s.locks.Delete(id)
	s.metrics.SessionClosed()
	s.logger.Info().Str("session_id", id.String()).Bool("forced", force).Msg("profiling session discarded")
	return nil
}

// Reset drops every entered value but keeps the session. A continuation
// session is loaded again from the family record, since its first steps are
// outside the flow.
func (s *Service) Reset(ctx context.Context, id uuid.UUID) (*SessionView, error) {
	sess, err := s.mutate(ctx, id, func(_ *Session, f *Form) (bool, error) {
		f.Discard()
		if f.Flow() != FlowContinuation {
			return false, nil
		}
		return false, s.prepopulate(ctx, f, f.Snapshot().FamilyID)
	})
	if err != nil {
		return nil, err
	}
	return viewOf(sess), nil
}

// -- Field edits --

// SetFields applies user writes atomically: if any path is rejected nothing
// is saved. Derived defaults are re-run for the written paths.
func (s *Service) SetFields(ctx context.Context, id uuid.UUID, values map[string]string) (*SessionView, error) {
	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	sess, err := s.mutate(ctx, id, func(_ *Session, f *Form) (bool, error) {
		for _, p := range paths {
			if err := f.Set(p, values[p]); err != nil {
				return false, err
			}
		}
		s.deriveDefaults(ctx, f, paths)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return viewOf(sess), nil
}

// deriveDefaults fills untouched fields that follow from the written ones.
// Reference read failures leave the defaults unset.
func (s *Service) deriveDefaults(ctx context.Context, f *Form, written []string) {
	for _, p := range written {
		if p != "demographicInfo.householdId" {
			continue
		}
		hhID, _ := f.Get(p)
		households, err := s.ref.FetchHouseholds(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("households unavailable, skipping sitio default")
			continue
		}
		for _, h := range households {
			if h.ID == hhID && h.SitioID != "" {
				f.SetDefault("demographicInfo.sitioId", h.SitioID)
			}
		}
	}
}

// PickResident selects a resident into a parent section, the respondent
// section or a working slot. Residents are looked up in the cached resident
// list, then among the family's members.
func (s *Service) PickResident(ctx context.Context, id uuid.UUID, target, residentID string) (*SessionView, error) {
	sess, err := s.mutate(ctx, id, func(_ *Session, f *Form) (bool, error) {
		residents, members := s.people(ctx, f.Snapshot().FamilyID)
		r, ok := ResolveRespondent(residentID, residents, members)
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrResidentNotFound, residentID)
		}
		return false, f.PickResident(target, r.ID, r.Info)
	})
	if err != nil {
		return nil, err
	}
	return viewOf(sess), nil
}

// people loads the lists a resident id can be resolved against. A failed
// read yields an empty list.
func (s *Service) people(ctx context.Context, familyID string) ([]backend.Resident, []backend.FamilyMember) {
	residents, err := s.ref.FetchResidents(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("residents unavailable")
	}
	var members []backend.FamilyMember
	if familyID != "" {
		if members, err = s.ref.FetchFamilyMembers(ctx, familyID); err != nil {
			s.logger.Warn().Err(err).Str("family_id", familyID).Msg("family members unavailable")
		}
	}
	return residents, members
}

func (s *Service) AddDependent(ctx context.Context, id uuid.UUID) (*SessionView, error) {
	sess, err := s.mutate(ctx, id, func(_ *Session, f *Form) (bool, error) {
		_, err := f.AddDependent()
		return false, err
	})
	if err != nil {
		return nil, err
	}
	return viewOf(sess), nil
}

func (s *Service) RemoveDependent(ctx context.Context, id uuid.UUID, residentID string) (*SessionView, error) {
	sess, err := s.mutate(ctx, id, func(_ *Session, f *Form) (bool, error) {
		return false, f.RemoveDependent(residentID)
	})
	if err != nil {
		return nil, err
	}
	return viewOf(sess), nil
}

func (s *Service) AddCondition(ctx context.Context, id uuid.UUID, category backend.Category) (*SessionView, error) {
	sess, err := s.mutate(ctx, id, func(_ *Session, f *Form) (bool, error) {
		_, err := f.AddCondition(category)
		return false, err
	})
	if err != nil {
		return nil, err
	}
	return viewOf(sess), nil
}

func (s *Service) RemoveCondition(ctx context.Context, id uuid.UUID, category backend.Category, recordID string) (*SessionView, error) {
	sess, err := s.mutate(ctx, id, func(_ *Session, f *Form) (bool, error) {
		return false, f.RemoveCondition(category, recordID)
	})
	if err != nil {
		return nil, err
	}
	return viewOf(sess), nil
}

// -- Navigation --

// Next advances one step when the current step validates. Leaving the
// dependents step of a registration persists the family first; that write
// is saved even when a later part of it fails.
func (s *Service) Next(ctx context.Context, id uuid.UUID) (*SessionView, NavResult, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	var res NavResult
	sess, err := s.mutate(ctx, id, func(_ *Session, f *Form) (bool, error) {
		var err error
		res, err = s.navigator.Next(ctx, f)
		if err != nil {
			var werr *WriteError
			return errors.As(err, &werr), err
		}
		if res.Moved && f.CurrentStep() == StepSurvey {
			f.SetDefault("surveyInfo.date", s.now().Format("2006-01-02"))
		}
		return false, nil
	})
	if err != nil {
		var werr *WriteError
		if sess != nil && errors.As(err, &werr) {
			return viewOf(sess), res, err
		}
		return nil, res, err
	}
	return viewOf(sess), res, nil
}

func (s *Service) Previous(ctx context.Context, id uuid.UUID) (*SessionView, NavResult, error) {
	var res NavResult
	sess, err := s.mutate(ctx, id, func(_ *Session, f *Form) (bool, error) {
		var err error
		res, err = s.navigator.Previous(f)
		return false, err
	})
	if err != nil {
		return nil, res, err
	}
	return viewOf(sess), res, nil
}

// -- Validation and submission --

// ValidationReport is the full-form check shown before submitting.
type ValidationReport struct {
	Result FullValidationResult `json:"result"`
	Counts map[string]int       `json:"counts"`
	Survey ValidationResult     `json:"survey"`
}

func (s *Service) Validate(ctx context.Context, id uuid.UUID) (*ValidationReport, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	r := ValidateForSubmission(sess.State)
	return &ValidationReport{
		Result: r,
		Counts: GroupErrorsByCategory(r),
		Survey: ValidateSurveyStep(sess.State.SurveyInfo),
	}, nil
}

// Submit runs a submission pass from the last step. Whatever the backend
// accepted is folded into the session and saved, including on partial
// failure, so a later pass retries only what failed. The pass and its save
// run to completion even if the caller's context is cancelled.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*SessionView, *SubmissionOutcome, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	var outcome *SubmissionOutcome
	sess, err := s.mutate(ctx, id, func(sess *Session, f *Form) (bool, error) {
		if f.CurrentStep() != f.Flow().MaxStep() {
			return false, ErrNotOnFinalStep
		}
		st := f.Snapshot()
		if v := ValidateForSubmission(st); !v.IsValid {
			return false, &SubmissionBlockedError{Result: v}
		}
		var err error
		outcome, err = s.submitter.Submit(ctx, st)
		f.applyOutcome(outcome)
		sess.LastOutcome = outcome
		return true, err
	})

	log := s.logger.With().Str("session_id", id.String()).Logger()
	if outcome != nil {
		log.Info().Bool("success", outcome.Success).Int("accepted", outcome.Accepted()).
			Int("failures", len(outcome.Failures)).Msg("submission pass finished")
	}
	if sess == nil {
		return nil, outcome, err
	}
	return viewOf(sess), outcome, err
}

// -- Derived data --

// OptionsFor lists resident options for a pick target. Residents already
// consumed as dependents or parents are filtered out where a resident
// cannot hold both roles.
func (s *Service) OptionsFor(ctx context.Context, id uuid.UUID, target string) ([]Option, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	st := sess.State

	var filters []OptionFilter
	switch target {
	case pathDependentSlot:
		filters = append(filters, ExcludeIDs(append(st.DependentIDs(), st.ParentIDs()...)...))
	case "motherInfo", "fatherInfo":
		filters = append(filters, ExcludeIDs(st.DependentIDs()...))
	case "respondentInfo", pathNCDSlot, pathTBSlot:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPath, target)
	}

	residents, err := s.ref.FetchResidents(ctx)
	if err == nil {
		return FormatResidentOptions(residents, filters...), nil
	}
	if st.FamilyID != "" {
		if members, mErr := s.ref.FetchFamilyMembers(ctx, st.FamilyID); mErr == nil {
			return FormatFamilyMemberOptions(members, filters...), nil
		}
	}
	return []Option{}, err
}

// Respondent resolves the session's respondent. ok is false while it cannot
// be resolved yet.
func (s *Service) Respondent(ctx context.Context, id uuid.UUID) (Respondent, bool, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return Respondent{}, false, err
	}
	residents, members := s.people(ctx, sess.State.FamilyID)
	r, ok := ResolveRespondent(sess.State.RespondentInfo["residentId"], residents, members)
	return r, ok, nil
}

// ConditionSlot describes the working slot of a condition category: the
// resident's age band and the condition fields currently applicable.
type ConditionSlot struct {
	Category backend.Category `json:"category"`
	Band     AgeBand          `json:"age_band"`
	Fields   []string         `json:"fields"`
	Slot     ConditionRecord  `json:"slot"`
}

func (s *Service) ConditionSlot(ctx context.Context, id uuid.UUID, category backend.Category) (*ConditionSlot, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	slot := sess.State.Conditions(category).New
	band := AgeBandOf(slot.DateOfBirth, s.now())
	return &ConditionSlot{
		Category: category,
		Band:     band,
		Fields:   ConditionFields(category, band),
		Slot:     slot,
	}, nil
}

// ReferenceData loads the option source collections in parallel. Failed
// collections come back empty with an error entry.
func (s *Service) ReferenceData(ctx context.Context) refcache.ReferenceData {
	return s.ref.Load(ctx)
}
