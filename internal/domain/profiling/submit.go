package profiling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chis/chis/internal/backend"
	"github.com/chis/chis/internal/platform/metrics"
	"github.com/chis/chis/internal/platform/refcache"
)

// FailurePolicy decides what a failed condition-record write stops.
type FailurePolicy string

const (
	// PolicyStopCategory stops the failing category only; later categories
	// and the survey are still attempted.
	PolicyStopCategory FailurePolicy = "stop-category"
	// PolicyAbortRemaining stops every write after the failing one.
	PolicyAbortRemaining FailurePolicy = "abort-remaining"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case PolicyStopCategory, PolicyAbortRemaining:
		return FailurePolicy(s), nil
	case "":
		return PolicyStopCategory, nil
	}
	return "", fmt.Errorf("unknown submission failure policy %q", s)
}

type WriteStatus string

const (
	WriteSkipped      WriteStatus = "skipped"
	WriteCommitted    WriteStatus = "committed"
	WriteFailed       WriteStatus = "failed"
	WriteNotAttempted WriteStatus = "not_attempted"
)

type RecordRef struct {
	RecordID   string `json:"record_id"`
	ResidentID string `json:"resident_id"`
}

type CategoryOutcome struct {
	Category     backend.Category `json:"category"`
	Committed    []RecordRef      `json:"committed"`
	Failed       *Failure         `json:"failed,omitempty"`
	NotAttempted []RecordRef      `json:"not_attempted"`
}

// Failure is the reportable form of a WriteError.
type Failure struct {
	Category   string `json:"category"`
	RecordID   string `json:"record_id,omitempty"`
	ResidentID string `json:"resident_id,omitempty"`
	Error      string `json:"error"`
	Retryable  bool   `json:"retryable"`
}

func failureOf(e *WriteError) Failure {
	return Failure{
		Category:   e.Category,
		RecordID:   e.RecordID,
		ResidentID: e.ResidentID,
		Error:      e.Err.Error(),
		Retryable:  e.Retryable(),
	}
}

// SubmissionOutcome reports every write of one submission pass.
type SubmissionOutcome struct {
	Environmental WriteStatus     `json:"environmental"`
	NCD           CategoryOutcome `json:"ncd"`
	TB            CategoryOutcome `json:"tb"`
	Survey        WriteStatus     `json:"survey"`
	Success       bool            `json:"success"`
	Message       string          `json:"message"`
	Warnings      []string        `json:"warnings"`
	Failures      []Failure       `json:"failures"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

func newOutcome(now time.Time) *SubmissionOutcome {
	return &SubmissionOutcome{
		Environmental: WriteSkipped,
		Survey:        WriteSkipped,
		NCD:           CategoryOutcome{Category: backend.CategoryNCD, Committed: []RecordRef{}, NotAttempted: []RecordRef{}},
		TB:            CategoryOutcome{Category: backend.CategoryTB, Committed: []RecordRef{}, NotAttempted: []RecordRef{}},
		Warnings:      []string{},
		Failures:      []Failure{},
		SubmittedAt:   now,
	}
}

func (o *SubmissionOutcome) category(c backend.Category) *CategoryOutcome {
	if c == backend.CategoryTB {
		return &o.TB
	}
	return &o.NCD
}

// Accepted counts the writes the backend accepted in this pass.
func (o *SubmissionOutcome) Accepted() int {
	n := len(o.NCD.Committed) + len(o.TB.Committed)
	if o.Environmental == WriteCommitted {
		n++
	}
	if o.Survey == WriteCommitted {
		n++
	}
	return n
}

// Invalidator drops cached reference collections after a confirmed write.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Submitter issues the write sequence of a submission pass: environmental,
// then NCD records, then TB records, then the survey identification. Writes
// are sequential and never retried automatically.
type Submitter struct {
	writer  backend.Writer
	cache   Invalidator
	policy  FailurePolicy
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSubmitter(w backend.Writer, cache Invalidator, policy FailurePolicy, logger zerolog.Logger, m *metrics.Metrics) *Submitter {
	if policy == "" {
		policy = PolicyStopCategory
	}
	return &Submitter{
		writer:  w,
		cache:   cache,
		policy:  policy,
		logger:  logger.With().Str("component", "submitter").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Submit runs one pass over the snapshot. The returned error is non-nil when
// the pass was aborted by a failed write or committed nothing; the outcome is
// always returned and describes every write either way.
func (s *Submitter) Submit(ctx context.Context, st WizardState) (*SubmissionOutcome, error) {
	out := newOutcome(s.now())
	log := s.logger.With().Str("family_id", st.FamilyID).Logger()

	var abortErr *WriteError
	abort := func(werr *WriteError) {
		abortErr = werr
		for _, cat := range []backend.Category{backend.CategoryNCD, backend.CategoryTB} {
			co := out.category(cat)
			if len(co.Committed) > 0 || co.Failed != nil {
				continue
			}
			for _, r := range st.Conditions(cat).List {
				co.NotAttempted = append(co.NotAttempted, RecordRef{RecordID: r.ID, ResidentID: r.ResidentID})
			}
		}
		if out.Survey == WriteSkipped {
			out.Survey = WriteNotAttempted
		}
	}

	// Environmental: required when present, so a failure ends the pass.
	switch payload, present := environmentalPayload(st); {
	case st.Committed.Environmental || !present:
	case payload.HouseholdID == "":
		out.Warnings = append(out.Warnings, "environmental form not submitted: no household selected")
	default:
		if err := s.write(ctx, CategoryEnvironmental, func(ctx context.Context) error {
			return s.writer.SubmitEnvironmental(ctx, payload)
		}); err != nil {
			werr := &WriteError{Category: CategoryEnvironmental, Err: err}
			out.Environmental = WriteFailed
			out.Failures = append(out.Failures, failureOf(werr))
			log.Warn().Err(err).Str("category", CategoryEnvironmental).Msg("submission write failed, aborting pass")
			abort(werr)
			return s.finish(out, abortErr), abortErr
		}
		out.Environmental = WriteCommitted
		s.invalidate(ctx, refcache.KeyHouseholds, refcache.FamilyRecordKey(st.FamilyID))
	}

	for _, cat := range []backend.Category{backend.CategoryNCD, backend.CategoryTB} {
		if abortErr != nil {
			break
		}
		co := out.category(cat)
		list := st.Conditions(cat).List
		for i, rec := range list {
			payload := conditionPayload(st, rec)
			err := s.write(ctx, categoryName(cat), func(ctx context.Context) error {
				return s.writer.SubmitConditionRecord(ctx, cat, payload)
			})
			if err != nil {
				werr := &WriteError{Category: categoryName(cat), RecordID: rec.ID, ResidentID: rec.ResidentID, Err: err}
				f := failureOf(werr)
				co.Failed = &f
				for _, rest := range list[i+1:] {
					co.NotAttempted = append(co.NotAttempted, RecordRef{RecordID: rest.ID, ResidentID: rest.ResidentID})
				}
				out.Failures = append(out.Failures, f)
				log.Warn().Err(err).
					Str("category", categoryName(cat)).
					Str("resident_id", rec.ResidentID).
					Int("not_attempted", len(list)-i-1).
					Msg("condition record write failed, stopping category")
				if s.policy == PolicyAbortRemaining {
					abort(werr)
				}
				break
			}
			co.Committed = append(co.Committed, RecordRef{RecordID: rec.ID, ResidentID: rec.ResidentID})
			s.invalidate(ctx, refcache.KeyResidents, refcache.FamilyMembersKey(st.FamilyID))
		}
	}

	if abortErr == nil {
		s.submitSurvey(ctx, st, out, log)
	}

	var err error
	switch {
	case abortErr != nil:
		err = abortErr
	case out.Accepted() == 0 && len(out.Failures) > 0:
		err = fmt.Errorf("%w: %s", ErrNothingSubmitted, out.Failures[0].Error)
	case out.Accepted() == 0:
		err = ErrNothingSubmitted
	}
	return s.finish(out, abortErr), err
}

func (s *Submitter) submitSurvey(ctx context.Context, st WizardState, out *SubmissionOutcome, log zerolog.Logger) {
	if st.Committed.Survey {
		return
	}
	if v := ValidateSurveyStep(st.SurveyInfo); !v.IsValid {
		out.Warnings = append(out.Warnings, "survey identification not submitted: "+strings.Join(v.Errors, "; "))
		return
	}
	payload := surveyPayload(st)
	if err := s.write(ctx, CategorySurvey, func(ctx context.Context) error {
		return s.writer.SubmitSurveyIdentification(ctx, payload)
	}); err != nil {
		werr := &WriteError{Category: CategorySurvey, ResidentID: payload.RespondentID, Err: err}
		out.Survey = WriteFailed
		out.Failures = append(out.Failures, failureOf(werr))
		log.Warn().Err(err).Str("category", CategorySurvey).Msg("survey identification write failed")
		return
	}
	out.Survey = WriteCommitted
	s.invalidate(ctx, refcache.FamilyRecordKey(st.FamilyID), refcache.KeyHouseholds)
}

func (s *Submitter) finish(out *SubmissionOutcome, abortErr *WriteError) *SubmissionOutcome {
	out.Success = out.Accepted() > 0
	label := "success"
	switch {
	case !out.Success:
		out.Message = ErrNothingSubmitted.Error()
		label = "nothing"
	case abortErr != nil:
		out.Message = "submission stopped after a failed write"
		label = "aborted"
	case len(out.Failures) > 0:
		out.Message = fmt.Sprintf("submitted with %d failed write(s)", len(out.Failures))
		label = "partial"
	default:
		out.Message = "submission complete"
	}
	if !out.Success && abortErr != nil {
		label = "aborted"
	}
	s.metrics.ObserveSubmission(label)
	return out
}

func (s *Submitter) write(ctx context.Context, category string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveWrite(category, err == nil, time.Since(start))
	return err
}

func (s *Submitter) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}

func environmentalPayload(st WizardState) (backend.EnvironmentalPayload, bool) {
	env := st.EnvironmentalForm
	p := backend.EnvironmentalPayload{
		HouseholdID:           st.HouseholdID(),
		WaterSupply:           strings.TrimSpace(env["waterSupply"]),
		FacilityType:          strings.TrimSpace(env["facilityType"]),
		WasteManagement:       strings.TrimSpace(env["wasteManagement"]),
		WasteManagementOthers: strings.TrimSpace(env["wasteManagementOthers"]),
	}
	present := p.WaterSupply != "" || p.FacilityType != "" || p.WasteManagement != "" || p.WasteManagementOthers != ""
	return p, present
}

func conditionPayload(st WizardState, rec ConditionRecord) backend.ConditionPayload {
	conds := make(map[string]string, len(rec.Conditions))
	for k, v := range rec.Conditions {
		if !blank(v) {
			conds[k] = v
		}
	}
	return backend.ConditionPayload{
		ResidentID:  rec.ResidentID,
		FamilyID:    st.FamilyID,
		LastName:    rec.LastName,
		FirstName:   rec.FirstName,
		MiddleName:  rec.MiddleName,
		Suffix:      rec.Suffix,
		Sex:         rec.Sex,
		DateOfBirth: rec.DateOfBirth,
		Conditions:  conds,
	}
}

func surveyPayload(st WizardState) backend.SurveyPayload {
	return backend.SurveyPayload{
		FamilyID:     st.FamilyID,
		HouseholdID:  st.HouseholdID(),
		RespondentID: st.RespondentInfo["residentId"],
		Informant:    strings.TrimSpace(st.SurveyInfo["informant"]),
		CheckedBy:    strings.TrimSpace(st.SurveyInfo["checkedBy"]),
		SurveyDate:   strings.TrimSpace(st.SurveyInfo["date"]),
		Remarks:      strings.TrimSpace(st.SurveyInfo["remarks"]),
	}
}
