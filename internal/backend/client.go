// Package backend is the client for the community-health records REST
// backend. Reads return canonical shapes (see normalize.go); writes return an
// error only, since the wizard never depends on write response bodies except
// for family creation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/chis/chis/internal/platform/auth"
)

var (
	ErrNotFound    = errors.New("backend: not found")
	ErrUnavailable = errors.New("backend: unavailable")
)

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Unwrap maps 5xx responses onto ErrUnavailable so callers can treat them as
// retryable without inspecting codes.
func (e *StatusError) Unwrap() error {
	if e.Code >= 500 {
		return ErrUnavailable
	}
	return nil
}

// Reader is the read-only half of the backend used for reference data.
type Reader interface {
	FetchHouseholds(ctx context.Context) ([]Household, error)
	FetchResidents(ctx context.Context) ([]Resident, error)
	FetchSitios(ctx context.Context) ([]Sitio, error)
	FetchFamilyMembers(ctx context.Context, familyID string) ([]FamilyMember, error)
	FetchFamilyRecord(ctx context.Context, familyID string) (FamilyRecord, error)
}

// Writer is the write half used by submission and registration.
type Writer interface {
	SubmitEnvironmental(ctx context.Context, p EnvironmentalPayload) error
	SubmitConditionRecord(ctx context.Context, category Category, p ConditionPayload) error
	SubmitSurveyIdentification(ctx context.Context, p SurveyPayload) error
	CreateFamily(ctx context.Context, d FamilyDemographics) (FamilyRecord, error)
	CreateFamilyComposition(ctx context.Context, familyID string, entries []CompositionEntry) ([]CompositionResult, error)
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "backend").Logger(),
	}
}

func (c *Client) FetchHouseholds(ctx context.Context) ([]Household, error) {
	objs, err := c.getList(ctx, "/households")
	if err != nil {
		return nil, err
	}
	out := make([]Household, 0, len(objs))
	for _, o := range objs {
		out = append(out, normalizeHousehold(o))
	}
	return out, nil
}

func (c *Client) FetchResidents(ctx context.Context) ([]Resident, error) {
	objs, err := c.getList(ctx, "/residents")
	if err != nil {
		return nil, err
	}
	out := make([]Resident, 0, len(objs))
	for _, o := range objs {
		out = append(out, normalizeResident(o))
	}
	return out, nil
}

func (c *Client) FetchSitios(ctx context.Context) ([]Sitio, error) {
	objs, err := c.getList(ctx, "/sitios")
	if err != nil {
		return nil, err
	}
	out := make([]Sitio, 0, len(objs))
	for _, o := range objs {
		out = append(out, normalizeSitio(o))
	}
	return out, nil
}

func (c *Client) FetchFamilyMembers(ctx context.Context, familyID string) ([]FamilyMember, error) {
	objs, err := c.getList(ctx, "/families/"+url.PathEscape(familyID)+"/members")
	if err != nil {
		return nil, err
	}
	out := make([]FamilyMember, 0, len(objs))
	for _, o := range objs {
		out = append(out, normalizeFamilyMember(o, familyID))
	}
	return out, nil
}

func (c *Client) FetchFamilyRecord(ctx context.Context, familyID string) (FamilyRecord, error) {
	body, err := c.do(ctx, http.MethodGet, "/families/"+url.PathEscape(familyID), nil)
	if err != nil {
		return FamilyRecord{}, err
	}
	obj, err := decodeObject(body)
	if err != nil {
		return FamilyRecord{}, err
	}
	rec := normalizeFamilyRecord(obj)
	if rec.ID == "" {
		rec.ID = familyID
	}
	return rec, nil
}

func (c *Client) SubmitEnvironmental(ctx context.Context, p EnvironmentalPayload) error {
	_, err := c.do(ctx, http.MethodPost, "/households/"+url.PathEscape(p.HouseholdID)+"/environmental", p)
	return err
}

func (c *Client) SubmitConditionRecord(ctx context.Context, category Category, p ConditionPayload) error {
	var path string
	switch category {
	case CategoryNCD:
		path = "/ncd-records"
	case CategoryTB:
		path = "/tb-records"
	default:
		return fmt.Errorf("backend: unknown condition category %q", category)
	}
	_, err := c.do(ctx, http.MethodPost, path, p)
	return err
}

func (c *Client) SubmitSurveyIdentification(ctx context.Context, p SurveyPayload) error {
	_, err := c.do(ctx, http.MethodPost, "/survey-identification", p)
	return err
}

func (c *Client) CreateFamily(ctx context.Context, d FamilyDemographics) (FamilyRecord, error) {
	body, err := c.do(ctx, http.MethodPost, "/families", d)
	if err != nil {
		return FamilyRecord{}, err
	}
	obj, err := decodeObject(body)
	if err != nil {
		return FamilyRecord{}, err
	}
	rec := normalizeFamilyRecord(obj)
	if rec.ID == "" {
		return FamilyRecord{}, fmt.Errorf("backend: create family response carries no id")
	}
	if rec.HouseholdID == "" {
		rec.HouseholdID = d.HouseholdID
	}
	return rec, nil
}

// CreateFamilyComposition posts one row per entry. Rows are independent on the
// backend, so a failed row is reported in its result and the rest still go out.
func (c *Client) CreateFamilyComposition(ctx context.Context, familyID string, entries []CompositionEntry) ([]CompositionResult, error) {
	path := "/families/" + url.PathEscape(familyID) + "/composition"
	results := make([]CompositionResult, 0, len(entries))
	var failed int
	for _, e := range entries {
		r := CompositionResult{ResidentID: e.ResidentID, Role: e.Role, OK: true}
		if _, err := c.do(ctx, http.MethodPost, path, e); err != nil {
			r.OK = false
			r.Error = err.Error()
			failed++
		}
		results = append(results, r)
	}
	if failed > 0 {
		return results, fmt.Errorf("backend: %d of %d composition rows failed", failed, len(entries))
	}
	return results, nil
}

func (c *Client) getList(ctx context.Context, path string) ([]raw, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeObjects(body)
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("backend: encode %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := auth.TokenFromContext(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		req.Header.Set("X-User-ID", uid)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("backend call failed")
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", ErrUnavailable, method, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend call")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: msg}
	}
	return body, nil
}
