// Package refcache caches the read-mostly reference collections the wizard
// derives its option lists from (households, residents, sitios, family
// records). Entries are only ever replaced whole and only invalidated after a
// backend write has been confirmed, so readers see the last known good
// snapshot.
package refcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/chis/chis/internal/backend"
	"github.com/chis/chis/internal/platform/metrics"
)

const (
	KeyHouseholds = "households"
	KeyResidents  = "residents"
	KeySitios     = "sitios"

	// lastGoodSuffix marks the copy served when the backend is down.
	lastGoodSuffix = ":lkg"
	lastGoodTTL    = 24 * time.Hour
)

func FamilyRecordKey(familyID string) string  { return "family:" + familyID }
func FamilyMembersKey(familyID string) string { return "family:" + familyID + ":members" }

// Catalog is a fetch-through cache in front of a backend.Reader. It
// satisfies backend.Reader itself.
type Catalog struct {
	store   Store
	src     backend.Reader
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

var _ backend.Reader = (*Catalog)(nil)

func NewCatalog(store Store, src backend.Reader, ttl time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Catalog {
	return &Catalog{
		store:   store,
		src:     src,
		ttl:     ttl,
		logger:  logger.With().Str("component", "refcache").Logger(),
		metrics: m,
	}
}

func (c *Catalog) FetchHouseholds(ctx context.Context) ([]backend.Household, error) {
	return fetchThrough(ctx, c, KeyHouseholds, c.src.FetchHouseholds)
}

func (c *Catalog) FetchResidents(ctx context.Context) ([]backend.Resident, error) {
	return fetchThrough(ctx, c, KeyResidents, c.src.FetchResidents)
}

func (c *Catalog) FetchSitios(ctx context.Context) ([]backend.Sitio, error) {
	return fetchThrough(ctx, c, KeySitios, c.src.FetchSitios)
}

func (c *Catalog) FetchFamilyMembers(ctx context.Context, familyID string) ([]backend.FamilyMember, error) {
	return fetchThrough(ctx, c, FamilyMembersKey(familyID), func(ctx context.Context) ([]backend.FamilyMember, error) {
		return c.src.FetchFamilyMembers(ctx, familyID)
	})
}

func (c *Catalog) FetchFamilyRecord(ctx context.Context, familyID string) (backend.FamilyRecord, error) {
	return fetchThrough(ctx, c, FamilyRecordKey(familyID), func(ctx context.Context) (backend.FamilyRecord, error) {
		return c.src.FetchFamilyRecord(ctx, familyID)
	})
}

// Invalidate drops the given collections, including their last-good copies.
// Call it only after the write that made them stale has succeeded.
func (c *Catalog) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	all := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		all = append(all, k, k+lastGoodSuffix)
	}
	if err := c.store.Delete(ctx, all...); err != nil {
		return fmt.Errorf("invalidate %s: %w", strings.Join(keys, ","), err)
	}
	return nil
}

func fetchThrough[T any](ctx context.Context, c *Catalog, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	collection := collectionLabel(key)

	if b, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, falling back to backend")
	} else if ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			c.metrics.ObserveCache(collection, "hit")
			return v, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	}

	// Concurrent misses for the same key share one backend call.
	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have filled the entry between our miss and here.
		if b, ok, err := c.store.Get(ctx, key); err == nil && ok {
			var v T
			if json.Unmarshal(b, &v) == nil {
				return v, nil
			}
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if b, mErr := json.Marshal(v); mErr == nil {
			if sErr := c.store.Set(ctx, key, b, c.ttl); sErr != nil {
				c.logger.Warn().Err(sErr).Str("key", key).Msg("cache write failed")
			}
			_ = c.store.Set(ctx, key+lastGoodSuffix, b, lastGoodTTL)
		}
		return v, nil
	})
	if err == nil {
		c.metrics.ObserveCache(collection, "miss")
		return res.(T), nil
	}

	if b, ok, gErr := c.store.Get(ctx, key+lastGoodSuffix); gErr == nil && ok {
		var v T
		if json.Unmarshal(b, &v) == nil {
			c.metrics.ObserveCache(collection, "stale")
			c.logger.Warn().Err(err).Str("key", key).Msg("backend read failed, serving last good copy")
			return v, nil
		}
	}
	c.metrics.ObserveCache(collection, "error")
	return zero, err
}

func collectionLabel(key string) string {
	switch {
	case strings.HasPrefix(key, "family:") && strings.HasSuffix(key, ":members"):
		return "family_members"
	case strings.HasPrefix(key, "family:"):
		return "family_record"
	default:
		return key
	}
}

// ReferenceData is the set of collections the wizard forms are built from.
// Errors holds one message per collection that could not be loaded; the
// collection itself is then empty and the caller runs in degraded mode.
type ReferenceData struct {
	Households []backend.Household `json:"households"`
	Residents  []backend.Resident  `json:"residents"`
	Sitios     []backend.Sitio     `json:"sitios"`
	Errors     map[string]string   `json:"errors,omitempty"`
}

// Degraded reports whether any collection failed to load.
func (r ReferenceData) Degraded() bool { return len(r.Errors) > 0 }

// Load fetches the reference collections in parallel. A failing collection
// never cancels the others.
func (c *Catalog) Load(ctx context.Context) ReferenceData {
	var (
		mu   sync.Mutex
		data = ReferenceData{
			Households: []backend.Household{},
			Residents:  []backend.Resident{},
			Sitios:     []backend.Sitio{},
		}
	)
	fail := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if data.Errors == nil {
			data.Errors = make(map[string]string)
		}
		data.Errors[name] = err.Error()
	}

	var g errgroup.Group
	g.Go(func() error {
		v, err := c.FetchHouseholds(ctx)
		if err != nil {
			fail(KeyHouseholds, err)
			return nil
		}
		mu.Lock()
		data.Households = v
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		v, err := c.FetchResidents(ctx)
		if err != nil {
			fail(KeyResidents, err)
			return nil
		}
		mu.Lock()
		data.Residents = v
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		v, err := c.FetchSitios(ctx)
		if err != nil {
			fail(KeySitios, err)
			return nil
		}
		mu.Lock()
		data.Sitios = v
		mu.Unlock()
		return nil
	})
	_ = g.Wait()
	return data
}
