// Copyright 2026 The forkpilot Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache is a generic read-through cache with per-category TTLs and
// negative-result caching. It backs discovery and metadata lookups.
//
// Cache entries never contain credentials: the category set is fixed to
// discovery/metadata data and constructing any other category panics.
package cache

import (
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/forkpilot/forkpilot/internal/errors"
)

// Category is one logical cache table.
type Category string

const (
	// Discovery caches org -> repository list lookups.
	Discovery Category = "discovery"
	// Metadata caches repository -> ref SHAs / secondary-host status.
	Metadata Category = "metadata"
)

var categories = []Category{Discovery, Metadata}

// entry is the stored representation: an opaque JSON payload plus the
// freshness metadata the validity check runs against.
type entry struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	TTL       time.Duration   `json:"ttl"`
	Negative  bool            `json:"negative,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Options configure a Cache.
type Options struct {
	// TTL per category; entries default to it unless Put overrides.
	DiscoveryTTL time.Duration
	MetadataTTL  time.Duration
	// NegativeTTL is the (shorter) lifetime of not-found entries.
	NegativeTTL time.Duration
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Cache is safe for concurrent use by all repository workers of one run.
type Cache struct {
	stores map[Category]*gocache.Cache
	ttls   map[Category]time.Duration
	negTTL time.Duration
	now    func() time.Time
}

// Hit describes the result of a Get.
type Hit struct {
	// Found is true when a fresh entry exists, negative or not.
	Found bool
	// Negative is true when the fresh entry records "not found".
	Negative bool
}

// New builds a Cache with one backing store per category. The backing store
// evicts at twice the logical TTL as a safety net; freshness is decided by
// the entry's own fetchedAt/ttl pair so that expiry is exact.
func New(opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ttls := map[Category]time.Duration{
		Discovery: opts.DiscoveryTTL,
		Metadata:  opts.MetadataTTL,
	}
	stores := make(map[Category]*gocache.Cache, len(categories))
	for _, cat := range categories {
		stores[cat] = gocache.New(2*ttls[cat], 10*time.Minute)
	}
	return &Cache{
		stores: stores,
		ttls:   ttls,
		negTTL: opts.NegativeTTL,
		now:    opts.Now,
	}
}

func (c *Cache) store(cat Category) *gocache.Cache {
	s, ok := c.stores[cat]
	if !ok {
		// Restricting categories is how the no-credentials invariant is
		// enforced; an unknown category is a programming error.
		panic("cache: unknown category " + string(cat))
	}
	return s
}

// Get looks up key in the category and, on a fresh positive hit, unmarshals
// the stored payload into out (which may be nil to probe existence only).
// Expired entries are treated as misses and evicted; an unparseable stored
// value is a miss, not a fatal error.
func (c *Cache) Get(cat Category, key string, out interface{}) Hit {
	s := c.store(cat)
	raw, ok := s.Get(key)
	if !ok {
		return Hit{}
	}
	e, ok := raw.(entry)
	if !ok {
		s.Delete(key)
		return Hit{}
	}
	if c.now().Sub(e.FetchedAt) >= e.TTL {
		s.Delete(key)
		return Hit{}
	}
	if e.Negative {
		return Hit{Found: true, Negative: true}
	}
	if out != nil {
		if err := json.Unmarshal(e.Payload, out); err != nil {
			// Corrupt payload: drop it and report a miss.
			s.Delete(key)
			return Hit{}
		}
	}
	return Hit{Found: true}
}

// Put stores value under (category, key) with the category's TTL.
func (c *Cache) Put(cat Category, key string, value interface{}) error {
	const op errors.Op = "cache.Put"
	payload, err := json.Marshal(value)
	if err != nil {
		return errors.E(op, errors.Internal, err)
	}
	c.store(cat).Set(key, entry{
		FetchedAt: c.now(),
		TTL:       c.ttls[cat],
		Payload:   payload,
	}, gocache.DefaultExpiration)
	return nil
}

// PutNegative records "not found" for (category, key) with the negative TTL,
// so known-missing repositories are not re-probed every run.
func (c *Cache) PutNegative(cat Category, key string) {
	c.store(cat).Set(key, entry{
		FetchedAt: c.now(),
		TTL:       c.negTTL,
		Negative:  true,
	}, gocache.DefaultExpiration)
}

// Invalidate drops one key from a category.
func (c *Cache) Invalidate(cat Category, key string) {
	c.store(cat).Delete(key)
}

// InvalidateCategory drops every entry of one category.
func (c *Cache) InvalidateCategory(cat Category) {
	c.store(cat).Flush()
}

// Clear invalidates all categories unconditionally. Bound to the external
// clear_cache trigger, which runs before a run begins.
func (c *Cache) Clear() {
	for _, cat := range categories {
		c.stores[cat].Flush()
	}
}
