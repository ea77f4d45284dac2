// Copyright 2026 The Bastion Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package authz

import (
	"sync"
	"time"
)

// grantSet is the resolved permission set of one user.
type grantSet struct {
	superAdmin  bool
	roles       []string
	permissions map[string]struct{}
}

func (g *grantSet) has(permission string) bool {
	if g.superAdmin {
		return true
	}
	_, ok := g.permissions[permission]
	return ok
}

type cacheEntry struct {
	grants    *grantSet
	expiresAt time.Time
}

// grantCache caches resolved grant sets per user. Entries expire after ttl
// and are dropped eagerly when role or assignment data changes.
type grantCache struct {
	ttl        time.Duration
	mu         sync.RWMutex
	items      map[string]cacheEntry
	generation uint64
	now        func() time.Time
}

func newGrantCache(ttl time.Duration) *grantCache {
	return &grantCache{
		ttl:   ttl,
		items: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

func (c *grantCache) get(userID string) (*grantSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[userID]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.grants, true
}

// currentGeneration is read before a load starts so that a load racing with
// an invalidation is not stored.
func (c *grantCache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *grantCache) set(userID string, g *grantSet, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return
	}
	c.items[userID] = cacheEntry{grants: g, expiresAt: c.now().Add(c.ttl)}
}

func (c *grantCache) invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, userID)
	c.generation++
}

func (c *grantCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]cacheEntry)
	c.generation++
}
