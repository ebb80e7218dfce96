// Package selector resolves human-readable step targets to concrete DOM
// selectors, with an outcome-biased cache in front of model resolution.
package selector

import (
	"fmt"
	"strings"
	"sync"
)

// SmartDriver caches resolved selectors keyed by tenant, target
// description, and page host. Outcomes bias the cache: successes reinforce
// an entry, failures count against it until eviction.
type SmartDriver struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	selector  string
	successes int
	failures  int
}

// failureEvictionThreshold evicts an entry once failures outweigh
// successes by this margin.
const failureEvictionThreshold = 2

func NewSmartDriver() *SmartDriver {
	return &SmartDriver{entries: make(map[string]*cacheEntry)}
}

func cacheKey(tenantID, description, host string) string {
	return fmt.Sprintf("%s|%s|%s", tenantID, strings.ToLower(strings.TrimSpace(description)), host)
}

// Lookup returns the cached selector for a target description, if any.
func (d *SmartDriver) Lookup(tenantID, description, host string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[cacheKey(tenantID, description, host)]
	if !ok {
		return "", false
	}
	return e.selector, true
}

// Store records a freshly resolved selector.
func (d *SmartDriver) Store(tenantID, description, host, selector string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[cacheKey(tenantID, description, host)] = &cacheEntry{selector: selector}
}

// RecordOutcome biases the cache by execution result. An entry whose
// failures exceed its successes by the eviction threshold is dropped, so
// the next resolution goes back to the model.
func (d *SmartDriver) RecordOutcome(tenantID, description, host string, success bool) {
	key := cacheKey(tenantID, description, host)
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok {
		return
	}
	if success {
		e.successes++
		return
	}
	e.failures++
	if e.failures-e.successes >= failureEvictionThreshold {
		delete(d.entries, key)
	}
}

// Len returns the number of cached entries.
func (d *SmartDriver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
