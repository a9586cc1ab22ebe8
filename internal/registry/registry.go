package registry

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/realtymesh/internal/config"
)

// Worker is one configured role with its resolved endpoint.
type Worker struct {
	Role       string        `json:"role"`
	URL        string        `json:"url"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
}

// Registry holds the worker fleet. The fleet can be swapped at runtime on
// config reload; callers take a Snapshot so one aggregation always sees a
// single consistent set.
type Registry struct {
	mu      sync.RWMutex
	workers []Worker
}

func New(endpoints []config.WorkerEndpoint) *Registry {
	r := &Registry{}
	r.Replace(endpoints)
	return r
}

// Replace swaps the whole fleet.
func (r *Registry) Replace(endpoints []config.WorkerEndpoint) {
	workers := make([]Worker, 0, len(endpoints))
	for _, ep := range endpoints {
		workers = append(workers, Worker{
			Role:       ep.Role,
			URL:        SanitizeURL(ep.URL),
			Timeout:    ep.Timeout,
			MaxRetries: ep.MaxRetries,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = workers
}

// Snapshot returns a copy of the fleet in configured order.
func (r *Registry) Snapshot() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.workers)
}

func (r *Registry) Get(role string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		if w.Role == role {
			return w, true
		}
	}
	return Worker{}, false
}

func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, len(r.workers))
	for i, w := range r.workers {
		roles[i] = w.Role
	}
	return roles
}

// SanitizeURL trims the address and drops any embedded whitespace, tabs or
// line breaks picked up from hand-edited config.
func SanitizeURL(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
