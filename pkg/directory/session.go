// pkg/directory/session.go
package directory

import "sync"

// Session carries the state that outlives a single reconciliation call:
// the sticky dynamic-group set and the per-domain cached record sets. One
// Session spans one CLI invocation.
type Session struct {
	mu      sync.Mutex
	dynamic map[string]struct{}
	cache   map[string]any
}

func NewSession() *Session {
	return &Session{
		dynamic: make(map[string]struct{}),
		cache:   make(map[string]any),
	}
}

// MarkDynamic registers a group as rule-managed. The flag is sticky: once
// set it survives domain cache resets, so mutation attempts later in the
// session are still refused.
func (s *Session) MarkDynamic(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dynamic[groupID] = struct{}{}
}

// IsDynamic reports whether the group was ever observed with a
// dynamic-membership group type this session.
func (s *Session) IsDynamic(groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dynamic[groupID]
	return ok
}

// Store replaces the cached record set for a domain wholesale.
func (s *Session) Store(domain string, records any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[domain] = records
}

// Cached returns the last stored record set for a domain.
func (s *Session) Cached(domain string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[domain]
	return v, ok
}

// Reset drops the cached record sets for the named domains. The dynamic
// set is left intact.
func (s *Session) Reset(domains ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range domains {
		delete(s.cache, d)
	}
}

// ResetAll clears every cached record set and the dynamic-group set.
// Used when the session moves to an unrelated target, such as a fresh
// group search.
func (s *Session) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]any)
	s.dynamic = make(map[string]struct{})
}
