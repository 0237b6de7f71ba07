package profile

import (
	"context"
	"sync"
)

// StaticSource serves profiles from an in-memory map. It is the
// development and test stand-in for a real directory.
type StaticSource struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewStaticSource creates a source with the given profiles, keyed by ID.
func NewStaticSource(profiles ...*Profile) *StaticSource {
	m := make(map[string]*Profile, len(profiles))
	for _, p := range profiles {
		m[p.ID] = p
	}
	return &StaticSource{profiles: m}
}

// NewDevSource returns a static source with one canned profile, useful
// for trying the agent without any directory configured.
func NewDevSource() *StaticSource {
	return NewStaticSource(&Profile{
		ID:        "default",
		FirstName: "Sam",
		LastName:  "Porter",
		Email:     "sam@example.net",
		Phones:    []Phone{{Type: "cell", Number: "+1-555-0142"}},
	})
}

// Add registers or replaces a profile.
func (s *StaticSource) Add(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// GetProfile returns the profile for clientID, or nil if unknown.
func (s *StaticSource) GetProfile(ctx context.Context, clientID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[clientID]
	if !ok {
		return nil, nil
	}
	// Copy so callers cannot mutate the stored record.
	cp := *p
	return &cp, nil
}
