package orchestrator

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var nameFolder = cases.Fold()

// canonicalName normalizes a session name for uniqueness checks: Unicode
// NFC, case folded, surrounding whitespace trimmed.
func canonicalName(name string) string {
	return nameFolder.String(norm.NFC.String(strings.TrimSpace(name)))
}

// Registry indexes sessions by id and by canonicalized name. Name uniqueness
// is enforced across live registrations and in-flight reservations.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byName   map[string]*Session
	reserved map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Session),
		byName:   make(map[string]*Session),
		reserved: make(map[string]struct{}),
	}
}

// Reserve claims a name while session creation is in flight. The returned
// release func frees the claim and is safe to call more than once; it is a
// no-op after the name has been registered.
func (r *Registry) Reserve(name string) (func(), error) {
	key := canonicalName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[key]; ok {
		return nil, ErrDuplicateName
	}
	if _, ok := r.reserved[key]; ok {
		return nil, ErrDuplicateName
	}
	r.reserved[key] = struct{}{}
	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.reserved, key)
			r.mu.Unlock()
		})
	}
	return release, nil
}

// Register adds the session, consuming any reservation held for its name.
func (r *Registry) Register(s *Session) error {
	key := canonicalName(s.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[key]; ok {
		return ErrDuplicateName
	}
	if _, ok := r.byID[s.ID()]; ok {
		return ErrDuplicateName
	}
	delete(r.reserved, key)
	r.byID[s.ID()] = s
	r.byName[key] = s
	return nil
}

func (r *Registry) ByID(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) ByName(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[canonicalName(name)]
	return s, ok
}

// Lookup resolves either a session id or a session name.
func (r *Registry) Lookup(ref string) (*Session, bool) {
	if s, ok := r.ByID(ref); ok {
		return s, true
	}
	return r.ByName(ref)
}

// List returns all sessions ordered by creation time, then id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byName, canonicalName(s.Name()))
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
