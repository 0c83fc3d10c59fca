package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/rowguard"
)

// ============================================================================
// IN-MEMORY POLICY REPOSITORY
// ============================================================================

// MemoryPolicyRepository keeps policy and role-assignment tuples in process
// memory. It is the default backend for tests and embedded use.
type MemoryPolicyRepository struct {
	mu          sync.RWMutex
	policies    []rowguard.Policy
	assignments []rowguard.RoleAssignment
}

func NewMemoryPolicyRepository() *MemoryPolicyRepository {
	return &MemoryPolicyRepository{}
}

func (m *MemoryPolicyRepository) AddPolicy(_ context.Context, p rowguard.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.policies {
		if existing == p {
			return nil
		}
	}
	m.policies = append(m.policies, p)
	return nil
}

func (m *MemoryPolicyRepository) RemovePolicy(_ context.Context, p rowguard.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.policies {
		if existing == p {
			m.policies = append(m.policies[:i], m.policies[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryPolicyRepository) RemoveFilteredPolicy(_ context.Context, fieldIndex int, values ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.policies[:0]
	removed := 0
	for _, p := range m.policies {
		fields := p.Fields()
		if matchFields(fields[:], fieldIndex, values) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	m.policies = kept
	return removed, nil
}

func (m *MemoryPolicyRepository) GetFilteredPolicy(_ context.Context, fieldIndex int, values ...string) ([]rowguard.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rowguard.Policy, 0)
	for _, p := range m.policies {
		fields := p.Fields()
		if matchFields(fields[:], fieldIndex, values) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryPolicyRepository) AddGroupingPolicy(_ context.Context, actor, role, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := rowguard.RoleAssignment{Actor: actor, Role: role, Domain: domain}
	for _, existing := range m.assignments {
		if existing == a {
			return nil
		}
	}
	m.assignments = append(m.assignments, a)
	return nil
}

func (m *MemoryPolicyRepository) RemoveGroupingPolicy(_ context.Context, actor, role, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := rowguard.RoleAssignment{Actor: actor, Role: role, Domain: domain}
	for i, existing := range m.assignments {
		if existing == a {
			m.assignments = append(m.assignments[:i], m.assignments[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryPolicyRepository) RemoveFilteredGroupingPolicy(_ context.Context, fieldIndex int, values ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.assignments[:0]
	removed := 0
	for _, a := range m.assignments {
		if matchFields([]string{a.Actor, a.Role, a.Domain}, fieldIndex, values) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.assignments = kept
	return removed, nil
}

func (m *MemoryPolicyRepository) GetFilteredGroupingPolicy(_ context.Context, fieldIndex int, values ...string) ([]rowguard.RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rowguard.RoleAssignment, 0)
	for _, a := range m.assignments {
		if matchFields([]string{a.Actor, a.Role, a.Domain}, fieldIndex, values) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryPolicyRepository) GetRolesForActor(_ context.Context, actor, domain string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for _, a := range m.assignments {
		if a.Actor == actor && a.Domain == domain {
			out = append(out, a.Role)
		}
	}
	return out, nil
}

func (m *MemoryPolicyRepository) GetActorsForRoleInDomain(_ context.Context, role, domain string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for _, a := range m.assignments {
		if a.Role == role && a.Domain == domain {
			out = append(out, a.Actor)
		}
	}
	return out, nil
}

func (m *MemoryPolicyRepository) Save(_ context.Context) error { return nil }

// matchFields applies a casbin-style filter: values align to fields starting at
// fieldIndex and an empty value is a wildcard.
func matchFields(fields []string, fieldIndex int, values []string) bool {
	if fieldIndex < 0 || fieldIndex+len(values) > len(fields) {
		return false
	}
	for i, v := range values {
		if v == "" {
			continue
		}
		if fields[fieldIndex+i] != v {
			return false
		}
	}
	return true
}

// ============================================================================
// IN-MEMORY LOOKUPS
// ============================================================================

// MemoryResourceMetaStore maps objects to their scoping columns. Objects
// without an entry resolve to zero metadata, meaning no ownership columns.
type MemoryResourceMetaStore struct {
	mu   sync.RWMutex
	meta map[string]rowguard.ResourceMeta
}

func NewMemoryResourceMetaStore() *MemoryResourceMetaStore {
	return &MemoryResourceMetaStore{meta: map[string]rowguard.ResourceMeta{}}
}

func (m *MemoryResourceMetaStore) Register(meta rowguard.ResourceMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[meta.Object] = meta
}

func (m *MemoryResourceMetaStore) UpsertResourceMeta(_ context.Context, meta rowguard.ResourceMeta) error {
	m.Register(meta)
	return nil
}

func (m *MemoryResourceMetaStore) ResourceMeta(_ context.Context, object string) (rowguard.ResourceMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if meta, ok := m.meta[object]; ok {
		return meta, nil
	}
	return rowguard.ResourceMeta{Object: object}, nil
}

// MemoryActorStore resolves actor identifiers to their records. Unlike
// resource metadata, a missing actor is an error: requests from unknown
// subjects must fail closed.
type MemoryActorStore struct {
	mu     sync.RWMutex
	actors map[string]rowguard.Actor
}

func NewMemoryActorStore() *MemoryActorStore {
	return &MemoryActorStore{actors: map[string]rowguard.Actor{}}
}

func (m *MemoryActorStore) Register(a rowguard.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[a.Identifier] = a
}

func (m *MemoryActorStore) ActorByIdentifier(_ context.Context, identifier string) (*rowguard.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[identifier]
	if !ok {
		return nil, fmt.Errorf("actor %q not found", identifier)
	}
	cp := a
	return &cp, nil
}

// MemoryRelationshipStore records actor-to-domain relationships with an
// optional validity window.
type MemoryRelationshipStore struct {
	mu    sync.RWMutex
	links map[relationshipKey]relationshipWindow
}

type relationshipKey struct {
	actorID int64
	domain  string
}

type relationshipWindow struct {
	from  time.Time
	until time.Time
}

func NewMemoryRelationshipStore() *MemoryRelationshipStore {
	return &MemoryRelationshipStore{links: map[relationshipKey]relationshipWindow{}}
}

// Link records a relationship. Zero times leave that side of the validity
// window open.
func (m *MemoryRelationshipStore) Link(actorID int64, domain string, from, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[relationshipKey{actorID: actorID, domain: domain}] = relationshipWindow{from: from, until: until}
}

func (m *MemoryRelationshipStore) Unlink(actorID int64, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, relationshipKey{actorID: actorID, domain: domain})
}

func (m *MemoryRelationshipStore) HasRelationship(_ context.Context, actorID int64, domain string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.links[relationshipKey{actorID: actorID, domain: domain}]
	if !ok {
		return false, nil
	}
	now := time.Now()
	if !w.from.IsZero() && now.Before(w.from) {
		return false, nil
	}
	if !w.until.IsZero() && now.After(w.until) {
		return false, nil
	}
	return true, nil
}
