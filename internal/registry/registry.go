// Package registry implements the Pool Registry (§4.A): a weak-reference
// membership table mapping (pool, role) to the live set of participants in
// that role, with a "closest" lookup preferring local members.
//
// Grounded on the subscriber-set pattern in
// other_examples/53aa0a42_Distortions81-M45-goPool/job_subscribe.go (a
// mutex-guarded map of live subscribers with Subscribe/Unsubscribe as
// join/leave), generalized from a single broadcast set to a
// (pool, role)-keyed table of three groups.
package registry

import (
	"math/rand"
	"sync"

	"github.com/shovelend/pond/internal/domain"
)

// Member is a weak reference to a live registry participant: an opaque ID
// plus whatever handle the caller wants to look up later (a *Producer, a
// *Monitor, etc.). The registry never owns a Member's lifecycle.
type Member struct {
	ID    string
	Value any
}

type key struct {
	pool domain.PoolID
	role domain.Role
}

var allRoles = []domain.Role{domain.RoleQueues, domain.RoleWorkerMonitors, domain.RoleWorkers}

// Registry is a single-process, in-memory implementation of the Pool
// Registry contract. It tolerates transient emptiness: lookups on an empty
// or nonexistent group return "none" rather than blocking (§4.A contract).
type Registry struct {
	mu     sync.RWMutex
	groups map[key]map[string]Member
	rngMu  sync.Mutex
	rng    *rand.Rand
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		groups: make(map[key]map[string]Member),
		rng:    rand.New(rand.NewSource(randSeed())),
	}
}

// Create brings up the three named groups for a pool (§3 invariant: every
// pool has three named groups created at startup).
func (r *Registry) Create(pool domain.PoolID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range allRoles {
		k := key{pool, role}
		if _, ok := r.groups[k]; !ok {
			r.groups[k] = make(map[string]Member)
		}
	}
}

// Delete tears down a pool's groups (§3: deleted at teardown).
func (r *Registry) Delete(pool domain.PoolID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range allRoles {
		delete(r.groups, key{pool, role})
	}
}

// Join registers a live participant under (pool, role).
func (r *Registry) Join(pool domain.PoolID, role domain.Role, member Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[key{pool, role}]
	if !ok {
		g = make(map[string]Member)
		r.groups[key{pool, role}] = g
	}
	g[member.ID] = member
}

// Leave removes a participant. Safe to call on an already-departed member.
func (r *Registry) Leave(pool domain.PoolID, role domain.Role, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[key{pool, role}]; ok {
		delete(g, id)
	}
}

// Members returns the live members of (pool, role). scope is accepted for
// contract compatibility with the (global, _) pool shape; a real
// gossip/consensus cluster backend is out of scope here (§1, §9), so
// ScopeCluster degrades to the same local view ScopeLocal returns.
func (r *Registry) Members(pool domain.PoolID, role domain.Role, scope domain.Scope) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.groups[key{pool, role}]
	out := make([]Member, 0, len(g))
	for _, m := range g {
		out = append(out, m)
	}
	return out
}

// Closest picks one member of (pool, role), preferring local participants
// over remote ones and choosing at random among equally-close members.
// Every member known to this single-node registry is local, so the
// preference is trivially satisfied; it returns (Member{}, false) if the
// group is empty or absent rather than blocking.
func (r *Registry) Closest(pool domain.PoolID, role domain.Role) (Member, bool) {
	members := r.Members(pool, role, domain.ScopeLocal)
	if len(members) == 0 {
		return Member{}, false
	}
	r.rngMu.Lock()
	idx := r.rng.Intn(len(members))
	r.rngMu.Unlock()
	return members[idx], true
}
