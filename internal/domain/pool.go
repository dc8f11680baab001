package domain

import "fmt"

// Role identifies one of a pool's three named member groups (§3).
type Role string

const (
	RoleQueues         Role = "queues"
	RoleWorkerMonitors Role = "worker_monitors"
	RoleWorkers        Role = "workers"
)

// PoolID identifies a pool either by a local name or a (global, name) pair.
// The zero value is not a valid pool identifier.
type PoolID struct {
	Name   string
	Global bool
}

// Local builds a single-node pool identifier.
func Local(name string) PoolID { return PoolID{Name: name} }

// GlobalPool builds a (global, name) pool identifier addressable cluster-wide.
func GlobalPool(name string) PoolID { return PoolID{Name: name, Global: true} }

func (p PoolID) String() string {
	if p.Global {
		return fmt.Sprintf("global:%s", p.Name)
	}
	return p.Name
}

// Scope selects whether a registry lookup considers only this node's
// membership or the whole cluster.
type Scope int

const (
	ScopeLocal Scope = iota
	ScopeCluster
)
