package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/registry"
)

func TestCreateDeleteRoundTrip(t *testing.T) {
	r := registry.New()
	pool := domain.Local("p1")

	r.Create(pool)
	_, ok := r.Closest(pool, domain.RoleQueues)
	require.False(t, ok, "freshly created pool should have no members yet")

	r.Join(pool, domain.RoleQueues, registry.Member{ID: "q1", Value: "queue-handle"})
	m, ok := r.Closest(pool, domain.RoleQueues)
	require.True(t, ok)
	require.Equal(t, "q1", m.ID)

	r.Delete(pool)
	_, ok = r.Closest(pool, domain.RoleQueues)
	require.False(t, ok, "deleted pool's groups should be gone")
}

func TestClosestOnEmptyGroupReturnsNoneNotBlock(t *testing.T) {
	r := registry.New()
	pool := domain.Local("p2")
	// Never created: contract says lookups tolerate transient emptiness.
	_, ok := r.Closest(pool, domain.RoleWorkerMonitors)
	require.False(t, ok)
}

func TestClosestDistributesAmongEquals(t *testing.T) {
	r := registry.New()
	pool := domain.Local("p3")
	r.Create(pool)
	r.Join(pool, domain.RoleQueues, registry.Member{ID: "a"})
	r.Join(pool, domain.RoleQueues, registry.Member{ID: "b"})
	r.Join(pool, domain.RoleQueues, registry.Member{ID: "c"})

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		m, ok := r.Closest(pool, domain.RoleQueues)
		require.True(t, ok)
		seen[m.ID] = true
	}
	require.Len(t, seen, 3, "expected random selection to eventually cover all equally-close members")
}

func TestJoinLeave(t *testing.T) {
	r := registry.New()
	pool := domain.Local("p4")
	r.Create(pool)
	r.Join(pool, domain.RoleWorkers, registry.Member{ID: "w1"})
	require.Len(t, r.Members(pool, domain.RoleWorkers, domain.ScopeLocal), 1)

	r.Leave(pool, domain.RoleWorkers, "w1")
	require.Len(t, r.Members(pool, domain.RoleWorkers, domain.ScopeLocal), 0)

	// Leaving a member that never joined is a no-op, not an error.
	r.Leave(pool, domain.RoleWorkers, "ghost")
}

func TestClusterScopeDegradesToLocal(t *testing.T) {
	r := registry.New()
	pool := domain.GlobalPool("p5")
	r.Create(pool)
	r.Join(pool, domain.RoleQueues, registry.Member{ID: "q1"})

	local := r.Members(pool, domain.RoleQueues, domain.ScopeLocal)
	cluster := r.Members(pool, domain.RoleQueues, domain.ScopeCluster)
	require.Equal(t, len(local), len(cluster))
}
