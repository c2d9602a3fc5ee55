package clusterstate

import (
	"testing"
	"time"

	"github.com/valkeygo/valkeygo/pkg/valkeyerrors"
	"github.com/valkeygo/valkeygo/topology"
)

func testConfig() Config {
	return Config{CircuitBreakerDuration: 30 * time.Second, RefreshInterval: 30 * time.Second, BackoffSeed: 1}
}

func sampleDescription() topology.Description {
	return topology.Description{Shards: []topology.Shard{
		{
			SlotRanges: []topology.SlotRange{{Start: 0, End: 16383}},
			Nodes: []topology.Node{
				{ID: topology.NodeID{Endpoint: "n1", Port: 7000}, Role: topology.Primary},
			},
		},
	}}
}

func TestStartsUnavailableAndArmsCircuitTimer(t *testing.T) {
	m := New(testConfig())
	if m.State() != Unavailable {
		t.Fatalf("initial state = %v", m.State())
	}
	actions := m.Start()
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %d", len(actions))
	}
	if _, ok := actions[0].(ScheduleTimer); !ok {
		t.Fatalf("expected ScheduleTimer, got %T", actions[0])
	}
}

func TestDiscoverySucceededTransitionsToHealthy(t *testing.T) {
	m := New(testConfig())
	m.Start()
	actions := m.DiscoverySucceeded(sampleDescription())
	if m.State() != Healthy {
		t.Fatalf("state = %v, want Healthy", m.State())
	}
	foundCancel, foundSchedule := false, false
	for _, a := range actions {
		switch a.(type) {
		case CancelTimer:
			foundCancel = true
		case ScheduleTimer:
			foundSchedule = true
		}
	}
	if !foundCancel || !foundSchedule {
		t.Fatalf("expected cancel+schedule actions, got %+v", actions)
	}
}

func TestDiscoveryFailedDegradesFromHealthy(t *testing.T) {
	m := New(testConfig())
	m.Start()
	m.DiscoverySucceeded(sampleDescription())
	m.DiscoveryFailed(nil)
	if m.State() != Degraded {
		t.Fatalf("state = %v, want Degraded", m.State())
	}
}

func TestCircuitBreakerTripsToUnavailableAndFailsWaiters(t *testing.T) {
	m := New(testConfig())
	m.Start()
	m.DiscoverySucceeded(sampleDescription())
	degradeActions := m.DiscoveryFailed(nil)
	var circuitTimerID uint64
	for _, a := range degradeActions {
		if st, ok := a.(ScheduleTimer); ok && st.Kind == TimerCircuitBreaker {
			circuitTimerID = st.ID
		}
	}

	waiter := make(Notifier, 1)
	m.WaitForHealthy(waiter)

	actions := m.TimerFired(circuitTimerID, TimerCircuitBreaker)
	if m.State() != Unavailable {
		t.Fatalf("state = %v, want Unavailable", m.State())
	}
	found := false
	for _, a := range actions {
		if rw, ok := a.(ResumeWaiter); ok {
			found = true
			if rw.Err == nil {
				t.Fatalf("expected circuit breaker error on waiter resume")
			}
		}
	}
	if !found {
		t.Fatalf("expected a ResumeWaiter action, got %+v", actions)
	}
}

func TestStaleTimerIgnored(t *testing.T) {
	m := New(testConfig())
	m.Start()
	actions := m.TimerFired(9999, TimerCircuitBreaker)
	if actions != nil {
		t.Fatalf("expected stale timer to be ignored, got %+v", actions)
	}
	if m.State() != Unavailable {
		t.Fatalf("state should be unaffected by stale timer")
	}
}

func TestStaleDiscoveryRetryTimerIgnored(t *testing.T) {
	m := New(testConfig())
	m.Start()
	m.BeginDiscoveryRound()
	m.DiscoveryFailed(valkeyerrors.New(valkeyerrors.KindClusterUnavailable, "boom"))

	actions := m.TimerFired(9999, TimerDiscoveryRetry)
	if actions != nil {
		t.Fatalf("expected stale discovery retry timer to be ignored, got %+v", actions)
	}
}

func TestBeginDiscoveryRoundRejectsOverlap(t *testing.T) {
	m := New(testConfig())
	if !m.BeginDiscoveryRound() {
		t.Fatalf("first BeginDiscoveryRound call should succeed")
	}
	if m.BeginDiscoveryRound() {
		t.Fatalf("BeginDiscoveryRound should refuse to start a second round while one is in flight")
	}
}

func TestBeginDiscoveryRoundAllowedAfterSuccess(t *testing.T) {
	m := New(testConfig())
	m.BeginDiscoveryRound()
	m.DiscoverySucceeded(sampleDescription())
	if !m.BeginDiscoveryRound() {
		t.Fatalf("BeginDiscoveryRound should succeed again once the prior round finished")
	}
}

func TestBeginDiscoveryRoundAllowedAfterFailure(t *testing.T) {
	m := New(testConfig())
	m.BeginDiscoveryRound()
	m.DiscoveryFailed(valkeyerrors.New(valkeyerrors.KindClusterUnavailable, "boom"))
	if !m.BeginDiscoveryRound() {
		t.Fatalf("BeginDiscoveryRound should succeed again once the failed round cleared")
	}
}

func TestWaitForHealthyResumesImmediatelyWhenHealthy(t *testing.T) {
	m := New(testConfig())
	m.Start()
	m.DiscoverySucceeded(sampleDescription())

	waiter := make(Notifier, 1)
	_, actions := m.WaitForHealthy(waiter)
	if len(actions) != 1 {
		t.Fatalf("expected immediate resume action")
	}
	rw, ok := actions[0].(ResumeWaiter)
	if !ok || rw.Err != nil {
		t.Fatalf("expected successful immediate ResumeWaiter, got %+v", actions[0])
	}
}

func TestPoolFastPathRejectsCrossShardKeys(t *testing.T) {
	m := New(testConfig())
	m.Start()
	twoShard := topology.Description{Shards: []topology.Shard{
		{SlotRanges: []topology.SlotRange{{Start: 0, End: 8191}}, Nodes: []topology.Node{{ID: topology.NodeID{Endpoint: "n1", Port: 7000}, Role: topology.Primary}}},
		{SlotRanges: []topology.SlotRange{{Start: 8192, End: 16383}}, Nodes: []topology.Node{{ID: topology.NodeID{Endpoint: "n2", Port: 7000}, Role: topology.Primary}}},
	}}
	m.DiscoverySucceeded(twoShard)

	_, err := m.PoolFastPath([]int{0, 9000})
	if err == nil {
		t.Fatalf("expected keys_require_multiple_nodes error")
	}
}

func TestPoolForRedirectUnknownNodeDegradesAndKicksDiscovery(t *testing.T) {
	m := New(testConfig())
	m.Start()
	m.DiscoverySucceeded(sampleDescription())

	waiter := make(Notifier, 1)
	result, actions := m.PoolForRedirect(Redirect{Slot: 100, Node: topology.NodeID{Endpoint: "unknown", Port: 9999}}, waiter)
	if !result.MustWait || !result.DegradeKicked {
		t.Fatalf("expected MustWait+DegradeKicked, got %+v", result)
	}
	if m.State() != Degraded {
		t.Fatalf("state = %v, want Degraded", m.State())
	}
	foundKick := false
	for _, a := range actions {
		if _, ok := a.(KickDiscovery); ok {
			foundKick = true
		}
	}
	if !foundKick {
		t.Fatalf("expected KickDiscovery action, got %+v", actions)
	}
}

func TestShutdownIsTerminalAndTearsDownClients(t *testing.T) {
	m := New(testConfig())
	m.Start()
	m.UpdateNodes(map[topology.NodeID]topology.Node{
		{Endpoint: "n1", Port: 7000}: {ID: topology.NodeID{Endpoint: "n1", Port: 7000}, Role: topology.Primary},
	}, false)

	ids, actions := m.Shutdown()
	if m.State() != Shutdown {
		t.Fatalf("state = %v, want Shutdown", m.State())
	}
	if len(ids) != 1 {
		t.Fatalf("expected one running client torn down, got %d", len(ids))
	}
	shutdownSeen := false
	for _, a := range actions {
		if _, ok := a.(ShutdownClient); ok {
			shutdownSeen = true
		}
	}
	if !shutdownSeen {
		t.Fatalf("expected ShutdownClient action, got %+v", actions)
	}

	waiter := make(Notifier, 1)
	_, postShutdown := m.WaitForHealthy(waiter)
	if len(postShutdown) != 1 {
		t.Fatalf("expected immediate failure action after shutdown")
	}
	if rw := postShutdown[0].(ResumeWaiter); rw.Err == nil {
		t.Fatalf("expected shutdown error on post-shutdown wait")
	}
}

func TestElectionReachesQuorumThroughMachine(t *testing.T) {
	m := New(testConfig())
	m.Start()
	m.BeginDiscoveryRound()

	desc := topology.Description{Shards: []topology.Shard{{
		SlotRanges: []topology.SlotRange{{Start: 0, End: 16383}},
		Nodes: []topology.Node{
			{ID: topology.NodeID{Endpoint: "n1", Port: 7000}, Role: topology.Primary},
			{ID: topology.NodeID{Endpoint: "n2", Port: 7001}, Role: topology.Replica},
			{ID: topology.NodeID{Endpoint: "n3", Port: 7002}, Role: topology.Replica},
		},
	}}}

	won, _ := m.ReceiveVote(topology.NodeID{Endpoint: "n1", Port: 7000}, desc)
	if won {
		t.Fatalf("should not win with only one of three votes")
	}
	won, actions := m.ReceiveVote(topology.NodeID{Endpoint: "n2", Port: 7001}, desc)
	if !won {
		t.Fatalf("expected quorum reached on second ballot")
	}
	if m.State() != Healthy {
		t.Fatalf("state = %v, want Healthy", m.State())
	}
	if len(actions) == 0 {
		t.Fatalf("expected DiscoverySucceeded actions returned")
	}
}
