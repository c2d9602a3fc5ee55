// Package clusterstate implements the cluster coordinator state machine
// (§4.5): a single mutex-guarded mutator whose transitions are pure
// functions from (state, event) to (new state, actions). Callers execute
// the returned actions after releasing the mutex — no suspension ever
// happens while the lock is held.
package clusterstate

import (
	"math/rand"
	"sync"
	"time"

	"github.com/valkeygo/valkeygo/election"
	"github.com/valkeygo/valkeygo/internal/backoff"
	"github.com/valkeygo/valkeygo/pkg/valkeyerrors"
	"github.com/valkeygo/valkeygo/topology"
)

// Kind names which of the four states (§3) the machine currently occupies.
type Kind int

const (
	Unavailable Kind = iota
	Degraded
	Healthy
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Degraded:
		return "degraded"
	case Healthy:
		return "healthy"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// TimerKind distinguishes the three timer families the machine schedules.
type TimerKind int

const (
	TimerDiscoveryRetry TimerKind = iota
	TimerRefresh
	TimerCircuitBreaker
)

// WaiterID keys a parked wait_for_healthy caller.
type WaiterID uint64

// Notifier is the one-shot channel a parked waiter listens on; nil error
// means "proceed", non-nil means "fail with this error".
type Notifier chan error

// Action is data describing a side effect the machine wants performed
// after its mutex is released. The runtime type-switches on these.
type Action interface{ isAction() }

type SpawnClient struct {
	ID   topology.NodeID
	Node topology.Node
}

type ShutdownClient struct {
	ID topology.NodeID
}

type ScheduleTimer struct {
	ID    uint64
	Kind  TimerKind
	After time.Duration
}

type CancelTimer struct {
	ID uint64
}

type ResumeWaiter struct {
	Notifier Notifier
	Err      error
}

type KickDiscovery struct{}

func (SpawnClient) isAction()    {}
func (ShutdownClient) isAction() {}
func (ScheduleTimer) isAction()  {}
func (CancelTimer) isAction()    {}
func (ResumeWaiter) isAction()   {}
func (KickDiscovery) isAction()  {}

// Config bounds the machine's timers (§5).
type Config struct {
	CircuitBreakerDuration time.Duration
	RefreshInterval        time.Duration
	BackoffSeed            int64
}

// DefaultConfig matches §5's stated defaults.
func DefaultConfig() Config {
	return Config{
		CircuitBreakerDuration: 30 * time.Second,
		RefreshInterval:        30 * time.Second,
		BackoffSeed:            time.Now().UnixNano(),
	}
}

type waiterSet map[WaiterID]Notifier

// Machine is the cluster coordinator state machine. All exported methods
// are synchronous, take the internal mutex, and return actions for the
// caller to run outside the lock — mirroring §5's "no suspension inside
// the state-machine mutex" rule.
type Machine struct {
	mu sync.Mutex

	state Kind

	waiters        waiterSet
	circuitTimerID uint64
	lastError      error
	startInstant   time.Time

	slotMap          *topology.SlotMap
	description      topology.Description
	consensusInstant time.Time
	lastHealthy      time.Time

	clients     map[topology.NodeID]topology.Node // last known description of each running client
	election    *election.Election
	discovering bool // a runDiscovery round is in flight; guards against BeginDiscoveryRound overlap

	nextWaiterID     uint64
	nextTimerID      uint64
	discoveryAttempt int
	refreshTimerID   uint64
	retryTimerID     uint64

	cfg Config
	bo  *backoff.Backoff
}

// New constructs a Machine in Unavailable, per §3's lifecycle.
func New(cfg Config) *Machine {
	return &Machine{
		state:   Unavailable,
		waiters: make(waiterSet),
		clients: make(map[topology.NodeID]topology.Node),
		cfg:     cfg,
		bo:      backoff.New(cfg.BackoffSeed),
	}
}

// State reports the current coarse state, for observability.
func (m *Machine) State() Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) nextTimer() uint64 {
	m.nextTimerID++
	return m.nextTimerID
}

// Start begins the machine's life: it arms the circuit-breaker timer
// immediately since Unavailable has no topology yet.
func (m *Machine) Start() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startInstant = time.Now()
	m.circuitTimerID = m.nextTimer()
	return []Action{ScheduleTimer{ID: m.circuitTimerID, Kind: TimerCircuitBreaker, After: m.cfg.CircuitBreakerDuration}}
}

// UpdateNodes reconciles the running-client table against a freshly
// discovered set of node descriptions (§4.5 update_nodes). When
// removeUnmentioned is true, any currently running client absent from
// discovered is scheduled for graceful shutdown.
func (m *Machine) UpdateNodes(discovered map[topology.NodeID]topology.Node, removeUnmentioned bool) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []Action
	for id, n := range discovered {
		old, running := m.clients[id]
		switch {
		case !running:
			actions = append(actions, SpawnClient{ID: id, Node: n})
		case old.UseTLS != n.UseTLS || old.TLSPort != n.TLSPort:
			actions = append(actions, ShutdownClient{ID: id}, SpawnClient{ID: id, Node: n})
		}
		m.clients[id] = n
	}
	if removeUnmentioned {
		for id := range m.clients {
			if _, ok := discovered[id]; !ok {
				actions = append(actions, ShutdownClient{ID: id})
				delete(m.clients, id)
			}
		}
	}
	return actions
}

// DiscoverySucceeded rebuilds the slot map from description, transitions
// to Healthy, cancels any circuit timer, schedules the next refresh, and
// resumes every parked waiter.
func (m *Machine) DiscoverySucceeded(description topology.Description) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []Action
	if m.circuitTimerID != 0 {
		actions = append(actions, CancelTimer{ID: m.circuitTimerID})
		m.circuitTimerID = 0
	}

	m.state = Healthy
	m.description = description
	m.slotMap = topology.NewSlotMap(description)
	m.consensusInstant = time.Now()
	m.lastHealthy = m.consensusInstant
	m.lastError = nil
	m.discoveryAttempt = 0
	m.retryTimerID = 0
	m.discovering = false

	m.refreshTimerID = m.nextTimer()
	actions = append(actions, ScheduleTimer{ID: m.refreshTimerID, Kind: TimerRefresh, After: m.cfg.RefreshInterval})

	actions = append(actions, m.resumeAllWaitersLocked(nil)...)
	return actions
}

// DiscoveryFailed handles a failed refresh/discovery round (§4.5): from
// Healthy it degrades and arms a circuit timer; from Degraded/Unavailable
// it just records the error. A retry timer with jittered exponential
// backoff is always scheduled.
func (m *Machine) DiscoveryFailed(err error) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []Action
	m.lastError = err
	m.discovering = false
	if m.state == Healthy {
		m.state = Degraded
		m.circuitTimerID = m.nextTimer()
		actions = append(actions, ScheduleTimer{ID: m.circuitTimerID, Kind: TimerCircuitBreaker, After: m.cfg.CircuitBreakerDuration})
	}

	m.discoveryAttempt++
	m.retryTimerID = m.nextTimer()
	actions = append(actions, ScheduleTimer{ID: m.retryTimerID, Kind: TimerDiscoveryRetry, After: m.bo.Duration(m.discoveryAttempt)})
	return actions
}

// TimerFired handles a fired timer, ignoring stale ids that no longer
// match the state the machine has moved on to.
func (m *Machine) TimerFired(id uint64, kind TimerKind) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch kind {
	case TimerDiscoveryRetry:
		if id != m.retryTimerID {
			return nil
		}
		return []Action{KickDiscovery{}}
	case TimerRefresh:
		if id != m.refreshTimerID {
			return nil
		}
		return []Action{KickDiscovery{}}
	case TimerCircuitBreaker:
		if id != m.circuitTimerID {
			return nil
		}
		return m.tripCircuitBreakerLocked()
	}
	return nil
}

func (m *Machine) tripCircuitBreakerLocked() []Action {
	err := valkeyerrors.New(valkeyerrors.KindCircuitBreakerOpen, "no consensus reached before circuit breaker timer expired")
	m.state = Unavailable
	m.lastError = err
	m.circuitTimerID = 0
	return m.resumeAllWaitersLocked(err)
}

func (m *Machine) resumeAllWaitersLocked(err error) []Action {
	actions := make([]Action, 0, len(m.waiters))
	for id, n := range m.waiters {
		actions = append(actions, ResumeWaiter{Notifier: n, Err: err})
		delete(m.waiters, id)
	}
	return actions
}

// PoolFastPath returns the node-id owning every slot in slots, per §4.5:
// all supplied slots must agree on one shard, or
// keys_require_multiple_nodes is returned. Zero slots select a random
// shard's primary, which callers use for keyless commands.
func (m *Machine) PoolFastPath(slots []int) (topology.NodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Shutdown {
		return topology.NodeID{}, valkeyerrors.New(valkeyerrors.KindClientShutDown, "cluster client is shut down")
	}
	if m.slotMap == nil {
		return topology.NodeID{}, valkeyerrors.New(valkeyerrors.KindClusterUnavailable, "no topology available")
	}

	if len(slots) == 0 {
		n := len(m.slotMap.Shards)
		start := 0
		if n > 0 {
			start = rand.Intn(n)
		}
		for k := 0; k < n; k++ {
			if p, ok := m.slotMap.Shards[(start+k)%n].FindPrimary(); ok {
				return p.ID, nil
			}
		}
		return topology.NodeID{}, valkeyerrors.New(valkeyerrors.KindMissingSlotAssignment, "no shard has a primary")
	}

	idx := m.slotMap.ShardIndexFor(slots[0])
	for _, s := range slots[1:] {
		if m.slotMap.ShardIndexFor(s) != idx {
			return topology.NodeID{}, valkeyerrors.New(valkeyerrors.KindKeysRequireMultipleNodes, "command keys span multiple shards")
		}
	}
	if idx == topology.Missing {
		return topology.NodeID{}, valkeyerrors.New(valkeyerrors.KindMissingSlotAssignment, "slot has no owning shard")
	}
	shard := &m.slotMap.Shards[idx]
	p, ok := shard.FindPrimary()
	if !ok {
		return topology.NodeID{}, valkeyerrors.New(valkeyerrors.KindMissingSlotAssignment, "shard has no primary")
	}
	return p.ID, nil
}

// Redirect describes a parsed MOVED/ASK reply.
type Redirect struct {
	Slot int
	Node topology.NodeID
	Ask  bool
}

// PoolForRedirectResult is PoolForRedirect's outcome: either a known node
// to retry on immediately, or a signal that the caller must wait for
// discovery (WaitID identifies the parked waiter to await/cancel).
type PoolForRedirectResult struct {
	Node          topology.NodeID
	KnownNode     bool
	WaitID        WaiterID
	MustWait      bool
	DegradeKicked bool
}

// PoolForRedirect applies the slot-map mutation for redirect (§4.5.1) and
// decides whether the target node is already known (return it directly)
// or whether the caller must wait for the discovery this triggers.
func (m *Machine) PoolForRedirect(redirect Redirect, notifier Notifier) (PoolForRedirectResult, []Action) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []Action
	if m.slotMap == nil {
		m.slotMap = &topology.SlotMap{Shards: nil}
	}
	outcome := m.slotMap.ApplyMoved(redirect.Slot, redirect.Node)

	if _, ok := m.clients[redirect.Node]; ok {
		return PoolForRedirectResult{Node: redirect.Node, KnownNode: true}, actions
	}

	if outcome == topology.UpdatedToUnknown {
		if m.state == Healthy {
			m.state = Degraded
			m.circuitTimerID = m.nextTimer()
			actions = append(actions, ScheduleTimer{ID: m.circuitTimerID, Kind: TimerCircuitBreaker, After: m.cfg.CircuitBreakerDuration})
		}
		actions = append(actions, KickDiscovery{})
	}

	id := m.parkWaiterLocked(notifier)
	return PoolForRedirectResult{WaitID: id, MustWait: true, DegradeKicked: outcome == topology.UpdatedToUnknown}, actions
}

func (m *Machine) parkWaiterLocked(n Notifier) WaiterID {
	m.nextWaiterID++
	id := WaiterID(m.nextWaiterID)
	m.waiters[id] = n
	return id
}

// WaitForHealthy parks the caller until the cluster becomes Healthy, or
// resumes it immediately/fails it per the current state (§4.5).
func (m *Machine) WaitForHealthy(notifier Notifier) (WaiterID, []Action) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Healthy:
		return 0, []Action{ResumeWaiter{Notifier: notifier, Err: nil}}
	case Shutdown:
		return 0, []Action{ResumeWaiter{Notifier: notifier, Err: valkeyerrors.New(valkeyerrors.KindClientShutDown, "cluster client is shut down")}}
	default:
		id := m.parkWaiterLocked(notifier)
		return id, nil
	}
}

// CancelWait removes a parked waiter, returning its notifier if present
// so the caller can complete it with client_request_cancelled.
func (m *Machine) CancelWait(id WaiterID) (Notifier, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.waiters[id]
	if ok {
		delete(m.waiters, id)
	}
	return n, ok
}

// Shutdown transitions to the terminal Shutdown state and returns every
// running client's node-id for teardown, plus actions failing any
// parked waiter.
func (m *Machine) Shutdown() ([]topology.NodeID, []Action) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Shutdown
	err := valkeyerrors.New(valkeyerrors.KindClientShutDown, "cluster client is shut down")
	actions := m.resumeAllWaitersLocked(err)
	if m.circuitTimerID != 0 {
		actions = append(actions, CancelTimer{ID: m.circuitTimerID})
	}

	ids := make([]topology.NodeID, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
		actions = append(actions, ShutdownClient{ID: id})
	}
	m.clients = make(map[topology.NodeID]topology.Node)
	return ids, actions
}

// SlotMapSnapshot returns the current slot map for read-only inspection
// (introspection endpoints, tests); nil if none has been established yet.
func (m *Machine) SlotMapSnapshot() *topology.SlotMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slotMap
}

// LastError returns the most recently recorded failure, if any.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// BeginDiscoveryRound starts a fresh election (§4.5.2), discarding any
// ballots from a prior round that never reached quorum. It refuses to
// start a second round while one is already in flight — reports false in
// that case — so a late-firing retry timer or an overlapping refresh kick
// can never reassign the election object out from under voter replies
// still arriving for the round already running.
func (m *Machine) BeginDiscoveryRound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discovering {
		return false
	}
	m.discovering = true
	m.election = election.New()
	return true
}

// ReceiveVote feeds one voter's CLUSTER SHARDS reply into the current
// discovery round's election. When the vote reaches quorum, the machine
// transitions to Healthy exactly as DiscoverySucceeded would and the
// actions are returned for the caller to run.
func (m *Machine) ReceiveVote(voter topology.NodeID, description topology.Description) (bool, []Action) {
	m.mu.Lock()
	if m.election == nil {
		m.election = election.New()
	}
	winner, won := m.election.Vote(voter, description)
	m.mu.Unlock()

	if !won {
		return false, nil
	}
	return true, m.DiscoverySucceeded(winner)
}
