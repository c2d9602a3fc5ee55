// Package cluster implements the cluster client façade (§4.6): the public
// execute/execute_pipeline/with_connection surface that hides hash-slot
// routing, MOVED/ASK redirection, and topology discovery behind a single
// entry point over a set of node clients.
package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valkeygo/valkeygo/clusterstate"
	"github.com/valkeygo/valkeygo/command"
	"github.com/valkeygo/valkeygo/conn"
	"github.com/valkeygo/valkeygo/internal/backoff"
	"github.com/valkeygo/valkeygo/internal/logging"
	"github.com/valkeygo/valkeygo/internal/metrics"
	"github.com/valkeygo/valkeygo/node"
	"github.com/valkeygo/valkeygo/pkg/valkeyerrors"
	"github.com/valkeygo/valkeygo/resp"
	"github.com/valkeygo/valkeygo/slot"
	"github.com/valkeygo/valkeygo/topology"
)

// DefaultMaxRedirects bounds how many times Execute will follow a
// redirect or transient error before giving up (§4.6).
const DefaultMaxRedirects = 4

// Options configures a Coordinator.
type Options struct {
	Factory      conn.ChannelFactory
	Protocol     conn.Protocol
	MaxRedirects int
	State        clusterstate.Config
}

// Coordinator is the cluster client façade: component H. It owns the
// cluster state machine (G) and the table of live node clients (D),
// spawned and torn down as the machine's actions dictate.
type Coordinator struct {
	seeds        []conn.Address
	factory      conn.ChannelFactory
	protocol     conn.Protocol
	maxRedirects int

	machine      *clusterstate.Machine
	retryBackoff *backoff.Backoff

	mu      sync.Mutex
	clients map[topology.NodeID]*node.Client
	cancels map[topology.NodeID]context.CancelFunc

	events chan event

	runCtx atomic.Value // stores context.Context; set once Run starts
}

type event interface{}

type timerFiredEvent struct {
	id   uint64
	kind clusterstate.TimerKind
}

type kickDiscoveryEvent struct{}

// New constructs a Coordinator that discovers topology starting from
// seeds. Call Run to start its background driver before issuing requests.
func New(seeds []conn.Address, opts Options) *Coordinator {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	cfg := opts.State
	if cfg.CircuitBreakerDuration == 0 {
		cfg = clusterstate.DefaultConfig()
	}
	return &Coordinator{
		seeds:        seeds,
		factory:      opts.Factory,
		protocol:     opts.Protocol,
		maxRedirects: opts.MaxRedirects,
		machine:      clusterstate.New(cfg),
		retryBackoff: backoff.New(time.Now().UnixNano()),
		clients:      make(map[topology.NodeID]*node.Client),
		cancels:      make(map[topology.NodeID]context.CancelFunc),
		events:       make(chan event, 64),
	}
}

// Run is the coordinator's background driver: it seeds the state machine
// with the configured seed addresses, runs an initial discovery round,
// and then services timers and discovery kicks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.runCtx.Store(ctx)
	c.runActions(ctx, c.machine.Start())

	seedDiscovered := make(map[topology.NodeID]topology.Node, len(c.seeds))
	for _, addr := range c.seeds {
		id := topology.NodeID{Endpoint: addr.Host, Port: addr.Port}
		seedDiscovered[id] = topology.Node{ID: id, Role: topology.Primary}
	}
	c.runActions(ctx, c.machine.UpdateNodes(seedDiscovered, false))
	c.kickDiscovery()

	for {
		select {
		case <-ctx.Done():
			ids, actions := c.machine.Shutdown()
			c.runActions(ctx, actions)
			for _, id := range ids {
				c.shutdownClient(id)
			}
			return ctx.Err()
		case ev := <-c.events:
			switch e := ev.(type) {
			case timerFiredEvent:
				actions := c.machine.TimerFired(e.id, e.kind)
				// TimerFired returns nil for a stale timer id.
				if e.kind == clusterstate.TimerCircuitBreaker && actions != nil {
					metrics.CircuitBreakerTrips.Inc()
				}
				c.runActions(ctx, actions)
			case kickDiscoveryEvent:
				go c.runDiscovery(ctx)
			}
		}
	}
}

func (c *Coordinator) runActions(ctx context.Context, actions []clusterstate.Action) {
	for _, a := range actions {
		switch act := a.(type) {
		case clusterstate.SpawnClient:
			c.spawnClient(act.ID)
		case clusterstate.ShutdownClient:
			c.shutdownClient(act.ID)
		case clusterstate.ScheduleTimer:
			c.scheduleTimer(act)
		case clusterstate.CancelTimer:
			// Stale timer firings are filtered by id comparison in
			// Machine.TimerFired, so there is nothing to cancel here.
		case clusterstate.ResumeWaiter:
			select {
			case act.Notifier <- act.Err:
			default:
			}
		case clusterstate.KickDiscovery:
			c.kickDiscovery()
		}
	}
}

func (c *Coordinator) spawnClient(id topology.NodeID) {
	c.mu.Lock()
	if _, ok := c.clients[id]; ok {
		c.mu.Unlock()
		return
	}
	base, _ := c.runCtx.Load().(context.Context)
	if base == nil {
		base = context.Background()
	}
	clientCtx, cancel := context.WithCancel(base)
	nc := node.New(c.factory, conn.Address{Host: id.Endpoint, Port: id.Port}, c.protocol)
	c.clients[id] = nc
	c.cancels[id] = cancel
	c.mu.Unlock()

	metrics.NodeClients.Inc()
	go func() {
		nc.Run(clientCtx)
		metrics.NodeClients.Dec()
	}()
}

func (c *Coordinator) shutdownClient(id topology.NodeID) {
	c.mu.Lock()
	nc, ok := c.clients[id]
	cancel := c.cancels[id]
	delete(c.clients, id)
	delete(c.cancels, id)
	c.mu.Unlock()

	if ok {
		nc.TriggerGracefulShutdown()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) scheduleTimer(a clusterstate.ScheduleTimer) {
	time.AfterFunc(a.After, func() {
		select {
		case c.events <- timerFiredEvent{id: a.ID, kind: a.Kind}:
		default:
		}
	})
}

func (c *Coordinator) kickDiscovery() {
	select {
	case c.events <- kickDiscoveryEvent{}:
	default:
	}
}

// runDiscovery fans CLUSTER SHARDS out to every currently running node
// client (§4.5.2), feeding each reply into the election until one wins.
func (c *Coordinator) runDiscovery(ctx context.Context) {
	if !c.machine.BeginDiscoveryRound() {
		logging.Get().Debug("discovery already in flight, skipping kick")
		return
	}

	c.mu.Lock()
	voters := make(map[topology.NodeID]*node.Client, len(c.clients))
	for id, nc := range c.clients {
		voters[id] = nc
	}
	c.mu.Unlock()

	if len(voters) == 0 {
		c.runActions(ctx, c.machine.DiscoveryFailed(valkeyerrors.New(valkeyerrors.KindClusterUnavailable, "no voters available for discovery")))
		return
	}

	discoverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	var won atomic.Bool
	g, gctx := errgroup.WithContext(discoverCtx)
	for id, nc := range voters {
		id, nc := id, nc
		g.Go(func() error {
			tok, err := nc.Execute(gctx, resp.EncodeCommandStrings("CLUSTER", "SHARDS"))
			if err != nil {
				return nil
			}
			if tok.IsError() {
				return nil
			}
			desc, err := parseShardsReply(tok)
			if err != nil {
				logging.Get().WithError(err).Debug("discarding unparsable CLUSTER SHARDS ballot")
				return nil
			}
			didWin, actions := c.machine.ReceiveVote(id, desc)
			if didWin {
				if !won.Swap(true) {
					metrics.ElectionDuration.Observe(time.Since(start).Seconds())
					metrics.SlotMapGeneration.Inc()
				}
				cancel()
				c.runActions(ctx, actions)
				c.runActions(ctx, c.machine.UpdateNodes(nodesFromDescription(desc), true))
			}
			return nil
		})
	}
	g.Wait()

	if !won.Load() {
		c.runActions(ctx, c.machine.DiscoveryFailed(valkeyerrors.New(valkeyerrors.KindClusterUnavailable, "discovery round produced no consensus")))
	}
}

func nodesFromDescription(d topology.Description) map[topology.NodeID]topology.Node {
	out := make(map[topology.NodeID]topology.Node)
	for _, s := range d.Shards {
		for _, n := range s.Nodes {
			out[n.ID] = n
		}
	}
	return out
}

func (c *Coordinator) nodeClient(id topology.NodeID) (*node.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nc, ok := c.clients[id]
	return nc, ok
}

// resolveNode returns the node owning slots, triggering discovery and
// waiting once if no topology is available yet (§4.5's pool_fast_path /
// §9 open question (b), resolved here as "kick discovery, wait once").
func (c *Coordinator) resolveNode(ctx context.Context, slots []int) (topology.NodeID, error) {
	id, err := c.machine.PoolFastPath(slots)
	if err == nil {
		return id, nil
	}
	switch valkeyerrors.KindOf(err) {
	case valkeyerrors.KindClusterUnavailable, valkeyerrors.KindMissingSlotAssignment:
		c.kickDiscovery()
		waiter := make(clusterstate.Notifier, 1)
		_, actions := c.machine.WaitForHealthy(waiter)
		c.runActions(ctx, actions)
		if werr := awaitNotifier(ctx, waiter); werr != nil {
			return topology.NodeID{}, werr
		}
		return c.machine.PoolFastPath(slots)
	default:
		return topology.NodeID{}, err
	}
}

func awaitNotifier(ctx context.Context, n clusterstate.Notifier) error {
	select {
	case err := <-n:
		return err
	case <-ctx.Done():
		return valkeyerrors.Wrap(valkeyerrors.KindRequestCancelled, "wait cancelled", ctx.Err())
	}
}

func (c *Coordinator) backoffSleep(ctx context.Context, attempt int) error {
	select {
	case <-time.After(c.retryBackoff.Duration(attempt + 1)):
		return nil
	case <-ctx.Done():
		return valkeyerrors.Wrap(valkeyerrors.KindRequestCancelled, "retry backoff cancelled", ctx.Err())
	}
}

// Execute sends cmd to the node owning its keys, following MOVED/ASK
// redirects and retrying transient errors up to maxRedirects times (§4.6).
func (c *Coordinator) Execute(ctx context.Context, cmd command.Encodable) (resp.Token, error) {
	keys := cmd.KeysAffected()
	var slots []int
	if len(keys) > 0 {
		s, ok := slot.OfKeys(keys)
		if !ok {
			return resp.Token{}, valkeyerrors.New(valkeyerrors.KindKeysRequireMultipleSlots, "command keys span multiple hash slots")
		}
		slots = []int{s}
	}

	askNext := false
	var lastErr error
	for attempt := 0; attempt <= c.maxRedirects; attempt++ {
		nodeID, err := c.resolveNode(ctx, slots)
		if err != nil {
			return resp.Token{}, err
		}
		nc, ok := c.nodeClient(nodeID)
		if !ok {
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				return resp.Token{}, valkeyerrors.Wrap(valkeyerrors.KindRequestCancelled, "execute cancelled", ctx.Err())
			}
			continue
		}

		var tok resp.Token
		if askNext {
			results, execErr := nc.ExecuteWithAsk(ctx, [][]byte{cmd.Encode()})
			askNext = false
			if execErr != nil {
				lastErr = execErr
				continue
			}
			tok, err = results[0].Token, results[0].Err
		} else {
			tok, err = nc.Execute(ctx, cmd.Encode())
		}
		if err != nil {
			lastErr = err
			continue
		}

		if !tok.IsError() {
			return tok, nil
		}

		kind := classifyReply(tok.Text())
		switch {
		case kind == replyMoved || kind == replyAsk:
			redirect, perr := parseRedirect(tok.Text(), kind == replyAsk)
			if perr != nil {
				return resp.Token{}, perr
			}
			metrics.Redirects.WithLabelValues(redirectKindLabel(kind)).Inc()
			waiter := make(clusterstate.Notifier, 1)
			result, actions := c.machine.PoolForRedirect(redirect, waiter)
			metrics.SlotMapGeneration.Inc()
			c.runActions(ctx, actions)
			if result.MustWait {
				if werr := awaitNotifier(ctx, waiter); werr != nil {
					return resp.Token{}, werr
				}
			}
			slots = []int{redirect.Slot}
			askNext = kind == replyAsk
			continue
		case isTransientReply(kind):
			lastErr = valkeyerrors.New(valkeyerrors.KindCommandError, tok.Text())
			if berr := c.backoffSleep(ctx, attempt); berr != nil {
				return resp.Token{}, berr
			}
			continue
		default:
			return tok, nil
		}
	}
	if lastErr == nil {
		lastErr = valkeyerrors.New(valkeyerrors.KindClusterUnavailable, "max redirects exceeded")
	}
	return resp.Token{}, lastErr
}

func redirectKindLabel(k replyKind) string {
	if k == replyAsk {
		return "ask"
	}
	return "moved"
}

// WithConnection borrows a raw node client for the shard owning keys and
// invokes op with it; op is responsible for any retry policy of its own
// (§4.6: this bypasses cluster-routing retries).
func (c *Coordinator) WithConnection(ctx context.Context, keys []string, op func(*node.Client) error) error {
	var slots []int
	if len(keys) > 0 {
		s, ok := slot.OfKeys(keys)
		if !ok {
			return valkeyerrors.New(valkeyerrors.KindKeysRequireMultipleSlots, "keys span multiple hash slots")
		}
		slots = []int{s}
	}
	nodeID, err := c.resolveNode(ctx, slots)
	if err != nil {
		return err
	}
	nc, ok := c.nodeClient(nodeID)
	if !ok {
		return valkeyerrors.New(valkeyerrors.KindConnectionClosed, "node has no live connection")
	}
	return op(nc)
}
