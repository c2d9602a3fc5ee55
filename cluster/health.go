package cluster

import (
	"github.com/valkeygo/valkeygo/node"
	"github.com/valkeygo/valkeygo/topology"
)

// Health is a point-in-time snapshot of the coordinator's view of the
// cluster, exposed for operator introspection (debug server, logging)
// rather than used in any routing decision.
type Health struct {
	State        string
	Shards       int
	SlotsCovered int
	Nodes        []NodeHealth
	LastError    string
}

// NodeHealth reports one running node client's liveness counters.
type NodeHealth struct {
	Endpoint string
	Port     uint16
	Role     string
	Requests uint64
	Errors   uint64
	Reconnects uint64
}

// Health returns a snapshot of the coordinator's current state, slot
// coverage, and per-node request/error counters.
func (c *Coordinator) Health() Health {
	h := Health{State: c.machine.State().String()}
	if err := c.machine.LastError(); err != nil {
		h.LastError = err.Error()
	}

	sm := c.machine.SlotMapSnapshot()
	if sm != nil {
		h.Shards = len(sm.Shards)
		for s := 0; s < 16384; s++ {
			if _, ok := sm.ShardFor(s); ok {
				h.SlotsCovered++
			}
		}
	}

	c.mu.Lock()
	clients := make(map[topology.NodeID]*node.Client, len(c.clients))
	for id, nc := range c.clients {
		clients[id] = nc
	}
	c.mu.Unlock()

	role := roleIndex(sm)
	for id, nc := range clients {
		stats := nc.Stats()
		h.Nodes = append(h.Nodes, NodeHealth{
			Endpoint:   id.Endpoint,
			Port:       id.Port,
			Role:       role[id].String(),
			Requests:   stats.Requests,
			Errors:     stats.Errors,
			Reconnects: stats.Reconnect,
		})
	}
	return h
}

func roleIndex(sm *topology.SlotMap) map[topology.NodeID]topology.Role {
	out := make(map[topology.NodeID]topology.Role)
	if sm == nil {
		return out
	}
	for _, s := range sm.Shards {
		for _, n := range s.Nodes {
			out[n.ID] = n.Role
		}
	}
	return out
}
