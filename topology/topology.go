// Package topology holds the cluster data model (§3, §4.5.1): node
// identities, shard descriptions, and the dense slot→shard map, plus the
// pure MOVED-driven mutation rules.
package topology

import (
	"github.com/valkeygo/valkeygo/slot"
)

// Role is a node's position within its shard.
type Role int

const (
	Primary Role = iota
	Replica
)

func (r Role) String() string {
	if r == Primary {
		return "primary"
	}
	return "replica"
}

// Health is a node's last-reported liveness from CLUSTER SHARDS.
type Health int

const (
	HealthOnline Health = iota
	HealthFailed
	HealthLoading
)

// NodeID identifies an endpoint: hostname preferred, IP as fallback, plus
// port. Two NodeIDs are equal iff their (Endpoint, Port) pair matches.
type NodeID struct {
	Endpoint string
	Port     uint16
}

// Node is one member of a shard, as reported by CLUSTER SHARDS.
type Node struct {
	ID                NodeID
	IP                string
	Hostname          string
	TLSPort           uint16
	UseTLS            bool
	Role              Role
	Health            Health
	ReplicationOffset int64
}

// SlotRange is an inclusive [Start, End] span of hash slots.
type SlotRange struct {
	Start, End int
}

// Contains reports whether slot s falls within the range.
func (r SlotRange) Contains(s int) bool { return s >= r.Start && s <= r.End }

// Shard is a primary plus zero or more replicas owning a set of slot
// ranges. Exactly one Node has Role == Primary under normal operation;
// §9 notes this can be momentarily violated during failover races, so
// callers should treat FindPrimary returning (_, false) as "no primary
// right now" rather than panicking.
type Shard struct {
	SlotRanges []SlotRange
	Nodes      []Node
}

// FindPrimary returns the shard's primary node.
func (s *Shard) FindPrimary() (Node, bool) {
	for _, n := range s.Nodes {
		if n.Role == Primary {
			return n, true
		}
	}
	return Node{}, false
}

// HasSlot reports whether slot s is owned by this shard.
func (s *Shard) HasSlot(slotNum int) bool {
	for _, r := range s.SlotRanges {
		if r.Contains(slotNum) {
			return true
		}
	}
	return false
}

func (s *Shard) addSlot(slotNum int) {
	for i := range s.SlotRanges {
		r := &s.SlotRanges[i]
		if r.Contains(slotNum) {
			return
		}
		if slotNum == r.Start-1 {
			r.Start = slotNum
			return
		}
		if slotNum == r.End+1 {
			r.End = slotNum
			return
		}
	}
	s.SlotRanges = append(s.SlotRanges, SlotRange{Start: slotNum, End: slotNum})
}

func (s *Shard) removeSlot(slotNum int) {
	out := s.SlotRanges[:0]
	for _, r := range s.SlotRanges {
		if !r.Contains(slotNum) {
			out = append(out, r)
			continue
		}
		if r.Start == r.End {
			continue
		}
		if slotNum == r.Start {
			out = append(out, SlotRange{Start: slotNum + 1, End: r.End})
		} else if slotNum == r.End {
			out = append(out, SlotRange{Start: r.Start, End: slotNum - 1})
		} else {
			out = append(out, SlotRange{Start: r.Start, End: slotNum - 1})
			out = append(out, SlotRange{Start: slotNum + 1, End: r.End})
		}
	}
	s.SlotRanges = out
}

func (s *Shard) removeNode(id NodeID) {
	out := s.Nodes[:0]
	for _, n := range s.Nodes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	s.Nodes = out
}

// Description is an ordered list of shards: the normalised result of one
// CLUSTER SHARDS reply (or an elected consensus candidate).
type Description struct {
	Shards []Shard
}

// TotalNodes sums node counts across all shards, used by the election's
// quorum-size formula (§3, §4.5.2).
func (d *Description) TotalNodes() int {
	n := 0
	for _, s := range d.Shards {
		n += len(s.Nodes)
	}
	return n
}

// SlotMap is the dense 16384-entry slot→shard index, with Missing meaning
// unassigned (I1/I2/I3, §3).
type SlotMap struct {
	entries [slot.Count]int // index into Shards, or Missing
	Shards  []Shard
}

// Missing is the sentinel slot-map entry value for an unassigned slot.
const Missing = -1

// NewSlotMap builds a slot map from a Description, assigning every slot
// named by a shard's ranges to that shard's index.
func NewSlotMap(d Description) *SlotMap {
	m := &SlotMap{Shards: d.Shards}
	for i := range m.entries {
		m.entries[i] = Missing
	}
	for i, s := range m.Shards {
		for _, r := range s.SlotRanges {
			for sNum := r.Start; sNum <= r.End && sNum < slot.Count; sNum++ {
				m.entries[sNum] = i
			}
		}
	}
	return m
}

// ShardFor returns the shard owning slotNum, or (nil, false) if unassigned.
func (m *SlotMap) ShardFor(slotNum int) (*Shard, bool) {
	if slotNum < 0 || slotNum >= slot.Count {
		return nil, false
	}
	i := m.entries[slotNum]
	if i == Missing {
		return nil, false
	}
	return &m.Shards[i], true
}

// ShardIndexFor returns the raw slot-map entry, Missing if unassigned.
func (m *SlotMap) ShardIndexFor(slotNum int) int {
	if slotNum < 0 || slotNum >= slot.Count {
		return Missing
	}
	return m.entries[slotNum]
}

// findShardWithPrimary returns the index of the shard whose primary is id.
func (m *SlotMap) findShardWithPrimary(id NodeID) (int, bool) {
	for i := range m.Shards {
		if p, ok := m.Shards[i].FindPrimary(); ok && p.ID == id {
			return i, true
		}
	}
	return -1, false
}

// findShardWithReplica returns the index of the shard that lists id as a
// replica, and the node entry itself.
func (m *SlotMap) findShardWithReplica(id NodeID) (int, Node, bool) {
	for i := range m.Shards {
		for _, n := range m.Shards[i].Nodes {
			if n.ID == id && n.Role == Replica {
				return i, n, true
			}
		}
	}
	return -1, Node{}, false
}

// MovedOutcome reports whether a MOVED update matched a known node
// (updated_to_existing) or required inventing a new shard
// (updated_to_unknown, §4.5.1 rule 5) — the latter is the Degraded-plus-
// immediate-discovery trigger in the cluster state machine.
type MovedOutcome int

const (
	UpdatedToExisting MovedOutcome = iota
	UpdatedToUnknown
)

// ApplyMoved mutates m in place per §4.5.1's five rules for a MOVED
// slot → node_id redirect, and reports which outcome applied.
func (m *SlotMap) ApplyMoved(slotNum int, node NodeID) MovedOutcome {
	if cur, ok := m.ShardFor(slotNum); ok {
		if p, ok := cur.FindPrimary(); ok && p.ID == node {
			// Rule 1: already correct.
			return UpdatedToExisting
		}
		for i := range cur.Nodes {
			if cur.Nodes[i].ID == node && cur.Nodes[i].Role == Replica {
				// Rule 2: promote the replica; the shard's previous
				// primary is demoted to a replica.
				promoted := cur.Nodes[i]
				promoted.Role = Primary
				cur.removeNode(node)
				for j := range cur.Nodes {
					if cur.Nodes[j].Role == Primary {
						cur.Nodes[j].Role = Replica
					}
				}
				cur.Nodes = append(cur.Nodes, promoted)
				return UpdatedToExisting
			}
		}
	}

	if idx, ok := m.findShardWithPrimary(node); ok {
		// Rule 3: the node already primaries another shard; migrate the slot there.
		m.moveSlotToShardIndex(slotNum, idx)
		return UpdatedToExisting
	}

	if idx, n, ok := m.findShardWithReplica(node); ok {
		// Rule 4: promote the replica into a brand new shard and migrate the slot.
		m.Shards[idx].removeNode(node)
		n.Role = Primary
		newIdx := len(m.Shards)
		m.Shards = append(m.Shards, Shard{Nodes: []Node{n}})
		m.moveSlotToShardIndex(slotNum, newIdx)
		return UpdatedToExisting
	}

	// Rule 5: unknown node entirely; invent a placeholder shard.
	newIdx := len(m.Shards)
	m.Shards = append(m.Shards, Shard{Nodes: []Node{{ID: node, Role: Primary}}})
	m.moveSlotToShardIndex(slotNum, newIdx)
	return UpdatedToUnknown
}

func (m *SlotMap) moveSlotToShardIndex(slotNum, idx int) {
	if old := m.entries[slotNum]; old != Missing && old != idx {
		m.Shards[old].removeSlot(slotNum)
	}
	m.entries[slotNum] = idx
	m.Shards[idx].addSlot(slotNum)
}
