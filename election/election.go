// Package election implements quorum voting over topology candidates
// reported by CLUSTER SHARDS fan-out (§3, §4.5.2): each voter's reply is
// normalised into a candidate key, votes are tallied per candidate, and a
// candidate wins once it reaches a strict majority of the nodes it
// describes.
package election

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/valkeygo/valkeygo/topology"
)

// CandidateKey is a content hash of a normalised Description: two voters
// reporting the same topology (in any node/shard order) produce the same
// key.
type CandidateKey string

// Normalize produces a stable CandidateKey for d by sorting shards and
// nodes into a canonical order before hashing, so that vote comparison is
// insensitive to the order CLUSTER SHARDS happened to list things in.
func Normalize(d topology.Description) CandidateKey {
	shards := make([]topology.Shard, len(d.Shards))
	copy(shards, d.Shards)
	sort.Slice(shards, func(i, j int) bool {
		return shardSortKey(shards[i]) < shardSortKey(shards[j])
	})
	h := sha256.New()
	for _, s := range shards {
		nodes := make([]topology.Node, len(s.Nodes))
		copy(nodes, s.Nodes)
		sort.Slice(nodes, func(i, j int) bool {
			return nodeSortKey(nodes[i]) < nodeSortKey(nodes[j])
		})
		ranges := make([]topology.SlotRange, len(s.SlotRanges))
		copy(ranges, s.SlotRanges)
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
		for _, r := range ranges {
			fmt.Fprintf(h, "r:%d-%d;", r.Start, r.End)
		}
		for _, n := range nodes {
			fmt.Fprintf(h, "n:%s:%d:%s;", n.ID.Endpoint, n.ID.Port, n.Role)
		}
		h.Write([]byte("|"))
	}
	return CandidateKey(hex.EncodeToString(h.Sum(nil)))
}

func shardSortKey(s topology.Shard) string {
	if p, ok := s.FindPrimary(); ok {
		return fmt.Sprintf("%s:%d", p.ID.Endpoint, p.ID.Port)
	}
	if len(s.Nodes) > 0 {
		return fmt.Sprintf("%s:%d", s.Nodes[0].ID.Endpoint, s.Nodes[0].ID.Port)
	}
	return ""
}

func nodeSortKey(n topology.Node) string {
	return fmt.Sprintf("%s:%d", n.ID.Endpoint, n.ID.Port)
}

// candidate tracks one normalised topology's vote tally.
type candidate struct {
	description  topology.Description
	votesNeeded  int
	votesByVoter map[topology.NodeID]struct{}
}

// Election tallies votes from a fan-out round. It is not safe for
// concurrent use; callers serialize access (the cluster state machine
// drives it under its own mutex, per §4.5.2).
type Election struct {
	voterBallot map[topology.NodeID]CandidateKey
	candidates  map[CandidateKey]*candidate
	winner      *topology.Description
}

// New returns an empty Election ready to receive ballots.
func New() *Election {
	return &Election{
		voterBallot: make(map[topology.NodeID]CandidateKey),
		candidates:  make(map[CandidateKey]*candidate),
	}
}

// Winner returns the elected description, if any.
func (e *Election) Winner() (topology.Description, bool) {
	if e.winner == nil {
		return topology.Description{}, false
	}
	return *e.winner, true
}

// Vote records voter's reported description, replacing any prior ballot
// from the same voter (decrementing its old candidate per §4.5.2), and
// returns the winning description once a candidate reaches quorum.
//
// votes_needed = total_nodes_in_candidate/2 + 1, computed once per
// candidate from the first ballot that introduces it.
func (e *Election) Vote(voter topology.NodeID, d topology.Description) (topology.Description, bool) {
	if e.winner != nil {
		return *e.winner, true
	}

	key := Normalize(d)
	if prevKey, ok := e.voterBallot[voter]; ok {
		if prevKey == key {
			return topology.Description{}, false
		}
		if prev, ok := e.candidates[prevKey]; ok {
			delete(prev.votesByVoter, voter)
			if len(prev.votesByVoter) == 0 {
				delete(e.candidates, prevKey)
			}
		}
	}
	e.voterBallot[voter] = key

	c, ok := e.candidates[key]
	if !ok {
		c = &candidate{
			description:  d,
			votesNeeded:  d.TotalNodes()/2 + 1,
			votesByVoter: make(map[topology.NodeID]struct{}),
		}
		e.candidates[key] = c
	}
	c.votesByVoter[voter] = struct{}{}

	if len(c.votesByVoter) >= c.votesNeeded {
		desc := c.description
		e.winner = &desc
		return desc, true
	}
	return topology.Description{}, false
}

// Voters returns every node-id that has cast a ballot in this election.
func (e *Election) Voters() []topology.NodeID {
	out := make([]topology.NodeID, 0, len(e.voterBallot))
	for v := range e.voterBallot {
		out = append(out, v)
	}
	return out
}
