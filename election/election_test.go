package election

import "testing"

import "github.com/valkeygo/valkeygo/topology"

func threeNodeDescription(primaryPort uint16) topology.Description {
	return topology.Description{Shards: []topology.Shard{
		{
			SlotRanges: []topology.SlotRange{{Start: 0, End: 16383}},
			Nodes: []topology.Node{
				{ID: topology.NodeID{Endpoint: "n1", Port: primaryPort}, Role: topology.Primary},
				{ID: topology.NodeID{Endpoint: "n2", Port: 7001}, Role: topology.Replica},
				{ID: topology.NodeID{Endpoint: "n3", Port: 7002}, Role: topology.Replica},
			},
		},
	}}
}

func TestElectionReachesQuorum(t *testing.T) {
	e := New()
	desc := threeNodeDescription(7000)
	voters := []topology.NodeID{{Endpoint: "n1", Port: 7000}, {Endpoint: "n2", Port: 7001}, {Endpoint: "n3", Port: 7002}}

	if _, won := e.Vote(voters[0], desc); won {
		t.Fatalf("should not win on first ballot out of 3 (needs 2)")
	}
	won, ok := e.Vote(voters[1], desc)
	if !ok {
		t.Fatalf("expected quorum reached on second matching ballot")
	}
	if len(won.Shards) != 1 {
		t.Fatalf("unexpected winner: %+v", won)
	}
}

func TestElectionReplacingVoteDecrementsOldCandidate(t *testing.T) {
	e := New()
	descA := threeNodeDescription(7000)
	descB := threeNodeDescription(7999) // different primary -> different candidate key

	voterA := topology.NodeID{Endpoint: "n1", Port: 7000}
	voterB := topology.NodeID{Endpoint: "n2", Port: 7001}

	e.Vote(voterA, descA)
	// voterA changes its mind before a third voter arrives.
	e.Vote(voterA, descB)
	_, won := e.Vote(voterB, descA)
	if won {
		t.Fatalf("descA should have lost voterA's ballot and not reach quorum from voterB alone")
	}
}

func TestElectionIgnoresFurtherVotesAfterWinner(t *testing.T) {
	e := New()
	desc := threeNodeDescription(7000)
	voters := []topology.NodeID{{Endpoint: "n1", Port: 7000}, {Endpoint: "n2", Port: 7001}, {Endpoint: "n3", Port: 7002}}
	e.Vote(voters[0], desc)
	e.Vote(voters[1], desc)
	// Third vote is superfluous; Election should already report a winner.
	if _, ok := e.Winner(); !ok {
		t.Fatalf("expected winner already recorded")
	}
	result, won := e.Vote(voters[2], threeNodeDescription(9999))
	if !won {
		t.Fatalf("Vote after winner should still report the existing winner")
	}
	if len(result.Shards) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
