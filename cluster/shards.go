package cluster

import (
	"github.com/valkeygo/valkeygo/pkg/valkeyerrors"
	"github.com/valkeygo/valkeygo/resp"
	"github.com/valkeygo/valkeygo/topology"
)

// parseShardsReply normalises one node's CLUSTER SHARDS reply into a
// Description (§6): a top-level array of shards, each an array or map
// with "slots" (flat [start,end] pairs) and "nodes" entries. Unknown
// keys are ignored per spec.
func parseShardsReply(tok resp.Token) (topology.Description, error) {
	if tok.Kind != resp.KindArray && tok.Kind != resp.KindSet {
		return topology.Description{}, valkeyerrors.New(valkeyerrors.KindParseError, "CLUSTER SHARDS reply is not an array")
	}
	desc := topology.Description{Shards: make([]topology.Shard, 0, len(tok.Elems))}
	for _, shardTok := range tok.Elems {
		shard, err := parseShardEntry(shardTok)
		if err != nil {
			return topology.Description{}, err
		}
		desc.Shards = append(desc.Shards, shard)
	}
	return desc, nil
}

func parseShardEntry(tok resp.Token) (topology.Shard, error) {
	fields, err := entryFields(tok)
	if err != nil {
		return topology.Shard{}, err
	}

	var shard topology.Shard
	if slotsTok, ok := fields["slots"]; ok {
		flat := make([]int64, 0, len(slotsTok.Elems))
		for _, e := range slotsTok.Elems {
			flat = append(flat, e.Int())
		}
		for i := 0; i+1 < len(flat); i += 2 {
			shard.SlotRanges = append(shard.SlotRanges, topology.SlotRange{Start: int(flat[i]), End: int(flat[i+1])})
		}
	}
	if nodesTok, ok := fields["nodes"]; ok {
		for _, nodeTok := range nodesTok.Elems {
			n, err := parseNodeEntry(nodeTok)
			if err != nil {
				return topology.Shard{}, err
			}
			shard.Nodes = append(shard.Nodes, n)
		}
	}
	return shard, nil
}

func parseNodeEntry(tok resp.Token) (topology.Node, error) {
	fields, err := entryFields(tok)
	if err != nil {
		return topology.Node{}, err
	}

	var n topology.Node
	endpoint := fieldText(fields, "endpoint")
	ip := fieldText(fields, "ip")
	hostname := fieldText(fields, "hostname")
	switch {
	case hostname != "":
		n.Hostname = hostname
		endpoint = hostname
	case endpoint != "":
	default:
		endpoint = ip
	}
	n.IP = ip

	if p, ok := fields["port"]; ok {
		n.ID.Port = uint16(p.Int())
	}
	n.ID.Endpoint = endpoint
	if tp, ok := fields["tls-port"]; ok {
		n.TLSPort = uint16(tp.Int())
		n.UseTLS = n.TLSPort != 0
	}

	switch fieldText(fields, "role") {
	case "master":
		n.Role = topology.Primary
	default:
		n.Role = topology.Replica
	}
	switch fieldText(fields, "health") {
	case "failed":
		n.Health = topology.HealthFailed
	case "loading":
		n.Health = topology.HealthLoading
	default:
		n.Health = topology.HealthOnline
	}
	if ro, ok := fields["replication-offset"]; ok {
		n.ReplicationOffset = ro.Int()
	}
	return n, nil
}

// entryFields accepts either a RESP3 map or a RESP2 flat array of
// alternating key/value tokens and returns a uniform key→token lookup.
func entryFields(tok resp.Token) (map[string]resp.Token, error) {
	fields := make(map[string]resp.Token)
	switch tok.Kind {
	case resp.KindMap:
		for _, p := range tok.Pairs {
			fields[p.Key.Text()] = p.Value
		}
	case resp.KindArray, resp.KindSet:
		for i := 0; i+1 < len(tok.Elems); i += 2 {
			fields[tok.Elems[i].Text()] = tok.Elems[i+1]
		}
	default:
		return nil, valkeyerrors.New(valkeyerrors.KindParseError, "CLUSTER SHARDS entry is neither map nor array")
	}
	return fields, nil
}

func fieldText(fields map[string]resp.Token, key string) string {
	if t, ok := fields[key]; ok && !t.IsNull() {
		return t.Text()
	}
	return ""
}
