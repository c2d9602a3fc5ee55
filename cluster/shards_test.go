package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/valkeygo/valkeygo/resp"
	"github.com/valkeygo/valkeygo/topology"
)

// decodeReply parses one full RESP value from wire bytes for test fixtures.
func decodeReply(t *testing.T, wire string) resp.Token {
	t.Helper()
	tok, _, err := resp.Decode([]byte(wire))
	require.NoError(t, err)
	return tok
}

func TestParseShardsReplyRESP3Map(t *testing.T) {
	wire := "*1\r\n" +
		"%2\r\n" +
		"$5\r\nslots\r\n" +
		"*2\r\n:0\r\n:16383\r\n" +
		"$5\r\nnodes\r\n" +
		"*1\r\n" +
		"%5\r\n" +
		"$2\r\nid\r\n$1\r\na\r\n" +
		"$8\r\nendpoint\r\n$9\r\n127.0.0.1\r\n" +
		"$4\r\nport\r\n:7000\r\n" +
		"$4\r\nrole\r\n$6\r\nmaster\r\n" +
		"$6\r\nhealth\r\n$6\r\nonline\r\n"

	desc, err := parseShardsReply(decodeReply(t, wire))
	require.NoError(t, err)
	require.Len(t, desc.Shards, 1)
	require.Equal(t, []topology.SlotRange{{Start: 0, End: 16383}}, desc.Shards[0].SlotRanges)
	require.Len(t, desc.Shards[0].Nodes, 1)
	n := desc.Shards[0].Nodes[0]
	require.Equal(t, "127.0.0.1", n.ID.Endpoint)
	require.Equal(t, uint16(7000), n.ID.Port)
	require.Equal(t, topology.Primary, n.Role)
	require.Equal(t, topology.HealthOnline, n.Health)
}

func TestParseShardsReplyRESP2FlatArray(t *testing.T) {
	// Same shape as RESP3 but every map collapses into a flat
	// alternating key/value array, as a RESP2-only server would emit.
	wire := "*1\r\n" +
		"*4\r\n" +
		"$5\r\nslots\r\n" +
		"*2\r\n:0\r\n:16383\r\n" +
		"$5\r\nnodes\r\n" +
		"*1\r\n" +
		"*8\r\n" +
		"$2\r\nid\r\n$1\r\nb\r\n" +
		"$2\r\nip\r\n$9\r\n127.0.0.2\r\n" +
		"$4\r\nport\r\n:7001\r\n" +
		"$4\r\nrole\r\n$5\r\nslave\r\n"

	desc, err := parseShardsReply(decodeReply(t, wire))
	require.NoError(t, err)
	require.Len(t, desc.Shards, 1)
	n := desc.Shards[0].Nodes[0]
	require.Equal(t, "127.0.0.2", n.ID.Endpoint)
	require.Equal(t, uint16(7001), n.ID.Port)
	require.Equal(t, topology.Replica, n.Role)
}

func TestParseShardsReplyNotAnArray(t *testing.T) {
	_, err := parseShardsReply(decodeReply(t, "+OK\r\n"))
	require.Error(t, err)
}
