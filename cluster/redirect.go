package cluster

import (
	"strconv"
	"strings"

	"github.com/valkeygo/valkeygo/clusterstate"
	"github.com/valkeygo/valkeygo/pkg/valkeyerrors"
	"github.com/valkeygo/valkeygo/topology"
)

// replyKind classifies a command-error token's first word (§6).
type replyKind int

const (
	replyOther replyKind = iota
	replyMoved
	replyAsk
	replyTryAgain
	replyMasterDown
	replyClusterDown
	replyLoading
)

// classifyReply inspects a command-error message and reports its kind.
func classifyReply(msg string) replyKind {
	word, _, _ := strings.Cut(msg, " ")
	switch word {
	case "MOVED":
		return replyMoved
	case "ASK":
		return replyAsk
	case "TRYAGAIN":
		return replyTryAgain
	case "MASTERDOWN":
		return replyMasterDown
	case "CLUSTERDOWN":
		return replyClusterDown
	case "LOADING":
		return replyLoading
	default:
		return replyOther
	}
}

func isTransientReply(kind replyKind) bool {
	switch kind {
	case replyTryAgain, replyMasterDown, replyClusterDown, replyLoading:
		return true
	default:
		return false
	}
}

// parseRedirect parses a MOVED or ASK error message's "<slot> <endpoint>:<port>"
// tail. The endpoint may itself contain ':' (IPv6), so the port is taken
// after the final colon rather than the first (§6).
func parseRedirect(msg string, ask bool) (clusterstate.Redirect, error) {
	_, rest, ok := strings.Cut(msg, " ")
	if !ok {
		return clusterstate.Redirect{}, valkeyerrors.New(valkeyerrors.KindParseError, "malformed redirect: missing slot")
	}
	slotStr, addr, ok := strings.Cut(rest, " ")
	if !ok {
		return clusterstate.Redirect{}, valkeyerrors.New(valkeyerrors.KindParseError, "malformed redirect: missing address")
	}
	slotNum, err := strconv.Atoi(slotStr)
	if err != nil {
		return clusterstate.Redirect{}, valkeyerrors.Wrap(valkeyerrors.KindParseError, "malformed redirect slot number", err)
	}
	lastColon := strings.LastIndexByte(addr, ':')
	if lastColon < 0 {
		return clusterstate.Redirect{}, valkeyerrors.New(valkeyerrors.KindParseError, "malformed redirect: missing port")
	}
	endpoint := addr[:lastColon]
	portNum, err := strconv.ParseUint(addr[lastColon+1:], 10, 16)
	if err != nil {
		return clusterstate.Redirect{}, valkeyerrors.Wrap(valkeyerrors.KindParseError, "malformed redirect port", err)
	}
	return clusterstate.Redirect{
		Slot: slotNum,
		Node: topology.NodeID{Endpoint: endpoint, Port: uint16(portNum)},
		Ask:  ask,
	}, nil
}
