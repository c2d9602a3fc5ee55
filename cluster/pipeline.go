package cluster

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/valkeygo/valkeygo/command"
	"github.com/valkeygo/valkeygo/conn"
	"github.com/valkeygo/valkeygo/pkg/valkeyerrors"
	"github.com/valkeygo/valkeygo/slot"
	"github.com/valkeygo/valkeygo/topology"
)

// splitPipeline implements §4.6.1: the first keyed command anchors a
// node; every keyless command before it inherits that node; each
// subsequent keyed command picks its own shard; each subsequent keyless
// command inherits the immediately preceding command's node. If no
// command has keys, everything goes to one randomly chosen node.
func (c *Coordinator) splitPipeline(ctx context.Context, cmds []command.Encodable) (map[topology.NodeID][]int, error) {
	nodeOf := make([]topology.NodeID, len(cmds))

	anchorIdx := -1
	for i, cmd := range cmds {
		if len(cmd.KeysAffected()) > 0 {
			anchorIdx = i
			break
		}
	}

	if anchorIdx == -1 {
		id, err := c.resolveNode(ctx, nil)
		if err != nil {
			return nil, err
		}
		for i := range nodeOf {
			nodeOf[i] = id
		}
	} else {
		s, ok := slot.OfKeys(cmds[anchorIdx].KeysAffected())
		if !ok {
			return nil, valkeyerrors.New(valkeyerrors.KindKeysRequireMultipleSlots, "command keys span multiple hash slots")
		}
		anchor, err := c.resolveNode(ctx, []int{s})
		if err != nil {
			return nil, err
		}
		for i := 0; i <= anchorIdx; i++ {
			nodeOf[i] = anchor
		}

		current := anchor
		for i := anchorIdx + 1; i < len(cmds); i++ {
			keys := cmds[i].KeysAffected()
			if len(keys) == 0 {
				nodeOf[i] = current
				continue
			}
			ks, ok := slot.OfKeys(keys)
			if !ok {
				return nil, valkeyerrors.New(valkeyerrors.KindKeysRequireMultipleSlots, "command keys span multiple hash slots")
			}
			id, err := c.resolveNode(ctx, []int{ks})
			if err != nil {
				return nil, err
			}
			current = id
			nodeOf[i] = current
		}
	}

	groups := make(map[topology.NodeID][]int)
	for i, id := range nodeOf {
		groups[id] = append(groups[id], i)
	}
	return groups, nil
}

// ExecutePipeline dispatches cmds grouped by destination node, merges
// results back into the original order, and retries any per-command
// redirect/transient error individually through Execute (§4.6).
func (c *Coordinator) ExecutePipeline(ctx context.Context, cmds []command.Encodable) ([]conn.Result, error) {
	groups, err := c.splitPipeline(ctx, cmds)
	if err != nil {
		return nil, err
	}

	out := make([]conn.Result, len(cmds))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for nodeID, indices := range groups {
		nodeID, indices := nodeID, indices
		g.Go(func() error {
			nc, ok := c.nodeClient(nodeID)
			if !ok {
				failAll(&mu, out, indices, valkeyerrors.New(valkeyerrors.KindConnectionClosed, "destination node has no live connection"))
				return nil
			}
			bufs := make([][]byte, len(indices))
			for j, idx := range indices {
				bufs[j] = cmds[idx].Encode()
			}
			results, execErr := nc.ExecuteMany(gctx, bufs)
			if execErr != nil {
				failAll(&mu, out, indices, execErr)
				return nil
			}
			mu.Lock()
			for j, idx := range indices {
				out[idx] = results[j]
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for i, r := range out {
		if r.Err != nil || !r.Token.IsError() {
			continue
		}
		if classifyReply(r.Token.Text()) == replyOther {
			continue
		}
		tok, rerr := c.Execute(ctx, cmds[i])
		if rerr != nil {
			out[i] = conn.Result{Err: rerr}
		} else {
			out[i] = conn.Result{Token: tok}
		}
	}
	return out, nil
}

func failAll(mu *sync.Mutex, out []conn.Result, indices []int, err error) {
	mu.Lock()
	defer mu.Unlock()
	for _, idx := range indices {
		out[idx] = conn.Result{Err: err}
	}
}
