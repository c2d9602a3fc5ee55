// Package node implements the per-endpoint client/pool component (§4.4): a
// single persistent Connection with reconnect, exposing execute,
// execute_many, execute_with_ask, and a graceful-shutdown lifecycle.
package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valkeygo/valkeygo/conn"
	"github.com/valkeygo/valkeygo/internal/backoff"
	"github.com/valkeygo/valkeygo/internal/logging"
	"github.com/valkeygo/valkeygo/pkg/valkeyerrors"
	"github.com/valkeygo/valkeygo/resp"
)

// Stats are the per-node counters exposed for operator visibility
// (SPEC_FULL §6.1, grounded on the teacher's cluster/monitoring.go NodeMetrics).
type Stats struct {
	Requests  uint64
	Errors    uint64
	Reconnect uint64
}

// Client wraps one endpoint. The minimal correct implementation — a single
// persistent connection with reconnect — is what's implemented here; a
// bounded multi-connection pool is a drop-in extension point behind the
// same interface (not needed by any SPEC_FULL component today).
type Client struct {
	addr     conn.Address
	factory  conn.ChannelFactory
	protocol conn.Protocol

	mu      sync.RWMutex
	current *conn.Connection

	shuttingDown atomic.Bool
	shutdownCh   chan struct{}
	doneCh       chan struct{}

	requests  atomic.Uint64
	errors    atomic.Uint64
	reconnect atomic.Uint64
}

// New constructs a node Client. Call Run in a goroutine to start its
// connection-maintenance loop before issuing requests.
func New(factory conn.ChannelFactory, addr conn.Address, protocol conn.Protocol) *Client {
	return &Client{
		addr:       addr,
		factory:    factory,
		protocol:   protocol,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Addr returns the endpoint this client drives.
func (c *Client) Addr() conn.Address { return c.addr }

// Run is the background driver: it maintains a live Connection, redialing
// with jittered backoff whenever the current one dies, until either ctx is
// cancelled or TriggerGracefulShutdown is called. It returns when shutdown
// completes.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.doneCh)
	bo := backoff.New(time.Now().UnixNano())
	attempt := 0
	connected := false
	log := logging.WithFields(map[string]interface{}{"addr": c.addr.String()})

	for {
		select {
		case <-ctx.Done():
			c.closeCurrent(valkeyerrors.New(valkeyerrors.KindClientShutDown, "run cancelled"))
			return ctx.Err()
		case <-c.shutdownCh:
			c.closeCurrent(valkeyerrors.New(valkeyerrors.KindClientShutDown, "graceful shutdown"))
			return nil
		default:
		}

		cn, err := c.dial(ctx)
		if err != nil {
			attempt++
			log.WithError(err).Debug("node dial failed, backing off")
			select {
			case <-time.After(bo.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			case <-c.shutdownCh:
				return nil
			}
			continue
		}
		if connected {
			c.reconnect.Add(1)
		}
		connected = true
		attempt = 0

		c.mu.Lock()
		c.current = cn
		c.mu.Unlock()

		select {
		case <-cn.Done():
		case <-ctx.Done():
			cn.Close(nil)
			return ctx.Err()
		case <-c.shutdownCh:
			cn.Close(nil)
			return nil
		}
	}
}

func (c *Client) dial(ctx context.Context) (*conn.Connection, error) {
	transport, err := c.factory.Dial(ctx, c.addr)
	if err != nil {
		return nil, err
	}
	return conn.New(ctx, transport, c.addr, c.protocol)
}

func (c *Client) closeCurrent(err error) {
	c.mu.Lock()
	cn := c.current
	c.current = nil
	c.mu.Unlock()
	if cn != nil {
		cn.Close(err)
	}
}

func (c *Client) acquire() (*conn.Connection, error) {
	c.mu.RLock()
	cn := c.current
	c.mu.RUnlock()
	if cn == nil {
		return nil, valkeyerrors.New(valkeyerrors.KindConnectionClosed, "node has no live connection")
	}
	return cn, nil
}

// Execute sends a single request and returns its response token.
func (c *Client) Execute(ctx context.Context, cmd []byte) (resp.Token, error) {
	cn, err := c.acquire()
	if err != nil {
		return resp.Token{}, err
	}
	c.requests.Add(1)
	tok, err := cn.Send(ctx, cmd)
	if err != nil {
		c.errors.Add(1)
	}
	return tok, err
}

// ExecuteMany pipelines cmds on one connection and returns one Result per
// input command, in order.
func (c *Client) ExecuteMany(ctx context.Context, cmds [][]byte) ([]conn.Result, error) {
	cn, err := c.acquire()
	if err != nil {
		return nil, err
	}
	var buf []byte
	for _, cmd := range cmds {
		buf = append(buf, cmd...)
	}
	c.requests.Add(uint64(len(cmds)))
	results, err := cn.Pipeline(ctx, buf, len(cmds))
	if err != nil {
		c.errors.Add(uint64(len(cmds)))
		return nil, err
	}
	return results, nil
}

// ExecuteWithAsk pipelines cmds, each preceded by ASKING, and discards each
// ASKING reply before returning the real result (§4.4, §6).
func (c *Client) ExecuteWithAsk(ctx context.Context, cmds [][]byte) ([]conn.Result, error) {
	cn, err := c.acquire()
	if err != nil {
		return nil, err
	}
	asking := resp.EncodeCommandStrings("ASKING")
	var buf []byte
	for _, cmd := range cmds {
		buf = append(buf, asking...)
		buf = append(buf, cmd...)
	}
	c.requests.Add(uint64(len(cmds)))
	raw, err := cn.Pipeline(ctx, buf, len(cmds)*2)
	if err != nil {
		c.errors.Add(uint64(len(cmds)))
		return nil, err
	}
	out := make([]conn.Result, len(cmds))
	for i := range cmds {
		out[i] = raw[2*i+1]
		if out[i].Err != nil {
			c.errors.Add(1)
		}
	}
	return out, nil
}

// TriggerGracefulShutdown stops Run from redialing and makes Run close the
// current connection. Requests still queued or awaiting a reply are not
// drained: Connection.Close fails them at once with an error.
func (c *Client) TriggerGracefulShutdown() {
	if c.shuttingDown.CompareAndSwap(false, true) {
		close(c.shutdownCh)
	}
}

// Stats returns a snapshot of this node's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:  c.requests.Load(),
		Errors:    c.errors.Load(),
		Reconnect: c.reconnect.Load(),
	}
}

// Done returns a channel closed once Run has returned.
func (c *Client) Done() <-chan struct{} { return c.doneCh }
