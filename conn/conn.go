package conn

import (
	"context"
	"sync"

	"github.com/valkeygo/valkeygo/internal/logging"
	"github.com/valkeygo/valkeygo/pkg/valkeyerrors"
	"github.com/valkeygo/valkeygo/resp"
)

// Protocol selects the RESP protocol version negotiated with the server.
type Protocol int

const (
	RESP2 Protocol = 2
	RESP3 Protocol = 3
)

// EnqueueStatus reports the outcome of offering a request to a Connection.
type EnqueueStatus int

const (
	Enqueued EnqueueStatus = iota
	Dropped
	Terminated
)

// Result is one decoded response, or the error that prevented it from
// arriving (e.g. the connection closed before this response was read).
type Result struct {
	Token resp.Token
	Err   error
}

// DefaultQueueDepth bounds how many not-yet-written requests a Connection
// will hold before returning Dropped from Enqueue.
const DefaultQueueDepth = 4096

type request struct {
	bytes    []byte
	count    int
	resultCh chan []Result
}

// Connection owns exactly one Transport. It is safe for concurrent use:
// many callers may enqueue requests while earlier ones are still awaiting
// a response (true pipelining over the wire), but writes and reads are
// each serialized by a single driver goroutine so responses are delivered
// in request order (O1) and a pipeline's responses are never interleaved
// with another caller's request on the wire (O2).
type Connection struct {
	transport Transport
	addr      Address

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*request // written as soon as the writer goroutine drains it
	pending   []*request // already on the wire, awaiting responses
	closedErr error
	done      chan struct{}

	maxQueueDepth int
	wg            sync.WaitGroup
}

// Done returns a channel that is closed once the connection has failed or
// been closed. Callers use it to detect death without polling.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithQueueDepth overrides DefaultQueueDepth.
func WithQueueDepth(n int) Option {
	return func(c *Connection) { c.maxQueueDepth = n }
}

// New wraps transport in a Connection and starts its writer/reader
// goroutines. If protocol is RESP3, New performs the HELLO 3 handshake
// before returning (§4.1): the first inbound token is consumed, and an
// error token fails the connection with command_error.
func New(ctx context.Context, transport Transport, addr Address, protocol Protocol, opts ...Option) (*Connection, error) {
	c := &Connection{
		transport:     transport,
		addr:          addr,
		maxQueueDepth: DefaultQueueDepth,
		done:          make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, o := range opts {
		o(c)
	}

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()

	if protocol == RESP3 {
		tok, err := c.Send(ctx, resp.EncodeCommandStrings("HELLO", "3"))
		if err != nil {
			c.Close(err)
			return nil, err
		}
		if tok.IsError() {
			err := valkeyerrors.New(valkeyerrors.KindCommandError, tok.Text())
			c.Close(err)
			return nil, err
		}
	}

	return c, nil
}

// Send serializes a single request and returns the next inbound token.
func (c *Connection) Send(ctx context.Context, cmd []byte) (resp.Token, error) {
	results, err := c.Pipeline(ctx, cmd, 1)
	if err != nil {
		return resp.Token{}, err
	}
	return results[0].Token, results[0].Err
}

// Pipeline writes cmd once (a concatenation of one or more framed
// commands) and collects count responses in order. A single bad response
// (e.g. an error token) does not fail the rest of the batch — check each
// Result individually.
func (c *Connection) Pipeline(ctx context.Context, cmd []byte, count int) ([]Result, error) {
	req := &request{bytes: cmd, count: count, resultCh: make(chan []Result, 1)}
	switch c.enqueue(req) {
	case Dropped:
		return nil, valkeyerrors.New(valkeyerrors.KindConnectionClosed, "request queue full")
	case Terminated:
		return nil, c.closedError()
	}

	select {
	case results := <-req.resultCh:
		return results, nil
	case <-ctx.Done():
		return nil, valkeyerrors.Wrap(valkeyerrors.KindRequestCancelled, "send cancelled", ctx.Err())
	}
}

func (c *Connection) enqueue(req *request) EnqueueStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedErr != nil {
		return Terminated
	}
	if len(c.queue) >= c.maxQueueDepth {
		return Dropped
	}
	c.queue = append(c.queue, req)
	c.cond.Signal()
	return Enqueued
}

func (c *Connection) closedError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedErr != nil {
		return c.closedErr
	}
	return valkeyerrors.New(valkeyerrors.KindConnectionClosed, "connection closed")
}

// Close shuts the connection down: the whole transport is closed in both
// directions (there is no read-half-only close), every queued and
// in-flight request is resumed with err (defaulting to
// connection_closed), and the queue is closed to new entrants.
func (c *Connection) Close(err error) {
	if err == nil {
		err = valkeyerrors.New(valkeyerrors.KindConnectionClosed, "connection closed")
	}
	c.mu.Lock()
	already := c.closedErr != nil
	if !already {
		c.closedErr = err
		c.failAllLocked(err)
		close(c.done)
		c.cond.Broadcast()
	}
	c.mu.Unlock()
	if !already {
		c.transport.Close()
	}
	c.wg.Wait()
}

// failAllLocked must be called with c.mu held. It resumes every queued and
// pending request with err and empties both queues.
func (c *Connection) failAllLocked(err error) {
	for _, r := range c.queue {
		r.resultCh <- errorResults(r.count, err)
	}
	for _, r := range c.pending {
		r.resultCh <- errorResults(r.count, err)
	}
	c.queue = nil
	c.pending = nil
}

func errorResults(count int, err error) []Result {
	out := make([]Result, count)
	for i := range out {
		out[i] = Result{Err: err}
	}
	return out
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && c.closedErr == nil {
			c.cond.Wait()
		}
		if c.closedErr != nil {
			c.mu.Unlock()
			return
		}
		req := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if _, err := c.transport.Write(req.bytes); err != nil {
			logging.WithFields(map[string]interface{}{"addr": c.addr.String()}).WithError(err).Debug("connection write failed")
			c.failWithRequest(err, req)
			return
		}

		c.mu.Lock()
		if c.closedErr != nil {
			c.mu.Unlock()
			return
		}
		c.pending = append(c.pending, req)
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	fr := newFrameReader(c.transport)
	for {
		c.mu.Lock()
		for len(c.pending) == 0 && c.closedErr == nil {
			c.cond.Wait()
		}
		if c.closedErr != nil {
			c.mu.Unlock()
			return
		}
		req := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		results := make([]Result, req.count)
		failed := false
		for i := 0; i < req.count; i++ {
			tok, err := fr.next()
			if err != nil {
				failed = true
				wrapped := valkeyerrors.Wrap(valkeyerrors.KindConnectionClosed, "connection closed before response arrived", err)
				for j := i; j < req.count; j++ {
					results[j] = Result{Err: wrapped}
				}
				req.resultCh <- results
				c.failRemaining(wrapped)
				return
			}
			results[i] = Result{Token: tok}
		}
		if !failed {
			req.resultCh <- results
		}
	}
}

// failWithRequest handles a write error for a request already popped off
// c.queue: that request belongs to no slice, so it must be resolved here
// unconditionally even if another goroutine concurrently closed the
// connection first.
func (c *Connection) failWithRequest(cause error, failed *request) {
	wrapped := valkeyerrors.Wrap(valkeyerrors.KindConnectionClosed, "connection write failed", cause)
	c.mu.Lock()
	if c.closedErr == nil {
		c.closedErr = wrapped
		c.failAllLocked(wrapped)
		close(c.done)
		c.cond.Broadcast()
	}
	c.mu.Unlock()
	failed.resultCh <- errorResults(failed.count, wrapped)
	c.transport.Close()
}

func (c *Connection) failRemaining(err error) {
	c.mu.Lock()
	if c.closedErr == nil {
		c.closedErr = err
		c.failAllLocked(err)
		close(c.done)
		c.cond.Broadcast()
	}
	c.mu.Unlock()
	c.transport.Close()
}

// Addr returns the address this connection was dialed to.
func (c *Connection) Addr() Address { return c.addr }
