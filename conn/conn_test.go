package conn

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/valkeygo/valkeygo/resp"
)

// fakeServer echoes canned replies for each request line it reads, so we
// can drive a Connection against deterministic wire bytes without a real
// Redis-compatible server.
func fakeServer(t *testing.T, server net.Conn, replies ...[]byte) {
	t.Helper()
	go func() {
		r := bufio.NewReader(server)
		for _, reply := range replies {
			// Drain one full RESP array command before replying.
			if _, err := readOneCommand(r); err != nil {
				return
			}
			if _, err := server.Write(reply); err != nil {
				return
			}
		}
	}()
}

func readOneCommand(r *bufio.Reader) ([]byte, error) {
	buf := make([]byte, 0, 256)
	for {
		_, n, err := resp.Decode(buf)
		if err == nil {
			return buf[:n], nil
		}
		if err != resp.ErrIncomplete {
			return nil, err
		}
		b, rerr := r.ReadByte()
		if rerr != nil {
			return nil, rerr
		}
		buf = append(buf, b)
	}
}

func dialPipe(t *testing.T, replies ...[]byte) *Connection {
	t.Helper()
	client, server := net.Pipe()
	fakeServer(t, server, replies...)
	c, err := New(context.Background(), client, Address{Host: "127.0.0.1", Port: 6379}, RESP2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close(nil) })
	return c
}

func TestSendSingleGet(t *testing.T) {
	c := dialPipe(t, []byte("$3\r\nbar\r\n"))
	tok, err := c.Send(context.Background(), resp.EncodeCommandStrings("GET", "foo"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tok.Text() != "bar" {
		t.Fatalf("got %+v", tok)
	}
}

func TestPipelineOrderPreserved(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		r := bufio.NewReader(server)
		for i := 0; i < 3; i++ {
			if _, err := readOneCommand(r); err != nil {
				return
			}
		}
		server.Write([]byte(":1\r\n:2\r\n:3\r\n"))
	}()
	c, err := New(context.Background(), client, Address{Host: "h", Port: 1}, RESP2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(nil)

	cmd := append(append(
		resp.EncodeCommandStrings("INCR", "x"),
		resp.EncodeCommandStrings("INCR", "x")...),
		resp.EncodeCommandStrings("INCR", "x")...)
	results, err := c.Pipeline(context.Background(), cmd, 3)
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	want := []int64{1, 2, 3}
	for i, r := range results {
		if r.Err != nil || r.Token.Int() != want[i] {
			t.Fatalf("result[%d] = %+v, want %d", i, r, want[i])
		}
	}
}

func TestSendFailsAfterPeerClosed(t *testing.T) {
	client, server := net.Pipe()
	c, err := New(context.Background(), client, Address{Host: "h", Port: 1}, RESP2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	server.Close() // simulate the peer going away before any reply

	_, err = c.Send(context.Background(), resp.EncodeCommandStrings("GET", "foo"))
	if err == nil {
		t.Fatalf("expected connection_closed error")
	}
	c.Close(nil)
}

func TestHelloHandshakeFailsOnErrorToken(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		r := bufio.NewReader(server)
		readOneCommand(r)
		server.Write([]byte("-ERR unsupported protocol\r\n"))
	}()
	_, err := New(context.Background(), client, Address{Host: "h", Port: 1}, RESP3)
	if err == nil {
		t.Fatalf("expected HELLO failure to surface")
	}
}
