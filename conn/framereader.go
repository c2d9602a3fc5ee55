package conn

import (
	"github.com/valkeygo/valkeygo/resp"
)

// frameReader adapts a blocking Transport into the resumable resp.Decode
// contract: it accumulates bytes until a full token is available, yields
// it, and keeps the remainder for the next call.
type frameReader struct {
	r      Transport
	buf    []byte
	cursor int
}

func newFrameReader(r Transport) *frameReader {
	return &frameReader{r: r, buf: make([]byte, 0, 4096)}
}

// next blocks until one full RESP token (including any attribute prefixing
// it) has been read off the transport, or returns the read error (EOF on
// clean close).
func (fr *frameReader) next() (resp.Token, error) {
	for {
		tok, n, err := resp.Decode(fr.buf[fr.cursor:])
		if err == nil {
			fr.cursor += n
			fr.compact()
			return tok, nil
		}
		if err != resp.ErrIncomplete {
			return resp.Token{}, err
		}
		if err := fr.fill(); err != nil {
			return resp.Token{}, err
		}
	}
}

func (fr *frameReader) fill() error {
	chunk := make([]byte, 4096)
	n, err := fr.r.Read(chunk)
	if n > 0 {
		fr.buf = append(fr.buf, chunk[:n]...)
	}
	if n == 0 && err != nil {
		return err
	}
	return nil
}

// compact drops already-consumed bytes once the cursor has drifted far
// enough to be worth the copy.
func (fr *frameReader) compact() {
	if fr.cursor == 0 {
		return
	}
	if fr.cursor < 64*1024 && fr.cursor < len(fr.buf)/2 {
		return
	}
	remaining := len(fr.buf) - fr.cursor
	copy(fr.buf, fr.buf[fr.cursor:])
	fr.buf = fr.buf[:remaining]
	fr.cursor = 0
}
