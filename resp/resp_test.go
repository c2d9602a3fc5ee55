package resp

import (
	"bytes"
	"testing"
)

func TestDecodeSimpleString(t *testing.T) {
	tok, n, err := Decode([]byte("+OK\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Fatalf("consumed = %d, want 5", n)
	}
	if tok.Kind != KindSimpleString || tok.Text() != "OK" {
		t.Fatalf("got %+v", tok)
	}
}

func TestDecodeBlobString(t *testing.T) {
	tok, n, err := Decode([]byte("$3\r\nbar\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("$3\r\nbar\r\n") {
		t.Fatalf("consumed = %d", n)
	}
	if tok.Kind != KindBlobString || tok.Text() != "bar" {
		t.Fatalf("got %+v", tok)
	}
}

func TestDecodeNullBulkRESP2(t *testing.T) {
	tok, _, err := Decode([]byte("$-1\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tok.IsNull() {
		t.Fatalf("expected null token, got %+v", tok)
	}
}

func TestDecodeArray(t *testing.T) {
	tok, n, err := Decode([]byte("*2\r\n$5\r\nhello\r\n$5\r\nworld\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("*2\r\n$5\r\nhello\r\n$5\r\nworld\r\n") {
		t.Fatalf("consumed mismatch: %d", n)
	}
	if tok.Kind != KindArray || len(tok.Elems) != 2 {
		t.Fatalf("got %+v", tok)
	}
	if tok.Elems[0].Text() != "hello" || tok.Elems[1].Text() != "world" {
		t.Fatalf("elements: %+v", tok.Elems)
	}
}

func TestDecodeIncompleteResumes(t *testing.T) {
	full := []byte("$5\r\nhello\r\n")
	for cut := 0; cut < len(full); cut++ {
		if _, _, err := Decode(full[:cut]); err != ErrIncomplete {
			t.Fatalf("at cut=%d expected ErrIncomplete, got %v", cut, err)
		}
	}
	tok, n, err := Decode(full)
	if err != nil || n != len(full) || tok.Text() != "hello" {
		t.Fatalf("final decode failed: tok=%+v n=%d err=%v", tok, n, err)
	}
}

func TestDecodeMap(t *testing.T) {
	buf := []byte("%2\r\n$3\r\nfoo\r\n:1\r\n$3\r\nbar\r\n:2\r\n")
	tok, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed = %d want %d", n, len(buf))
	}
	if tok.Kind != KindMap || len(tok.Pairs) != 2 {
		t.Fatalf("got %+v", tok)
	}
	if tok.Pairs[0].Key.Text() != "foo" || tok.Pairs[0].Value.Int() != 1 {
		t.Fatalf("pair0 = %+v", tok.Pairs[0])
	}
}

func TestDecodeAttributePrefixesFollowingToken(t *testing.T) {
	buf := []byte("|1\r\n$14\r\nkey-popularity\r\n%0\r\n*1\r\n:1\r\n")
	tok, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed = %d want %d", n, len(buf))
	}
	if tok.Kind != KindArray {
		t.Fatalf("expected the real token (array), got %+v", tok)
	}
	if tok.Attribute == nil || tok.Attribute.Kind != KindMap || len(tok.Attribute.Pairs) != 1 {
		t.Fatalf("attribute not attached: %+v", tok.Attribute)
	}
}

func TestDecodeDoubleBooleanBigNumber(t *testing.T) {
	d, _, err := Decode([]byte(",3.14\r\n"))
	if err != nil || d.Kind != KindDouble || d.Float() != 3.14 {
		t.Fatalf("double: tok=%+v err=%v", d, err)
	}
	b, _, err := Decode([]byte("#t\r\n"))
	if err != nil || b.Kind != KindBoolean || !b.Bool() {
		t.Fatalf("boolean: tok=%+v err=%v", b, err)
	}
	bn, _, err := Decode([]byte("(3492890328409238509324850943850943825024385\r\n"))
	if err != nil || bn.Kind != KindBigNumber || bn.Text() != "3492890328409238509324850943850943825024385" {
		t.Fatalf("bignumber: tok=%+v err=%v", bn, err)
	}
}

func TestDecodeInvalidBooleanCodepoint(t *testing.T) {
	if _, _, err := Decode([]byte("#x\r\n")); err == nil {
		t.Fatalf("expected error for invalid boolean codepoint")
	}
}

func TestDecodeMalformedLength(t *testing.T) {
	if _, _, err := Decode([]byte("$abc\r\nxx\r\n")); err == nil {
		t.Fatalf("expected error for non-numeric length")
	}
	if _, _, err := Decode([]byte("$-2\r\n")); err == nil {
		t.Fatalf("expected error for negative length other than -1")
	}
}

func TestEncodeCommand(t *testing.T) {
	got := EncodeCommandStrings("SET", "foo", "bar")
	want := []byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRoundTripArrayOfBlobStrings(t *testing.T) {
	encoded := EncodeCommandStrings("GET", "{user}.profile")
	tok, n, err := Decode(encoded)
	if err != nil || n != len(encoded) {
		t.Fatalf("decode of our own encoding failed: %v", err)
	}
	if tok.Kind != KindArray || len(tok.Elems) != 2 {
		t.Fatalf("got %+v", tok)
	}
	if tok.Elems[0].Text() != "GET" || tok.Elems[1].Text() != "{user}.profile" {
		t.Fatalf("round-trip mismatch: %+v", tok.Elems)
	}
}
