package resp

import (
	"bytes"
	"fmt"

	"github.com/valkeygo/valkeygo/pkg/valkeyerrors"
)

// ErrIncomplete is returned by Decode when buf does not yet hold a full
// token. Callers should read more bytes and retry from the same cursor.
var ErrIncomplete = valkeyerrors.New(valkeyerrors.KindParseError, "incomplete frame")

// Decode parses one RESP value (plus any attribute prefixing it) from the
// head of buf. On success it returns the token and the number of bytes
// consumed. If buf does not yet contain a complete frame it returns
// ErrIncomplete and the caller must supply more bytes and retry from
// scratch (decoding is resumable, not streaming-stateful: callers re-call
// Decode with a larger buffer at the same starting offset).
func Decode(buf []byte) (Token, int, error) {
	if len(buf) == 0 {
		return Token{}, 0, ErrIncomplete
	}

	typ := buf[0]
	if typ == '|' {
		attr, n1, err := decodeAggregate(buf, KindMap, true)
		if err != nil {
			return Token{}, 0, err
		}
		tok, n2, err := Decode(buf[n1:])
		if err != nil {
			return Token{}, 0, err
		}
		tok.Attribute = &attr
		return tok, n1 + n2, nil
	}

	switch typ {
	case '+':
		return decodeLine(buf, KindSimpleString)
	case '-':
		return decodeLine(buf, KindSimpleError)
	case ':':
		return decodeLine(buf, KindNumber)
	case ',':
		return decodeLine(buf, KindDouble)
	case '(':
		return decodeLine(buf, KindBigNumber)
	case '#':
		return decodeBoolean(buf)
	case '_':
		return decodeNull(buf)
	case '$':
		return decodeBlob(buf, KindBlobString)
	case '!':
		return decodeBlob(buf, KindBlobError)
	case '=':
		return decodeVerbatim(buf)
	case '*':
		return decodeAggregate(buf, KindArray, false)
	case '~':
		return decodeAggregate(buf, KindSet, false)
	case '%':
		return decodeAggregate(buf, KindMap, true)
	case '>':
		return decodeAggregate(buf, KindPush, false)
	default:
		return Token{}, 0, parseErr(fmt.Sprintf("unknown type prefix %q", typ), buf)
	}
}

func parseErr(reason string, buf []byte) error {
	snippet := buf
	if len(snippet) > 32 {
		snippet = snippet[:32]
	}
	return valkeyerrors.New(valkeyerrors.KindParseError, fmt.Sprintf("%s (near %q)", reason, snippet))
}

// readLine returns the content between buf[1:] and the next "\r\n",
// plus total bytes consumed (including the leading type byte and the
// trailing CRLF).
func readLine(buf []byte) (content []byte, consumed int, err error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return nil, 0, ErrIncomplete
	}
	if idx == 0 || buf[idx-1] != '\r' {
		return nil, 0, parseErr("missing CRLF terminator", buf)
	}
	return buf[1 : idx-1], idx + 1, nil
}

func decodeLine(buf []byte, kind Kind) (Token, int, error) {
	content, consumed, err := readLine(buf)
	if err != nil {
		return Token{}, 0, err
	}
	return Token{Kind: kind, raw: append([]byte(nil), content...)}, consumed, nil
}

func decodeBoolean(buf []byte) (Token, int, error) {
	content, consumed, err := readLine(buf)
	if err != nil {
		return Token{}, 0, err
	}
	if len(content) != 1 || (content[0] != 't' && content[0] != 'f') {
		return Token{}, 0, parseErr("invalid boolean codepoint", buf)
	}
	return Token{Kind: KindBoolean, raw: append([]byte(nil), content...)}, consumed, nil
}

func decodeNull(buf []byte) (Token, int, error) {
	_, consumed, err := readLine(buf)
	if err != nil {
		return Token{}, 0, err
	}
	return Token{Kind: KindNull}, consumed, nil
}

func parseLength(content []byte, buf []byte) (int, error) {
	n := 0
	neg := false
	if len(content) == 0 {
		return 0, parseErr("malformed length", buf)
	}
	i := 0
	if content[0] == '-' {
		neg = true
		i = 1
	}
	if i >= len(content) {
		return 0, parseErr("malformed length", buf)
	}
	for ; i < len(content); i++ {
		c := content[i]
		if c < '0' || c > '9' {
			return 0, parseErr("malformed length", buf)
		}
		n = n*10 + int(c-'0')
		if n > (1 << 30) {
			return 0, parseErr("oversize length", buf)
		}
	}
	if neg {
		n = -n
	}
	if neg && n != -1 {
		return 0, parseErr("negative length other than -1", buf)
	}
	return n, nil
}

func decodeBlob(buf []byte, kind Kind) (Token, int, error) {
	header, consumed, err := readLine(buf)
	if err != nil {
		return Token{}, 0, err
	}
	length, err := parseLength(header, buf)
	if err != nil {
		return Token{}, 0, err
	}
	if length == -1 {
		return Token{Kind: KindNull}, consumed, nil
	}
	need := consumed + length + 2
	if len(buf) < need {
		return Token{}, 0, ErrIncomplete
	}
	payload := buf[consumed : consumed+length]
	if buf[consumed+length] != '\r' || buf[consumed+length+1] != '\n' {
		return Token{}, 0, parseErr("missing CRLF after blob payload", buf)
	}
	return Token{Kind: kind, raw: append([]byte(nil), payload...)}, need, nil
}

func decodeVerbatim(buf []byte) (Token, int, error) {
	header, consumed, err := readLine(buf)
	if err != nil {
		return Token{}, 0, err
	}
	length, err := parseLength(header, buf)
	if err != nil {
		return Token{}, 0, err
	}
	if length < 4 {
		return Token{}, 0, parseErr("verbatim string too short for encoding tag", buf)
	}
	need := consumed + length + 2
	if len(buf) < need {
		return Token{}, 0, ErrIncomplete
	}
	payload := buf[consumed : consumed+length]
	if payload[3] != ':' {
		return Token{}, 0, parseErr("verbatim string missing encoding tag separator", buf)
	}
	if buf[consumed+length] != '\r' || buf[consumed+length+1] != '\n' {
		return Token{}, 0, parseErr("missing CRLF after verbatim payload", buf)
	}
	return Token{
		Kind:             KindVerbatimString,
		raw:              append([]byte(nil), payload[4:]...),
		VerbatimEncoding: string(payload[:3]),
	}, need, nil
}

// decodeAggregate decodes arrays/sets/pushes (elementsPerEntry=1) and
// maps/attributes (elementsPerEntry=2, paired into Pairs). A declared count
// of -1 (RESP2 null array) yields a KindNull token.
func decodeAggregate(buf []byte, kind Kind, isMapShaped bool) (Token, int, error) {
	header, consumed, err := readLine(buf)
	if err != nil {
		return Token{}, 0, err
	}
	count, err := parseLength(header, buf)
	if err != nil {
		return Token{}, 0, err
	}
	if count == -1 {
		return Token{Kind: KindNull}, consumed, nil
	}

	elementCount := count
	if isMapShaped {
		elementCount = count * 2
	}

	elems := make([]Token, 0, elementCount)
	for i := 0; i < elementCount; i++ {
		elem, n, err := Decode(buf[consumed:])
		if err != nil {
			return Token{}, 0, err
		}
		elems = append(elems, elem)
		consumed += n
	}

	if !isMapShaped {
		return Token{Kind: kind, Elems: elems}, consumed, nil
	}

	pairs := make([]Pair, 0, count)
	for i := 0; i+1 < len(elems); i += 2 {
		pairs = append(pairs, Pair{Key: elems[i], Value: elems[i+1]})
	}
	return Token{Kind: kind, Pairs: pairs}, consumed, nil
}
