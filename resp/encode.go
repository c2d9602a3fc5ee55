package resp

import (
	"strconv"
)

// EncodeCommand frames args as a RESP2 array of blob strings:
// *N\r\n$len1\r\n<arg1>\r\n...$lenN\r\n<argN>\r\n. Redis-compatible servers
// accept this inline form regardless of the negotiated protocol version, so
// the encoder never needs to special-case RESP3.
func EncodeCommand(args ...[]byte) []byte {
	out := make([]byte, 0, estimateSize(args))
	return AppendCommand(out, args...)
}

// AppendCommand is the allocation-friendly form of EncodeCommand, appending
// the framed command onto dst and returning the grown slice.
func AppendCommand(dst []byte, args ...[]byte) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, '\r', '\n')
	for _, a := range args {
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(a)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, a...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}

// EncodeCommandStrings is a convenience wrapper for callers building a
// command from string arguments.
func EncodeCommandStrings(args ...string) []byte {
	bargs := make([][]byte, len(args))
	for i, a := range args {
		bargs[i] = []byte(a)
	}
	return EncodeCommand(bargs...)
}

func estimateSize(args [][]byte) int {
	n := 16
	for _, a := range args {
		n += len(a) + 16
	}
	return n
}
