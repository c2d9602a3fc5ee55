// Package command defines the contract between the client core and the
// (out-of-scope) command definitions layer: the core only needs to encode
// a command's wire bytes, know which keys it touches for routing, and hand
// the raw response token back to a caller-supplied decoder.
package command

import "github.com/valkeygo/valkeygo/resp"

// Encodable is anything that can be framed onto the wire. KeysAffected
// returns the keys used for hash-slot routing; a keyless command (PING,
// INFO, …) returns nil.
type Encodable interface {
	Encode() []byte
	KeysAffected() []string
}

// Typed pairs an Encodable with a decoder from the raw response Token into
// the command's Go-typed result.
type Typed[R any] interface {
	Encodable
	Decode(resp.Token) (R, error)
}

// Raw wraps a plain byte-encoded command with no decoder, for callers that
// want the token as-is (used in the cluster package's tests; like
// Execute, ExecutePipeline accepts any Encodable and returns raw tokens
// for the caller to decode per §9's heterogeneous command-pack design).
type Raw struct {
	Bytes []byte
	Keys  []string
}

func (r Raw) Encode() []byte         { return r.Bytes }
func (r Raw) KeysAffected() []string { return r.Keys }
