// Package remote exposes an hmq.Port over a stream connection so host tools
// can drive a bank that lives in another process. Each message is a 4-byte
// big-endian length followed by a msgpack envelope; every request gets
// exactly one response.
package remote
