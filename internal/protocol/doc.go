// Package protocol owns the message-queue wire contract shared by the host
// and the real-time cores.
//
// Ownership boundary:
// - frame/header primitives (frame)
// - tlv structure and variable records (tlv)
// - standard message ids and payload rules (schema)
// - host call defaults and retry policy (session)
// - error kinds shared by every layer (this package)
package protocol
