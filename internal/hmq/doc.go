// Package hmq models the hardware message queues shared by the host and the
// real-time cores.
//
// A Port is one side's view of a queue bank: outbound slots it claims, fills
// and marks ready, inbound slots it maps and discards, and a poll bitmap of
// inbound slots holding at least one entry. Fabric is an in-memory bank pair
// with the same semantics as the gateware, used by the simulator and tests.
//
// Slot naming follows the cores: "input" slots carry host->core traffic and
// "output" slots carry core->host traffic.
package hmq
