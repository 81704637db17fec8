package hmq

import (
	"errors"
	"fmt"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
)

var ErrEmpty = errors.New("hmq: slot empty")

// RemotePollShift is where remote-bank bits start in a core poll word.
const RemotePollShift = 16

// MaxSlots is the number of slots a bank can address with a nibble.
const MaxSlots = 16

type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Status is the per-slot status register.
type Status struct {
	Width    int
	Depth    int
	Occupied int
	Count    int
	Full     bool
	Empty    bool
	Claimed  bool
}

// Port is the queue control interface of one side of a bank.
type Port interface {
	// Claim reserves an outbound slot and returns its write buffer.
	Claim(slot int) ([]uint32, error)
	// Ready commits count words of the claimed buffer as one entry.
	Ready(slot int, count int) error
	// Purge drops every entry of an outbound slot and any pending claim.
	Purge(slot int) error
	// Map returns the head entry of an inbound slot. The slice stays valid
	// until Discard.
	Map(slot int) ([]uint32, error)
	// Discard releases the head entry of an inbound slot.
	Discard(slot int) error
	Status(dir Direction, slot int) (Status, error)
	// Poll returns one bit per inbound slot that is not empty. An error means
	// the queue could not be read, not that it is idle.
	Poll() (uint32, error)
	// Slots returns the number of slots in a direction.
	Slots(dir Direction) int
}

func errNoSlot(dir Direction, slot int) error {
	return fmt.Errorf("%w: no %s slot %d", protocol.ErrTransport, dir, slot)
}
