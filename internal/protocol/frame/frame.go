package frame

import (
	"fmt"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
)

// HeaderWords is the number of 32-bit words taken by the protocol header.
const HeaderWords = 4

// MaxPayloadWords is the largest payload the 8-bit len field can describe.
const MaxPayloadWords = 0xFF

const (
	FlagRemote     uint8 = 1 << 0
	FlagSync       uint8 = 1 << 1
	FlagRPC        uint8 = 1 << 2
	FlagPeriodical uint8 = 1 << 3
)

// Header is the protocol header in host order.
type Header struct {
	AppID  uint16
	MsgID  uint8
	SlotIO uint8
	Seq    uint32
	Len    uint8
	Flags  uint8
	Unused uint8
	Trans  uint8
	Time   uint32
}

// Route packs an input and an output slot index into the slot_io byte.
func Route(in, out int) uint8 {
	return uint8((in&0xF)<<4 | out&0xF)
}

func (h Header) InSlot() int  { return int(h.SlotIO>>4) & 0xF }
func (h Header) OutSlot() int { return int(h.SlotIO) & 0xF }
func (h Header) Sync() bool   { return h.Flags&FlagSync != 0 }
func (h Header) Remote() bool { return h.Flags&FlagRemote != 0 }

// words returns the header in memory layout, before any wire transform.
func (h Header) words() [HeaderWords]uint32 {
	return [HeaderWords]uint32{
		uint32(h.AppID) | uint32(h.MsgID)<<16 | uint32(h.SlotIO)<<24,
		h.Seq,
		uint32(h.Len) | uint32(h.Flags)<<8 | uint32(h.Unused)<<16 | uint32(h.Trans)<<24,
		h.Time,
	}
}

func headerFromWords(w [HeaderWords]uint32) Header {
	return Header{
		AppID:  uint16(w[0]),
		MsgID:  uint8(w[0] >> 16),
		SlotIO: uint8(w[0] >> 24),
		Seq:    w[1],
		Len:    uint8(w[2]),
		Flags:  uint8(w[2] >> 8),
		Unused: uint8(w[2] >> 16),
		Trans:  uint8(w[2] >> 24),
		Time:   w[3],
	}
}

// CapacityError reports a frame that would not fit its slot.
type CapacityError struct {
	Need     int
	Capacity int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("frame: need %d words, slot holds %d", e.Need, e.Capacity)
}

func (e CapacityError) Unwrap() error {
	return protocol.ErrFraming
}

// Frame is one message worth of words. Data is the whole slot buffer; Len is
// the number of words in use, header included.
type Frame struct {
	Data []uint32
	Len  int
}

// New allocates a frame for a slot of the given width in words.
func New(capacity int) *Frame {
	return &Frame{Data: make([]uint32, capacity)}
}

// Wrap builds a frame over an existing buffer, typically a claimed slot.
func Wrap(buf []uint32, used int) *Frame {
	if used > len(buf) {
		used = len(buf)
	}
	return &Frame{Data: buf, Len: used}
}

func (f *Frame) Capacity() int {
	return len(f.Data)
}

// Words returns the used portion of the frame.
func (f *Frame) Words() []uint32 {
	return f.Data[:f.Len]
}

// Payload returns the payload words declared by h.
func (f *Frame) Payload(h Header) ([]uint32, error) {
	end := HeaderWords + int(h.Len)
	if end > len(f.Data) {
		return nil, CapacityError{Need: end, Capacity: len(f.Data)}
	}
	return f.Data[HeaderWords:end], nil
}

// Check validates that a frame with header h fits the frame capacity.
func (f *Frame) Check(h Header) error {
	need := HeaderWords + int(h.Len)
	if need > len(f.Data) {
		return CapacityError{Need: need, Capacity: len(f.Data)}
	}
	return nil
}

// Pack writes header and payload into the frame, replacing its content.
func (f *Frame) Pack(c Codec, h Header, payload []uint32) error {
	if len(payload) > MaxPayloadWords {
		return fmt.Errorf("%w: payload of %d words exceeds len field", protocol.ErrFraming, len(payload))
	}
	h.Len = uint8(len(payload))
	if err := f.Check(h); err != nil {
		return err
	}
	c.Put(f.Data, h)
	copy(f.Data[HeaderWords:], payload)
	f.Len = HeaderWords + len(payload)
	return nil
}

// Unpack decodes the header and returns a view of the payload it declares.
func (f *Frame) Unpack(c Codec) (Header, []uint32, error) {
	if len(f.Data) < HeaderWords {
		return Header{}, nil, CapacityError{Need: HeaderWords, Capacity: len(f.Data)}
	}
	h := c.Get(f.Data)
	payload, err := f.Payload(h)
	if err != nil {
		return h, nil, err
	}
	return h, payload, nil
}

// Clone copies the used words into a new frame of the same capacity.
func (f *Frame) Clone() *Frame {
	out := New(len(f.Data))
	copy(out.Data, f.Data[:f.Len])
	out.Len = f.Len
	return out
}
