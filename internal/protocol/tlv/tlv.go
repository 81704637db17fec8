package tlv

import (
	"encoding/binary"
	"fmt"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
)

// RecordWords is the (index, size) prefix of a structure record.
const RecordWords = 2

// PairWords is the size of one (index, value) variable pair.
const PairWords = 2

// Structure is one structure record: Data holds Size bytes.
type Structure struct {
	Index uint32
	Size  uint32
	Data  []byte
}

// NewStructure builds a record whose Size matches data.
func NewStructure(index uint32, data []byte) Structure {
	return Structure{Index: index, Size: uint32(len(data)), Data: data}
}

// Variable is one (index, value) pair.
type Variable struct {
	Index uint32
	Value uint32
}

func framingf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", protocol.ErrFraming, fmt.Sprintf(format, args...))
}

// PushStructure appends s after the current payload, grows h.Len, re-encodes
// the header in place and updates the frame length. Nothing is written when
// the record does not fit.
func PushStructure(f *frame.Frame, c frame.Codec, h *frame.Header, s Structure) error {
	if s.Size%4 != 0 {
		return framingf("structure %d size %d is not a multiple of 4", s.Index, s.Size)
	}
	if uint32(len(s.Data)) < s.Size {
		return framingf("structure %d declares %d bytes, has %d", s.Index, s.Size, len(s.Data))
	}
	words := RecordWords + int(s.Size/4)
	newLen := int(h.Len) + words
	if newLen > frame.MaxPayloadWords {
		return framingf("payload of %d words exceeds len field", newLen)
	}
	offset := frame.HeaderWords + int(h.Len)
	if need := offset + words; need > f.Capacity() {
		return frame.CapacityError{Need: need, Capacity: f.Capacity()}
	}

	f.Data[offset] = s.Index
	f.Data[offset+1] = s.Size
	putBytes(f.Data[offset+RecordWords:offset+words], s.Data[:s.Size])

	h.Len = uint8(newLen)
	c.Put(f.Data, *h)
	f.Len = frame.HeaderWords + newLen
	return nil
}

// PopStructure takes the record at the payload head, copying its bytes into
// buf. The remaining payload is shifted to the head and h.Len shrinks by the
// consumed words. ok is false when the payload has no room for a record.
func PopStructure(f *frame.Frame, c frame.Codec, h *frame.Header, buf []byte) (s Structure, ok bool, err error) {
	*h = c.Get(f.Data)
	if h.Len < RecordWords+1 {
		return Structure{}, false, nil
	}
	payload, err := f.Payload(*h)
	if err != nil {
		return Structure{}, false, err
	}
	s.Index = payload[0]
	s.Size = payload[1]
	if s.Size%4 != 0 {
		return Structure{}, false, framingf("structure %d size %d is not a multiple of 4", s.Index, s.Size)
	}
	if s.Size/4 > uint32(h.Len)-RecordWords {
		return Structure{}, false, framingf("structure %d size %d exceeds declared payload", s.Index, s.Size)
	}
	if uint32(len(buf)) < s.Size {
		return Structure{}, false, framingf("structure %d size %d exceeds buffer of %d", s.Index, s.Size, len(buf))
	}
	words := RecordWords + int(s.Size/4)
	getBytes(buf[:s.Size], payload[RecordWords:words])
	s.Data = buf[:s.Size]

	rest := int(h.Len) - words
	copy(payload, payload[words:words+rest])
	h.Len = uint8(rest)
	c.Put(f.Data, *h)
	f.Len = frame.HeaderWords + rest
	return s, true, nil
}

// PushVariables appends (index, value) pairs after the current payload.
func PushVariables(f *frame.Frame, c frame.Codec, h *frame.Header, vars []Variable) error {
	words := PairWords * len(vars)
	newLen := int(h.Len) + words
	if newLen > frame.MaxPayloadWords {
		return framingf("payload of %d words exceeds len field", newLen)
	}
	offset := frame.HeaderWords + int(h.Len)
	if need := offset + words; need > f.Capacity() {
		return frame.CapacityError{Need: need, Capacity: f.Capacity()}
	}
	for i, v := range vars {
		f.Data[offset+PairWords*i] = v.Index
		f.Data[offset+PairWords*i+1] = v.Value
	}
	h.Len = uint8(newLen)
	c.Put(f.Data, *h)
	f.Len = frame.HeaderWords + newLen
	return nil
}

// PopVariables reads n pairs from the payload head. The count comes from the
// caller; the payload does not describe it.
func PopVariables(f *frame.Frame, c frame.Codec, h *frame.Header, n int) ([]Variable, error) {
	*h = c.Get(f.Data)
	if PairWords*n > int(h.Len) {
		return nil, framingf("%d pairs requested, payload has %d words", n, h.Len)
	}
	payload, err := f.Payload(*h)
	if err != nil {
		return nil, err
	}
	return DecodeVariables(payload[:PairWords*n])
}

// DecodeVariables splits a payload into pairs.
func DecodeVariables(payload []uint32) ([]Variable, error) {
	if len(payload)%PairWords != 0 {
		return nil, framingf("variable payload of %d words is not made of pairs", len(payload))
	}
	out := make([]Variable, 0, len(payload)/PairWords)
	for i := 0; i < len(payload); i += PairWords {
		out = append(out, Variable{Index: payload[i], Value: payload[i+1]})
	}
	return out, nil
}

// Records walks the structure records of a payload without copying. fn sees
// each record's index, size and data words. Bounds are checked for the whole
// payload before fn is first called.
func Records(payload []uint32, fn func(index, size uint32, data []uint32)) error {
	type rec struct {
		index, size uint32
		start, end  int
	}
	recs := make([]rec, 0, 4)
	for offset := 0; offset < len(payload); {
		if len(payload)-offset < RecordWords {
			return framingf("truncated record header at word %d", offset)
		}
		index, size := payload[offset], payload[offset+1]
		if size%4 != 0 {
			return framingf("structure %d size %d is not a multiple of 4", index, size)
		}
		start := offset + RecordWords
		if uint64(size/4) > uint64(len(payload)-start) {
			return framingf("structure %d size %d exceeds declared payload", index, size)
		}
		end := start + int(size/4)
		recs = append(recs, rec{index: index, size: size, start: start, end: end})
		offset = end
	}
	for _, r := range recs {
		fn(r.index, r.size, payload[r.start:r.end])
	}
	return nil
}

// PutBytes packs b into words, little-endian. len(b) must be 4*len(dst).
func PutBytes(dst []uint32, b []byte) {
	putBytes(dst, b)
}

// GetBytes unpacks words into b, little-endian.
func GetBytes(dst []byte, src []uint32) {
	getBytes(dst, src)
}

func putBytes(dst []uint32, b []byte) {
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(b[4*i : 4*i+4])
	}
}

func getBytes(dst []byte, src []uint32) {
	for i := 0; i < len(dst)/4; i++ {
		binary.LittleEndian.PutUint32(dst[4*i:4*i+4], src[i])
	}
}
