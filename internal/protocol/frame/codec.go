package frame

import "fmt"

// Permutation reorders the four bytes of a word: byte i of the result is byte
// p[i] of the input, bytes numbered from the least significant.
type Permutation [4]uint8

var (
	Identity = Permutation{0, 1, 2, 3}
	Swap32   = Permutation{3, 2, 1, 0}
	// SwapLowThen32 swaps the two low bytes and then the whole word. The queue
	// fabric presents word 0 of the host header this way.
	SwapLowThen32 = Permutation{3, 2, 0, 1}
)

// Valid reports whether p is a permutation of the four byte positions.
func (p Permutation) Valid() bool {
	var seen [4]bool
	for _, v := range p {
		if v > 3 || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// Inverse returns the permutation undoing p.
func (p Permutation) Inverse() Permutation {
	var inv Permutation
	for i, v := range p {
		inv[v] = uint8(i)
	}
	return inv
}

// Apply reorders the bytes of w.
func (p Permutation) Apply(w uint32) uint32 {
	if p == Identity {
		return w
	}
	var out uint32
	for i, src := range p {
		b := (w >> (8 * uint32(src))) & 0xFF
		out |= b << (8 * uint32(i))
	}
	return out
}

// Transforms is the per-word table applied to the header on its way to the
// wire. Payload words are never transformed.
type Transforms [HeaderWords]Permutation

// HostTransforms is the table used by host drivers on the deployed fabric.
var HostTransforms = Transforms{SwapLowThen32, Identity, Swap32, Identity}

// NativeTransforms leaves every header word as laid out in memory.
var NativeTransforms = Transforms{Identity, Identity, Identity, Identity}

// Codec packs and unpacks headers using a transform table. The zero value is
// the native codec.
type Codec struct {
	encode Transforms
	decode Transforms
}

// NewCodec builds a codec from a table.
func NewCodec(t Transforms) (Codec, error) {
	var c Codec
	for i, p := range t {
		if p == (Permutation{}) {
			p = Identity
		}
		if !p.Valid() {
			return Codec{}, fmt.Errorf("frame: header word %d: invalid byte permutation %v", i, p)
		}
		c.encode[i] = p
		c.decode[i] = p.Inverse()
	}
	return c, nil
}

// MustCodec is NewCodec for static tables.
func MustCodec(t Transforms) Codec {
	c, err := NewCodec(t)
	if err != nil {
		panic(err)
	}
	return c
}

// HostCodec returns the codec for HostTransforms.
func HostCodec() Codec {
	return MustCodec(HostTransforms)
}

func (c Codec) normalized() Codec {
	if c == (Codec{}) {
		return MustCodec(NativeTransforms)
	}
	return c
}

// Encode returns the wire words for h.
func (c Codec) Encode(h Header) [HeaderWords]uint32 {
	c = c.normalized()
	w := h.words()
	for i := range w {
		w[i] = c.encode[i].Apply(w[i])
	}
	return w
}

// Decode is the exact inverse of Encode.
func (c Codec) Decode(w [HeaderWords]uint32) Header {
	c = c.normalized()
	for i := range w {
		w[i] = c.decode[i].Apply(w[i])
	}
	return headerFromWords(w)
}

// Put encodes h into the first HeaderWords of dst.
func (c Codec) Put(dst []uint32, h Header) {
	w := c.Encode(h)
	copy(dst[:HeaderWords], w[:])
}

// Get decodes the header from the first HeaderWords of src.
func (c Codec) Get(src []uint32) Header {
	var w [HeaderWords]uint32
	copy(w[:], src[:HeaderWords])
	return c.Decode(w)
}

// EncodeWord applies the wire transform of header word i to a raw value. It
// is used to express filters on header fields in wire order.
func (c Codec) EncodeWord(i int, v uint32) uint32 {
	if i < 0 || i >= HeaderWords {
		return v
	}
	c = c.normalized()
	return c.encode[i].Apply(v)
}
