package frame

import (
	"errors"
	"testing"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
)

func TestHeaderRoundTripAllCodecs(t *testing.T) {
	codecs := map[string]Codec{
		"host":   HostCodec(),
		"native": {},
	}
	headers := []Header{
		{},
		{AppID: 0xFFFF, MsgID: 0xFF, SlotIO: 0xFF, Seq: 0xFFFFFFFF, Len: 0xFF, Flags: 0xFF, Unused: 0xFF, Trans: 0xFF, Time: 0xFFFFFFFF},
		{AppID: 0x1234, MsgID: 5, SlotIO: Route(1, 2), Seq: 77, Len: 6, Flags: FlagSync, Time: 123456},
		{AppID: 0xBEEF, MsgID: 10, SlotIO: Route(15, 0), Seq: 1, Flags: FlagSync | FlagRemote, Trans: 9},
	}
	for name, c := range codecs {
		for i, h := range headers {
			got := c.Decode(c.Encode(h))
			if got != h {
				t.Fatalf("%s[%d]: round-trip mismatch got=%+v want=%+v", name, i, got, h)
			}
		}
	}
}

func TestHostCodecWireLayout(t *testing.T) {
	h := Header{AppID: 0x1234, MsgID: 0x56, SlotIO: 0x78, Seq: 0xCAFEBABE, Len: 3, Flags: FlagSync, Time: 0x01020304}
	w := HostCodec().Encode(h)
	if w[0] != 0x12345678 {
		t.Fatalf("word0 got=%#08x", w[0])
	}
	if w[1] != 0xCAFEBABE {
		t.Fatalf("word1 must be untouched, got=%#08x", w[1])
	}
	if w[2] != 0x03020000 {
		t.Fatalf("word2 got=%#08x", w[2])
	}
	if w[3] != 0x01020304 {
		t.Fatalf("word3 must be untouched, got=%#08x", w[3])
	}
}

func TestPermutationInverseAllOrders(t *testing.T) {
	const sample uint32 = 0xA1B2C3D4
	count := 0
	for a := uint8(0); a < 4; a++ {
		for b := uint8(0); b < 4; b++ {
			for c := uint8(0); c < 4; c++ {
				for d := uint8(0); d < 4; d++ {
					p := Permutation{a, b, c, d}
					if !p.Valid() {
						continue
					}
					count++
					if got := p.Inverse().Apply(p.Apply(sample)); got != sample {
						t.Fatalf("perm %v: got=%#08x", p, got)
					}
				}
			}
		}
	}
	if count != 24 {
		t.Fatalf("expected 24 permutations, got %d", count)
	}
}

func TestNewCodecRejectsInvalidPermutation(t *testing.T) {
	_, err := NewCodec(Transforms{{0, 0, 1, 2}})
	if err == nil {
		t.Fatalf("expected error for duplicated byte position")
	}
}

func TestPackUnpack(t *testing.T) {
	c := HostCodec()
	f := New(16)
	h := Header{MsgID: 2, SlotIO: Route(0, 1), Flags: FlagSync}
	if err := f.Pack(c, h, []uint32{1, 2, 3, 4}); err != nil {
		t.Fatalf("pack: %v", err)
	}
	if f.Len != HeaderWords+4 {
		t.Fatalf("unexpected len=%d", f.Len)
	}
	got, payload, err := f.Unpack(c)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got.Len != 4 || got.MsgID != 2 || !got.Sync() {
		t.Fatalf("unexpected header: %+v", got)
	}
	if got.InSlot() != 0 || got.OutSlot() != 1 {
		t.Fatalf("unexpected routing in=%d out=%d", got.InSlot(), got.OutSlot())
	}
	for i, v := range []uint32{1, 2, 3, 4} {
		if payload[i] != v {
			t.Fatalf("payload[%d]=%d want %d", i, payload[i], v)
		}
	}
}

func TestPackExceedingCapacityIsFramingError(t *testing.T) {
	f := New(8)
	err := f.Pack(Codec{}, Header{}, make([]uint32, 5))
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
	var capErr CapacityError
	if !errors.As(err, &capErr) || capErr.Need != 9 || capErr.Capacity != 8 {
		t.Fatalf("unexpected capacity error: %+v", capErr)
	}
	if f.Len != 0 {
		t.Fatalf("frame must be untouched, len=%d", f.Len)
	}
}

func TestUnpackDeclaredLengthBeyondCapacity(t *testing.T) {
	c := HostCodec()
	f := New(6)
	c.Put(f.Data, Header{Len: 10})
	f.Len = HeaderWords
	if _, _, err := f.Unpack(c); !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}
