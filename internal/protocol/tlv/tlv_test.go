package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
)

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func TestStructurePushPopRoundTrip(t *testing.T) {
	c := frame.HostCodec()
	f := frame.New(32)
	h := frame.Header{MsgID: 3}
	c.Put(f.Data, h)
	f.Len = frame.HeaderWords

	in := NewStructure(7, seq(24))
	if err := PushStructure(f, c, &h, in); err != nil {
		t.Fatalf("push: %v", err)
	}
	if h.Len != 8 {
		t.Fatalf("unexpected len after push: %d", h.Len)
	}
	if f.Len != frame.HeaderWords+8 {
		t.Fatalf("unexpected frame len: %d", f.Len)
	}
	if got := c.Get(f.Data); got.Len != 8 {
		t.Fatalf("header not re-encoded in place: %+v", got)
	}

	buf := make([]byte, 64)
	out, ok, err := PopStructure(f, c, &h, buf)
	if err != nil || !ok {
		t.Fatalf("pop ok=%v err=%v", ok, err)
	}
	if out.Index != 7 || out.Size != 24 || !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("unexpected record: %+v", out)
	}
	if h.Len != 0 {
		t.Fatalf("len should return to pre-push value, got %d", h.Len)
	}
}

func TestStructureTooLargeIsRejectedBeforeCopy(t *testing.T) {
	c := frame.HostCodec()
	f := frame.New(32)
	h := frame.Header{}
	c.Put(f.Data, h)
	f.Len = frame.HeaderWords
	before := append([]uint32(nil), f.Data...)

	err := PushStructure(f, c, &h, NewStructure(1, seq(256)))
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
	if h.Len != 0 || f.Len != frame.HeaderWords {
		t.Fatalf("header/frame changed: len=%d frame=%d", h.Len, f.Len)
	}
	for i := range before {
		if f.Data[i] != before[i] {
			t.Fatalf("word %d modified", i)
		}
	}
}

func TestPushRejectsUnalignedSize(t *testing.T) {
	f := frame.New(32)
	h := frame.Header{}
	err := PushStructure(f, frame.Codec{}, &h, NewStructure(1, seq(6)))
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestPopIsNoOpWhenNothingToRead(t *testing.T) {
	c := frame.HostCodec()
	for _, n := range []uint8{0, 1, 2} {
		f := frame.New(16)
		h := frame.Header{Len: n}
		c.Put(f.Data, h)
		f.Data[4], f.Data[5] = 9, 4
		f.Len = frame.HeaderWords + int(n)

		_, ok, err := PopStructure(f, c, &h, make([]byte, 16))
		if err != nil || ok {
			t.Fatalf("len=%d: expected no-op, ok=%v err=%v", n, ok, err)
		}
		if h.Len != n || f.Len != frame.HeaderWords+int(n) {
			t.Fatalf("len=%d: frame changed", n)
		}
	}
}

func TestPopRejectsSizeBeyondDeclaredLength(t *testing.T) {
	c := frame.HostCodec()
	f := frame.New(16)
	h := frame.Header{Len: 4}
	c.Put(f.Data, h)
	f.Data[4], f.Data[5] = 1, 12 // needs 3 data words, only 2 declared
	f.Len = frame.HeaderWords + 4

	_, ok, err := PopStructure(f, c, &h, make([]byte, 16))
	if ok || !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming, ok=%v err=%v", ok, err)
	}
}

func TestRepeatedPopsShiftPayload(t *testing.T) {
	c := frame.HostCodec()
	f := frame.New(64)
	h := frame.Header{}
	c.Put(f.Data, h)
	f.Len = frame.HeaderWords

	first := NewStructure(1, []byte{1, 1, 1, 1, 2, 2, 2, 2})
	second := NewStructure(2, []byte{3, 3, 3, 3})
	third := NewStructure(3, seq(12))
	for _, s := range []Structure{first, second, third} {
		if err := PushStructure(f, c, &h, s); err != nil {
			t.Fatalf("push %d: %v", s.Index, err)
		}
	}
	for _, want := range []Structure{first, second, third} {
		got, ok, err := PopStructure(f, c, &h, make([]byte, 32))
		if err != nil || !ok {
			t.Fatalf("pop %d: ok=%v err=%v", want.Index, ok, err)
		}
		if got.Index != want.Index || !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("pop got=%+v want=%+v", got, want)
		}
	}
	if h.Len != 0 {
		t.Fatalf("payload should be drained, len=%d", h.Len)
	}
}

func TestVariablePairs(t *testing.T) {
	c := frame.HostCodec()
	f := frame.New(16)
	h := frame.Header{MsgID: 1}
	vars := []Variable{{Index: 3, Value: 5}, {Index: 0, Value: 0xFFFF}}
	if err := PushVariables(f, c, &h, vars); err != nil {
		t.Fatalf("push: %v", err)
	}
	if h.Len != 4 {
		t.Fatalf("unexpected len: %d", h.Len)
	}
	got, err := PopVariables(f, c, &h, 2)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(got) != 2 || got[0] != vars[0] || got[1] != vars[1] {
		t.Fatalf("unexpected vars: %+v", got)
	}
	if _, err := PopVariables(f, c, &h, 3); !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming for overlong count, got %v", err)
	}
}

func TestRecordsValidatesWholePayloadFirst(t *testing.T) {
	payload := []uint32{1, 4, 0xAA, 2, 40, 0}
	calls := 0
	err := Records(payload, func(index, size uint32, data []uint32) { calls++ })
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("no record may be visited when bounds fail, visited %d", calls)
	}

	payload = []uint32{1, 4, 0xAA, 2, 8, 0xBB, 0xCC}
	var seen []uint32
	if err := Records(payload, func(index, size uint32, data []uint32) { seen = append(seen, index) }); err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("unexpected records: %v", seen)
	}
}
