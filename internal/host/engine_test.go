package host

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/session"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/tlv"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/rt"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/testutil/testlog"
)

const appID = 0x115

type rig struct {
	engine *Engine
	core   *rt.Runtime
	clock  *hmq.StepClock
	target Target
}

func newRig(t *testing.T, actions map[uint8]rt.Handler) *rig {
	t.Helper()
	fab, err := hmq.NewFabric(
		hmq.UniformBank(2, hmq.SlotConfig{Width: 16, Depth: 4}),
		hmq.UniformBank(1, hmq.SlotConfig{Width: 16, Depth: 4}),
	)
	if err != nil {
		t.Fatalf("fabric: %v", err)
	}
	mem := rt.NewMemory(2)
	reg, err := rt.NewRegistry(mem,
		[]rt.Variable{{Name: "a", Cell: 0, Mask: 0xFFFFFFFF}, {Name: "b", Cell: 1, Mask: 0xFF, Offset: 8}},
		[]rt.Structure{{Name: "s", Buffer: make([]byte, 16)}},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	codec := frame.HostCodec()
	core, err := rt.New(rt.Application{
		Name:     "rig",
		Version:  schema.Version{AppID: appID, AppVersion: schema.MakeVersion(3, 1)},
		MQs:      []rt.MQ{{Index: 0}, {Index: 1}},
		Registry: reg,
		Actions:  actions,
	}, fab.Local.CorePort(), fab.Remote.CorePort(), codec)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if err := core.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	clock := hmq.NewStepClock(time.Unix(0, 0))
	clock.OnSleep = func() { core.Step() }
	engine := NewEngine(fab.Local.HostPort(), codec, clock, session.Config{PollInterval: time.Millisecond})
	return &rig{engine: engine, core: core, clock: clock, target: Target{AppID: appID, In: 0, Out: 0}}
}

func TestPingEndToEnd(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	if err := r.engine.Ping(context.Background(), r.target); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestReplyEchoesRequestSequence(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	for i := 0; i < 3; i++ {
		call := r.target.call(schema.MsgPing, true)
		reply, err := r.engine.Do(context.Background(), call)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		if reply.Header.Seq != uint32(i+1) {
			t.Fatalf("call %d: reply seq %d", i, reply.Header.Seq)
		}
	}
}

func TestVersionEndToEnd(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	v, err := r.engine.Version(context.Background(), r.target)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v.AppID != appID || v.Major() != 3 || v.Minor() != 1 {
		t.Fatalf("unexpected version %+v", v)
	}
}

func TestVariablesEndToEnd(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	ctx := context.Background()
	back, err := r.engine.SetVariables(ctx, r.target, []tlv.Variable{{Index: 0, Value: 0xCAFE}, {Index: 1, Value: 0x1AB}}, true)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(back) != 2 || back[0].Value != 0xCAFE || back[1].Value != 0xAB {
		t.Fatalf("unexpected read-back %+v", back)
	}
	if got := r.core.Registry().Memory().Load(1); got != 0xAB00 {
		t.Fatalf("cell 1: %#x", got)
	}
	got, err := r.engine.GetVariables(ctx, r.target, []uint32{1, 9})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got[0] != (tlv.Variable{Index: 1, Value: 0xAB}) {
		t.Fatalf("variable 1: %+v", got[0])
	}
	if got[1] != (tlv.Variable{Index: protocol.InvalidValue, Value: protocol.InvalidValue}) {
		t.Fatalf("unknown variable: %+v", got[1])
	}
}

func TestStructuresEndToEnd(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	ctx := context.Background()
	data := []byte("0123456789abcdef")
	if _, err := r.engine.SetStructures(ctx, r.target, []tlv.Structure{tlv.NewStructure(0, data)}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := r.engine.GetStructures(ctx, r.target, []tlv.Structure{{Index: 0, Size: 16}, {Index: 0, Size: 4}})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[0].Data, data) {
		t.Fatalf("unexpected structures %+v", got)
	}
	if got[1].Index != protocol.InvalidValue || !bytes.Equal(got[1].Data, make([]byte, 4)) {
		t.Fatalf("mismatched record: %+v", got[1])
	}
}

func TestSyncCallTimesOutWithDefault(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	r.clock.OnSleep = nil
	start := r.clock.Now()

	err := r.engine.Ping(context.Background(), r.target)
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := r.clock.Now().Sub(start); elapsed < session.DefaultSyncTimeout {
		t.Fatalf("gave up after %v", elapsed)
	}
}

func TestFiltersDiscardUnrelatedFrames(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	if _, err := r.core.Send(0, false, frame.Header{MsgID: 40}, []uint32{1, 2}); err != nil {
		t.Fatalf("stray send: %v", err)
	}
	call := r.target.call(schema.MsgPing, true)
	call.Filters = []Filter{MatchMessageID(r.engine.Codec(), schema.MsgAck)}
	reply, err := r.engine.Do(context.Background(), call)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if reply.Header.MsgID != schema.MsgAck {
		t.Fatalf("filter let through %s", schema.Name(reply.Header.MsgID))
	}
}

func TestStandardCallsSkipStrayFrames(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	ctx := context.Background()
	if _, err := r.core.Send(0, false, frame.Header{MsgID: 40}, []uint32{7}); err != nil {
		t.Fatalf("stray send: %v", err)
	}
	if err := r.engine.Ping(ctx, r.target); err != nil {
		t.Fatalf("ping behind a logging frame: %v", err)
	}

	// A leftover ack must not be taken as the version reply.
	if _, err := r.core.Send(0, false, frame.Header{MsgID: schema.MsgAck}, nil); err != nil {
		t.Fatalf("stale ack: %v", err)
	}
	v, err := r.engine.Version(ctx, r.target)
	if err != nil {
		t.Fatalf("version behind a stale ack: %v", err)
	}
	if v.AppID != appID {
		t.Fatalf("unexpected version %+v", v)
	}
	if _, err := r.engine.Receive(ctx, 0, nil, 0); !errors.Is(err, hmq.ErrEmpty) {
		t.Fatalf("output slot not drained: %v", err)
	}
}

func TestReplyFilterAcceptsNack(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	call := r.target.call(schema.MsgVariableSet, true)
	call.Payload = []uint32{0}
	reply, err := r.engine.Do(context.Background(), call)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if reply.Header.MsgID != schema.MsgNack {
		t.Fatalf("odd-length set should be nacked, got %s", schema.Name(reply.Header.MsgID))
	}
}

func TestNackSurfacesAsUnexpectedReply(t *testing.T) {
	testlog.Start(t)
	fail := rt.HandlerFunc(func(*rt.Runtime, *rt.Request, *rt.Reply) error { return errors.New("refused") })
	r := newRig(t, map[uint8]rt.Handler{schema.FirstApplicationAction: fail})
	reply, err := r.engine.Do(context.Background(), r.target.call(schema.FirstApplicationAction, true))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if err := expect(reply, schema.MsgAck); !errors.Is(err, protocol.ErrUnexpectedReply) {
		t.Fatalf("expected ErrUnexpectedReply, got %v", err)
	}
}

func TestAssemblyFailureReleasesSlot(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	big := tlv.NewStructure(0, make([]byte, 64))
	_, err := r.engine.SetStructures(context.Background(), r.target, []tlv.Structure{big}, true)
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected framing error, got %v", err)
	}
	st, err := r.engine.Port().Status(hmq.Outbound, 0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Claimed || st.Occupied != 0 {
		t.Fatalf("slot left dirty: %+v", st)
	}
	if err := r.engine.Ping(context.Background(), r.target); err != nil {
		t.Fatalf("ping after failure: %v", err)
	}
}

func TestReceiveAsyncFrame(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, nil)
	ctx := context.Background()
	if _, err := r.engine.Receive(ctx, 1, nil, 0); !errors.Is(err, hmq.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	seq, err := r.core.Send(1, false, frame.Header{MsgID: 50}, []uint32{0xDEAD})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, err := r.engine.Receive(ctx, 1, []Filter{MatchSeq(r.engine.Codec(), seq)}, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Header.MsgID != 50 || len(msg.Payload) != 1 || msg.Payload[0] != 0xDEAD {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestFilterOps(t *testing.T) {
	testlog.Start(t)
	words := []uint32{0x00F0_1234}
	cases := []struct {
		f    Filter
		want bool
	}{
		{Filter{Op: FilterAnd, Mask: 0xFF, Value: 0x34}, true},
		{Filter{Op: FilterAnd, Mask: 0xFF, Value: 0x12}, false},
		{Filter{Op: FilterOr, Mask: 0x0000_FFFF, Value: 0x00F0_FFFF}, true},
		{Filter{Op: FilterEq, Value: 0x00F0_1234}, true},
		{Filter{Op: FilterEq, WordOffset: 3, Value: 0}, false},
	}
	for i, tc := range cases {
		if got := tc.f.Match(words); got != tc.want {
			t.Fatalf("case %d (%s): got %v want %v", i, tc.f.Op, got, tc.want)
		}
	}
	if !MatchAll(nil, words) {
		t.Fatalf("empty filter set must accept")
	}
}
