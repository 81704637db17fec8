package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/observability"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/session"
)

// Message is a decoded frame owned by the caller.
type Message struct {
	Header  frame.Header
	Payload []uint32
}

// Assembler writes the request payload into the claimed slot. h starts with
// Len 0 and must be kept in step with the frame, as the tlv helpers do.
type Assembler func(f *frame.Frame, c frame.Codec, h *frame.Header) error

// Call describes one transaction. In is the core input slot the request is
// written to and Out the output slot a synchronous reply is read from.
type Call struct {
	Header   frame.Header
	Payload  []uint32
	Assemble Assembler
	In       int
	Out      int
	Sync     bool
	Filters  []Filter
	// Replies lists the message ids accepted as the answer. Other frames on
	// the output slot are discarded while waiting. Empty accepts any id.
	Replies []uint8
	// Timeout bounds the reply wait. Zero uses the engine default.
	Timeout time.Duration
}

// Engine serialises transactions per slot on one host port.
type Engine struct {
	port   hmq.Port
	codec  frame.Codec
	clock  hmq.Clock
	cfg    session.Config
	in     []sync.Mutex
	out    []sync.Mutex
	seq    atomic.Uint32
	logger zerolog.Logger
}

func NewEngine(port hmq.Port, codec frame.Codec, clock hmq.Clock, cfg session.Config) *Engine {
	if clock == nil {
		clock = hmq.SystemClock{}
	}
	return &Engine{
		port:   port,
		codec:  codec,
		clock:  clock,
		cfg:    cfg.Normalize(),
		in:     make([]sync.Mutex, port.Slots(hmq.Outbound)),
		out:    make([]sync.Mutex, port.Slots(hmq.Inbound)),
		logger: observability.Component("host"),
	}
}

func (e *Engine) Codec() frame.Codec {
	return e.codec
}

func (e *Engine) Port() hmq.Port {
	return e.port
}

// Do runs a transaction. For asynchronous calls the returned message is the
// request as sent.
func (e *Engine) Do(ctx context.Context, call Call) (Message, error) {
	start := e.clock.Now()
	msg, err := e.do(ctx, call)
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrTimeout):
		result = "timeout"
	case errors.Is(err, protocol.ErrSlotBusy):
		result = "busy"
	default:
		result = "error"
	}
	observability.RecordTransaction(schema.Name(call.Header.MsgID), call.Sync, result, e.clock.Now().Sub(start))
	return msg, err
}

func (e *Engine) do(ctx context.Context, call Call) (Message, error) {
	if call.In < 0 || call.In >= len(e.in) {
		return Message{}, fmt.Errorf("%w: no input slot %d", protocol.ErrTransport, call.In)
	}
	e.in[call.In].Lock()
	defer e.in[call.In].Unlock()
	if call.Sync {
		if call.Out < 0 || call.Out >= len(e.out) {
			return Message{}, fmt.Errorf("%w: no output slot %d", protocol.ErrTransport, call.Out)
		}
		e.out[call.Out].Lock()
		defer e.out[call.Out].Unlock()
	}

	sent, err := e.send(call)
	if err != nil {
		return Message{}, err
	}
	if !call.Sync {
		return sent, nil
	}
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = e.cfg.SyncTimeout
	}
	reply, err := e.wait(ctx, call.Out, call.Filters, call.Replies, timeout)
	if err != nil {
		return Message{}, fmt.Errorf("%s seq %d: %w", schema.Name(sent.Header.MsgID), sent.Header.Seq, err)
	}
	return reply, nil
}

func (e *Engine) send(call Call) (Message, error) {
	buf, err := e.port.Claim(call.In)
	if err != nil {
		return Message{}, err
	}
	h := call.Header
	h.SlotIO = frame.Route(call.In, call.Out)
	h.Seq = e.seq.Add(1)
	h.Len = 0
	if call.Sync {
		h.Flags |= frame.FlagSync
	} else {
		h.Flags &^= frame.FlagSync
	}

	f := frame.Wrap(buf, 0)
	if call.Assemble != nil {
		if len(buf) < frame.HeaderWords {
			err = frame.CapacityError{Need: frame.HeaderWords, Capacity: len(buf)}
		} else {
			e.codec.Put(buf, h)
			f.Len = frame.HeaderWords
			err = call.Assemble(f, e.codec, &h)
		}
	} else {
		err = f.Pack(e.codec, h, call.Payload)
		h.Len = uint8(len(call.Payload))
	}
	if err != nil {
		if perr := e.port.Purge(call.In); perr != nil {
			e.logger.Warn().Err(perr).Int("slot", call.In).Msg("purge after failed assembly")
		}
		return Message{}, err
	}
	if err := e.port.Ready(call.In, f.Len); err != nil {
		return Message{}, err
	}
	e.logger.Debug().
		Str("msg", schema.Name(h.MsgID)).
		Uint32("seq", h.Seq).
		Int("in", call.In).
		Int("out", call.Out).
		Bool("sync", call.Sync).
		Msg("sent")
	payload := append([]uint32(nil), f.Data[frame.HeaderWords:f.Len]...)
	return Message{Header: h, Payload: payload}, nil
}

// wait polls slot until a frame passes filters and carries one of the
// accepted reply ids. Other frames are discarded. Matching does not look at
// the sequence number unless a filter asks for it.
func (e *Engine) wait(ctx context.Context, slot int, filters []Filter, replies []uint8, timeout time.Duration) (Message, error) {
	deadline := e.clock.Now().Add(timeout)
	for {
		msg, ok, err := e.take(slot, filters, replies)
		if err != nil {
			return Message{}, err
		}
		if ok {
			return msg, nil
		}
		if !e.clock.Now().Before(deadline) {
			return Message{}, fmt.Errorf("%w: no reply on slot %d after %v", protocol.ErrTimeout, slot, timeout)
		}
		if err := e.clock.Sleep(ctx, e.cfg.PollInterval); err != nil {
			return Message{}, err
		}
	}
}

// take consumes entries of slot until one is accepted or the slot is empty.
// A failed poll is a transport failure, not an idle slot.
func (e *Engine) take(slot int, filters []Filter, replies []uint8) (Message, bool, error) {
	for {
		pending, err := e.port.Poll()
		if err != nil {
			return Message{}, false, err
		}
		if pending&(1<<uint(slot)) == 0 {
			return Message{}, false, nil
		}
		words, err := e.port.Map(slot)
		if errors.Is(err, hmq.ErrEmpty) {
			return Message{}, false, nil
		}
		if err != nil {
			return Message{}, false, err
		}
		matched := MatchAll(filters, words) && e.accepts(words, replies)
		var msg Message
		if matched {
			msg, err = e.decode(words)
		}
		if derr := e.port.Discard(slot); derr != nil {
			return Message{}, false, derr
		}
		if !matched {
			e.logger.Debug().Int("slot", slot).Msg("frame rejected by filters")
			continue
		}
		if err != nil {
			return Message{}, false, err
		}
		return msg, true, nil
	}
}

func (e *Engine) accepts(words []uint32, replies []uint8) bool {
	if len(replies) == 0 {
		return true
	}
	if len(words) < frame.HeaderWords {
		return false
	}
	id := e.codec.Get(words).MsgID
	for _, r := range replies {
		if id == r {
			return true
		}
	}
	return false
}

func (e *Engine) decode(words []uint32) (Message, error) {
	f := frame.Wrap(words, len(words))
	h, payload, err := f.Unpack(e.codec)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", protocol.ErrFraming, err)
	}
	return Message{Header: h, Payload: append([]uint32(nil), payload...)}, nil
}

// Receive waits for an asynchronous frame on an output slot, such as a
// logging slot. A zero timeout returns hmq.ErrEmpty immediately when nothing
// is pending.
func (e *Engine) Receive(ctx context.Context, slot int, filters []Filter, timeout time.Duration) (Message, error) {
	if slot < 0 || slot >= len(e.out) {
		return Message{}, fmt.Errorf("%w: no output slot %d", protocol.ErrTransport, slot)
	}
	e.out[slot].Lock()
	defer e.out[slot].Unlock()
	if timeout <= 0 {
		msg, ok, err := e.take(slot, filters, nil)
		if err != nil {
			return Message{}, err
		}
		if !ok {
			return Message{}, hmq.ErrEmpty
		}
		return msg, nil
	}
	return e.wait(ctx, slot, filters, nil, timeout)
}
