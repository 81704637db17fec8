package rt

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/observability"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
)

// DefaultIdle is how long Run sleeps after a pass that found no work.
const DefaultIdle = 50 * time.Microsecond

// Runtime is the per-image context passed to every handler.
type Runtime struct {
	app      Application
	registry *Registry
	actions  []Handler
	local    hmq.Port
	remote   hmq.Port
	codec    frame.Codec
	seq      atomic.Uint32
	logger   zerolog.Logger
}

// New builds a runtime. remote may be nil when no MQ uses the remote bank.
func New(app Application, local, remote hmq.Port, codec frame.Codec) (*Runtime, error) {
	if err := app.validate(); err != nil {
		return nil, err
	}
	if local == nil {
		return nil, fmt.Errorf("%w: local port is required", ErrInvalidApplication)
	}
	for _, mq := range app.MQs {
		port := local
		if mq.Remote {
			port = remote
		}
		if port == nil {
			return nil, fmt.Errorf("%w: mq %d uses the remote bank but none is attached", ErrInvalidApplication, mq.Index)
		}
		if mq.Index >= port.Slots(hmq.Inbound) {
			return nil, fmt.Errorf("%w: mq %d exceeds bank of %d slots", ErrInvalidApplication, mq.Index, port.Slots(hmq.Inbound))
		}
	}
	actions, err := buildActions(app)
	if err != nil {
		return nil, err
	}
	reg := app.Registry
	if reg == nil {
		reg, _ = NewRegistry(nil, nil, nil)
	}
	return &Runtime{
		app:      app,
		registry: reg,
		actions:  actions,
		local:    local,
		remote:   remote,
		codec:    codec,
		logger:   observability.Component("rt").With().Str("app", app.Name).Logger(),
	}, nil
}

func (r *Runtime) Name() string            { return r.app.Name }
func (r *Runtime) Version() schema.Version { return r.app.Version }
func (r *Runtime) Registry() *Registry     { return r.registry }
func (r *Runtime) MQs() []MQ               { return r.app.MQs }
func (r *Runtime) Logger() *zerolog.Logger { return &r.logger }

func (r *Runtime) port(remote bool) hmq.Port {
	if remote {
		return r.remote
	}
	return r.local
}

// Init purges the output slot paired with every served MQ.
func (r *Runtime) Init() error {
	for _, mq := range r.app.MQs {
		port := r.port(mq.Remote)
		if mq.Index >= port.Slots(hmq.Outbound) {
			continue
		}
		if err := port.Purge(mq.Index); err != nil {
			return fmt.Errorf("purge output slot %d: %w", mq.Index, err)
		}
	}
	r.logger.Info().Int("mqs", len(r.app.MQs)).Msg("runtime initialised")
	return nil
}

// Poll returns local input bits in the low half and remote bits from bit 16.
func (r *Runtime) Poll() (uint32, error) {
	p, err := r.local.Poll()
	if err != nil {
		return 0, err
	}
	if r.remote != nil {
		rp, err := r.remote.Poll()
		if err != nil {
			return 0, err
		}
		p |= rp << hmq.RemotePollShift
	}
	return p, nil
}

// Dispatch takes at most one message from the i-th served MQ. It returns
// hmq.ErrEmpty when the slot is idle. A message that was consumed but dropped
// reports the reason; the entry is released in every case.
func (r *Runtime) Dispatch(i int) error {
	if i < 0 || i >= len(r.app.MQs) {
		return fmt.Errorf("%w: mq %d not served", protocol.ErrTransport, i)
	}
	mq := r.app.MQs[i]
	bit := uint(mq.Index)
	if mq.Remote {
		bit += hmq.RemotePollShift
	}
	pending, err := r.Poll()
	if err != nil {
		return err
	}
	if pending&(1<<bit) == 0 {
		return hmq.ErrEmpty
	}

	in := r.port(mq.Remote)
	words, err := in.Map(mq.Index)
	if err != nil {
		return err
	}
	defer func() {
		if err := in.Discard(mq.Index); err != nil {
			r.logger.Error().Err(err).Int("slot", mq.Index).Msg("discard failed")
		}
	}()

	if len(words) < frame.HeaderWords {
		r.drop("short", mq)
		return fmt.Errorf("%w: entry of %d words", protocol.ErrFraming, len(words))
	}
	h := r.codec.Get(words)
	if frame.HeaderWords+int(h.Len) > len(words) {
		r.drop("truncated", mq)
		return fmt.Errorf("%w: len %d exceeds entry of %d words", protocol.ErrFraming, h.Len, len(words))
	}
	if h.AppID != 0 && uint32(h.AppID) != r.app.Version.AppID {
		r.drop("app_mismatch", mq)
		return fmt.Errorf("%w: app %#x, image %#x", protocol.ErrRoutingMismatch, h.AppID, r.app.Version.AppID)
	}
	if int(h.MsgID) >= len(r.actions) || r.actions[h.MsgID] == nil {
		r.drop("unknown", mq)
		return fmt.Errorf("%w: %d", protocol.ErrUnknownMessageID, h.MsgID)
	}
	handler := r.actions[h.MsgID]
	req := &Request{Header: h, Payload: words[frame.HeaderWords : frame.HeaderWords+int(h.Len)]}
	name := schema.Name(h.MsgID)

	if !h.Sync() {
		if err := handler.Handle(r, req, nil); err != nil {
			r.logger.Warn().Err(err).Str("msg", name).Msg("async action failed")
			observability.RecordDispatch(r.app.Name, name, "failed")
			return nil
		}
		observability.RecordDispatch(r.app.Name, name, "handled")
		return nil
	}

	out := r.port(h.Remote())
	if out == nil {
		r.drop("no_remote", mq)
		return fmt.Errorf("%w: reply requested on remote bank but none is attached", protocol.ErrTransport)
	}
	slot := h.OutSlot()
	buf, err := out.Claim(slot)
	if err != nil {
		r.drop("claim", mq)
		return fmt.Errorf("claim reply slot %d: %w", slot, err)
	}
	reply := &Reply{Header: h, Payload: buf[frame.HeaderWords:]}
	result := "replied"
	if err := handler.Handle(r, req, reply); err != nil {
		r.logger.Debug().Err(err).Str("msg", name).Uint32("seq", h.Seq).Msg("nack")
		nack(reply)
		result = "nack"
	} else if int(reply.Header.Len) > len(reply.Payload) {
		r.logger.Warn().Str("msg", name).Int("len", int(reply.Header.Len)).Msg("reply exceeds slot width")
		nack(reply)
		result = "nack"
	}
	r.codec.Put(buf, reply.Header)
	if err := out.Ready(slot, frame.HeaderWords+int(reply.Header.Len)); err != nil {
		observability.RecordDispatch(r.app.Name, name, "send_failed")
		return fmt.Errorf("send reply on slot %d: %w", slot, err)
	}
	observability.RecordDispatch(r.app.Name, name, result)
	return nil
}

func nack(reply *Reply) {
	reply.Header.MsgID = schema.MsgNack
	reply.Header.Len = 0
}

func (r *Runtime) drop(reason string, mq MQ) {
	r.logger.Debug().Str("reason", reason).Int("slot", mq.Index).Bool("remote", mq.Remote).Msg("message dropped")
	observability.RecordDispatch(r.app.Name, "-", "dropped_"+reason)
}

// Step runs one Dispatch over every served MQ and returns how many messages
// were consumed.
func (r *Runtime) Step() int {
	n := 0
	for i := range r.app.MQs {
		err := r.Dispatch(i)
		switch {
		case errors.Is(err, hmq.ErrEmpty):
			continue
		case err != nil:
			r.logger.Debug().Err(err).Int("mq", i).Msg("dispatch")
		}
		n++
	}
	return n
}

// Run loops Step until ctx is done, sleeping idle between empty passes.
func (r *Runtime) Run(ctx context.Context, clock hmq.Clock, idle time.Duration) error {
	if clock == nil {
		clock = hmq.SystemClock{}
	}
	if idle <= 0 {
		idle = DefaultIdle
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Step() > 0 {
			continue
		}
		if err := clock.Sleep(ctx, idle); err != nil {
			return err
		}
	}
}

// Send emits an asynchronous message on an output slot. The sequence field is
// stamped from the runtime-wide counter and returned.
func (r *Runtime) Send(slot int, remote bool, h frame.Header, payload []uint32) (uint32, error) {
	port := r.port(remote)
	if port == nil {
		return 0, fmt.Errorf("%w: no remote bank attached", protocol.ErrTransport)
	}
	if len(payload) > frame.MaxPayloadWords {
		return 0, fmt.Errorf("%w: payload of %d words", protocol.ErrFraming, len(payload))
	}
	buf, err := port.Claim(slot)
	if err != nil {
		return 0, err
	}
	if frame.HeaderWords+len(payload) > len(buf) {
		_ = port.Purge(slot)
		return 0, frame.CapacityError{Need: frame.HeaderWords + len(payload), Capacity: len(buf)}
	}
	h.Seq = r.seq.Add(1)
	h.Len = uint8(len(payload))
	h.Flags &^= frame.FlagSync
	if remote {
		h.Flags |= frame.FlagRemote
	}
	r.codec.Put(buf, h)
	copy(buf[frame.HeaderWords:], payload)
	if err := port.Ready(slot, frame.HeaderWords+len(payload)); err != nil {
		return 0, err
	}
	return h.Seq, nil
}
