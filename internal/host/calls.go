package host

import (
	"context"
	"fmt"
	"time"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/tlv"
)

// Target addresses one core image through a pair of slots.
type Target struct {
	AppID uint16
	In    int
	Out   int
	// Remote asks the core to answer on its remote bank.
	Remote  bool
	Timeout time.Duration
}

func (t Target) call(msgID uint8, sync bool) Call {
	h := frame.Header{AppID: t.AppID, MsgID: msgID}
	if t.Remote {
		h.Flags |= frame.FlagRemote
	}
	call := Call{Header: h, In: t.In, Out: t.Out, Sync: sync, Timeout: t.Timeout}
	if reply, ok := schema.ReplyFor(msgID); ok {
		call.Replies = []uint8{reply, schema.MsgNack}
	}
	return call
}

func expect(reply Message, want uint8) error {
	if reply.Header.MsgID == want {
		return nil
	}
	if reply.Header.MsgID == schema.MsgNack {
		return fmt.Errorf("%w: core answered nack to seq %d", protocol.ErrUnexpectedReply, reply.Header.Seq)
	}
	return fmt.Errorf("%w: got %s, want %s", protocol.ErrUnexpectedReply, schema.Name(reply.Header.MsgID), schema.Name(want))
}

// Ping checks that the core answers with an ACK.
func (e *Engine) Ping(ctx context.Context, t Target) error {
	reply, err := e.Do(ctx, t.call(schema.MsgPing, true))
	if err != nil {
		return err
	}
	return expect(reply, schema.MsgAck)
}

func (e *Engine) Version(ctx context.Context, t Target) (schema.Version, error) {
	reply, err := e.Do(ctx, t.call(schema.MsgVersionGet, true))
	if err != nil {
		return schema.Version{}, err
	}
	if err := expect(reply, schema.MsgVersionReply); err != nil {
		return schema.Version{}, err
	}
	return schema.VersionFromWords(reply.Payload)
}

// SetVariables writes pairs. When sync is set the core reads them back and
// the read-back values are returned.
func (e *Engine) SetVariables(ctx context.Context, t Target, vars []tlv.Variable, sync bool) ([]tlv.Variable, error) {
	call := t.call(schema.MsgVariableSet, sync)
	call.Assemble = func(f *frame.Frame, c frame.Codec, h *frame.Header) error {
		return tlv.PushVariables(f, c, h, vars)
	}
	reply, err := e.Do(ctx, call)
	if err != nil || !sync {
		return nil, err
	}
	if err := expect(reply, schema.MsgVariableGetReply); err != nil {
		return nil, err
	}
	return tlv.DecodeVariables(reply.Payload)
}

// GetVariables reads variables by index. Unknown indices come back as pairs
// of protocol.InvalidValue.
func (e *Engine) GetVariables(ctx context.Context, t Target, indices []uint32) ([]tlv.Variable, error) {
	vars := make([]tlv.Variable, len(indices))
	for i, idx := range indices {
		vars[i] = tlv.Variable{Index: idx}
	}
	call := t.call(schema.MsgVariableGet, true)
	call.Assemble = func(f *frame.Frame, c frame.Codec, h *frame.Header) error {
		return tlv.PushVariables(f, c, h, vars)
	}
	reply, err := e.Do(ctx, call)
	if err != nil {
		return nil, err
	}
	if err := expect(reply, schema.MsgVariableGetReply); err != nil {
		return nil, err
	}
	return tlv.DecodeVariables(reply.Payload)
}

// SetStructures writes structure records. With sync the core's read-back is
// returned.
func (e *Engine) SetStructures(ctx context.Context, t Target, structs []tlv.Structure, sync bool) ([]tlv.Structure, error) {
	call := t.call(schema.MsgStructureSet, sync)
	call.Assemble = pushStructures(structs)
	reply, err := e.Do(ctx, call)
	if err != nil || !sync {
		return nil, err
	}
	if err := expect(reply, schema.MsgStructureGetReply); err != nil {
		return nil, err
	}
	return decodeStructures(reply.Payload)
}

// GetStructures reads structures. Each request needs Index and Size; Data is
// ignored. A record the core cannot serve comes back with Index set to
// protocol.InvalidValue.
func (e *Engine) GetStructures(ctx context.Context, t Target, reqs []tlv.Structure) ([]tlv.Structure, error) {
	placeholders := make([]tlv.Structure, len(reqs))
	for i, r := range reqs {
		placeholders[i] = tlv.Structure{Index: r.Index, Size: r.Size, Data: make([]byte, r.Size)}
	}
	call := t.call(schema.MsgStructureGet, true)
	call.Assemble = pushStructures(placeholders)
	reply, err := e.Do(ctx, call)
	if err != nil {
		return nil, err
	}
	if err := expect(reply, schema.MsgStructureGetReply); err != nil {
		return nil, err
	}
	return decodeStructures(reply.Payload)
}

func pushStructures(structs []tlv.Structure) Assembler {
	return func(f *frame.Frame, c frame.Codec, h *frame.Header) error {
		for _, s := range structs {
			if err := tlv.PushStructure(f, c, h, s); err != nil {
				return err
			}
		}
		return nil
	}
}

func decodeStructures(payload []uint32) ([]tlv.Structure, error) {
	var out []tlv.Structure
	err := tlv.Records(payload, func(index, size uint32, data []uint32) {
		b := make([]byte, size)
		tlv.GetBytes(b, data)
		out = append(out, tlv.Structure{Index: index, Size: size, Data: b})
	})
	return out, err
}
