package rt

import (
	"errors"
	"fmt"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/tlv"
)

var errNoReply = errors.New("rt: action needs a synchronous request")

var builtins = map[uint8]Handler{
	schema.MsgPing:         HandlerFunc(ping),
	schema.MsgVersionGet:   HandlerFunc(version),
	schema.MsgVariableSet:  HandlerFunc(variableSet),
	schema.MsgVariableGet:  HandlerFunc(variableGet),
	schema.MsgStructureSet: HandlerFunc(structureSet),
	schema.MsgStructureGet: HandlerFunc(structureGet),
}

func ping(_ *Runtime, _ *Request, out *Reply) error {
	if out == nil {
		return nil
	}
	out.Header.MsgID = schema.MsgAck
	out.Header.Len = 0
	return nil
}

func version(r *Runtime, _ *Request, out *Reply) error {
	if out == nil {
		return nil
	}
	if len(out.Payload) < schema.VersionWords {
		return fmt.Errorf("%w: version reply needs %d words", protocol.ErrFraming, schema.VersionWords)
	}
	copy(out.Payload, r.app.Version.Words())
	out.Header.MsgID = schema.MsgVersionReply
	out.Header.Len = schema.VersionWords
	return nil
}

func variableSet(r *Runtime, in *Request, out *Reply) error {
	if err := schema.Validate(schema.MsgVariableSet, in.Payload); err != nil {
		return err
	}
	for i := 0; i+1 < len(in.Payload); i += tlv.PairWords {
		if !r.registry.SetVariable(in.Payload[i], in.Payload[i+1]) {
			r.logger.Debug().Uint32("index", in.Payload[i]).Msg("set of unknown variable ignored")
		}
	}
	if out == nil {
		return nil
	}
	return variableGet(r, in, out)
}

// variableGet echoes each requested index with its value. Unknown indices
// come back with both words set to protocol.InvalidValue.
func variableGet(r *Runtime, in *Request, out *Reply) error {
	if out == nil {
		return errNoReply
	}
	if err := schema.Validate(schema.MsgVariableGet, in.Payload); err != nil {
		return err
	}
	if len(in.Payload) > len(out.Payload) {
		return fmt.Errorf("%w: reply needs %d words", protocol.ErrFraming, len(in.Payload))
	}
	for i := 0; i+1 < len(in.Payload); i += tlv.PairWords {
		val, ok := r.registry.GetVariable(in.Payload[i])
		if !ok {
			out.Payload[i] = protocol.InvalidValue
			out.Payload[i+1] = protocol.InvalidValue
			continue
		}
		out.Payload[i] = in.Payload[i]
		out.Payload[i+1] = val
	}
	out.Header.MsgID = schema.MsgVariableGetReply
	out.Header.Len = uint8(len(in.Payload))
	return nil
}

// structureSet applies every record. Records that name an unknown structure
// or carry the wrong size are skipped without touching the target.
func structureSet(r *Runtime, in *Request, out *Reply) error {
	err := tlv.Records(in.Payload, func(index, size uint32, data []uint32) {
		b := make([]byte, size)
		tlv.GetBytes(b, data)
		if err := r.registry.SetStructure(index, b); err != nil {
			r.logger.Debug().Err(err).Msg("structure set skipped")
		}
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return structureGet(r, in, out)
}

// structureGet fills each requested record with the current contents. A
// record the registry cannot serve keeps its size, gets protocol.InvalidValue
// as index and zeroed data.
func structureGet(r *Runtime, in *Request, out *Reply) error {
	if out == nil {
		return errNoReply
	}
	if len(in.Payload) > len(out.Payload) {
		return fmt.Errorf("%w: reply needs %d words", protocol.ErrFraming, len(in.Payload))
	}
	offset := 0
	err := tlv.Records(in.Payload, func(index, size uint32, _ []uint32) {
		dst := out.Payload[offset+tlv.RecordWords : offset+tlv.RecordWords+int(size/4)]
		out.Payload[offset] = index
		out.Payload[offset+1] = size
		b := make([]byte, size)
		if err := r.registry.ReadStructure(index, b); err != nil {
			r.logger.Debug().Err(err).Msg("structure get failed")
			out.Payload[offset] = protocol.InvalidValue
			clear(b)
		}
		tlv.PutBytes(dst, b)
		offset += tlv.RecordWords + int(size/4)
	})
	if err != nil {
		return err
	}
	out.Header.MsgID = schema.MsgStructureGetReply
	out.Header.Len = uint8(len(in.Payload))
	return nil
}
