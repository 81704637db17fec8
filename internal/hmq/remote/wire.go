package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
)

// MaxEnvelopeSize bounds one envelope. A full slot of 256 words with its
// status fits many times over.
const MaxEnvelopeSize = 64 * 1024

const (
	opHello   = "hello"
	opClaim   = "claim"
	opReady   = "ready"
	opPurge   = "purge"
	opMap     = "map"
	opDiscard = "discard"
	opStatus  = "status"
	opPoll    = "poll"
)

type request struct {
	Op    string   `msgpack:"op"`
	Slot  int      `msgpack:"slot"`
	Dir   int      `msgpack:"dir,omitempty"`
	Count int      `msgpack:"count,omitempty"`
	Words []uint32 `msgpack:"words,omitempty"`
}

type response struct {
	Code    errCode     `msgpack:"code"`
	Error   string      `msgpack:"error,omitempty"`
	Words   []uint32    `msgpack:"words,omitempty"`
	Value   uint32      `msgpack:"value,omitempty"`
	Width   int         `msgpack:"width,omitempty"`
	Status  *hmq.Status `msgpack:"status,omitempty"`
	Inputs  int         `msgpack:"inputs,omitempty"`
	Outputs int         `msgpack:"outputs,omitempty"`
}

type errCode uint8

const (
	codeOK errCode = iota
	codeEmpty
	codeBusy
	codeFraming
	codeTransport
	codeTimeout
	codeOther
)

func encodeError(err error) (errCode, string) {
	switch {
	case err == nil:
		return codeOK, ""
	case errors.Is(err, hmq.ErrEmpty):
		return codeEmpty, err.Error()
	case errors.Is(err, protocol.ErrSlotBusy):
		return codeBusy, err.Error()
	case errors.Is(err, protocol.ErrFraming):
		return codeFraming, err.Error()
	case errors.Is(err, protocol.ErrTransport):
		return codeTransport, err.Error()
	case errors.Is(err, protocol.ErrTimeout):
		return codeTimeout, err.Error()
	default:
		return codeOther, err.Error()
	}
}

func decodeError(code errCode, msg string) error {
	switch code {
	case codeOK:
		return nil
	case codeEmpty:
		return hmq.ErrEmpty
	case codeBusy:
		return fmt.Errorf("%w: remote: %s", protocol.ErrSlotBusy, msg)
	case codeFraming:
		return fmt.Errorf("%w: remote: %s", protocol.ErrFraming, msg)
	case codeTimeout:
		return fmt.Errorf("%w: remote: %s", protocol.ErrTimeout, msg)
	default:
		return fmt.Errorf("%w: remote: %s", protocol.ErrTransport, msg)
	}
}

func writeEnvelope(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(data) > MaxEnvelopeSize {
		return fmt.Errorf("%w: envelope of %d bytes", protocol.ErrFraming, len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func readEnvelope(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > MaxEnvelopeSize {
		return fmt.Errorf("%w: envelope of %d bytes", protocol.ErrFraming, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", protocol.ErrFraming, err)
	}
	return nil
}
