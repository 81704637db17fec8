package protocol

import "errors"

var (
	ErrFraming               = errors.New("protocol: framing error")
	ErrRoutingMismatch       = errors.New("protocol: application id mismatch")
	ErrUnknownMessageID      = errors.New("protocol: unknown message id")
	ErrStructureSizeMismatch = errors.New("protocol: structure size mismatch")
	ErrInvalidIndex          = errors.New("protocol: invalid index")
	ErrSlotBusy              = errors.New("protocol: slot busy")
	ErrTransport             = errors.New("protocol: transport error")
	ErrTimeout               = errors.New("protocol: timeout")
	ErrUnexpectedReply       = errors.New("protocol: unexpected reply")
)

// InvalidValue is written in place of a variable index or value that does not
// exist in the exporting table. Existing host tools test for it literally.
const InvalidValue uint32 = 0xFFFFFFFF
