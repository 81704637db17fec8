package schema

import (
	"fmt"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Standard message ids every core image understands.
const (
	MsgPing         uint8 = 0
	MsgVariableSet  uint8 = 1
	MsgVariableGet  uint8 = 2
	MsgStructureSet uint8 = 3
	MsgStructureGet uint8 = 4
	MsgVersionGet   uint8 = 5

	MsgAck               uint8 = 6
	MsgNack              uint8 = 7
	MsgVariableGetReply  uint8 = 8
	MsgStructureGetReply uint8 = 9
	MsgVersionReply      uint8 = 10

	// FirstApplicationAction is the first id free for image-specific actions.
	FirstApplicationAction uint8 = 11
)

// VersionWords is the payload size of a version reply.
const VersionWords = 4

// Version describes the image running on a core.
type Version struct {
	FPGAID     uint32
	AppID      uint32
	AppVersion uint32
	BuildID    uint32
}

func (v Version) Words() []uint32 {
	return []uint32{v.FPGAID, v.AppID, v.AppVersion, v.BuildID}
}

func VersionFromWords(w []uint32) (Version, error) {
	if len(w) < VersionWords {
		return Version{}, fmt.Errorf("%w: version reply has %d words", protocol.ErrFraming, len(w))
	}
	return Version{FPGAID: w[0], AppID: w[1], AppVersion: w[2], BuildID: w[3]}, nil
}

// Major and Minor split AppVersion the way images encode it.
func (v Version) Major() uint16 { return uint16(v.AppVersion >> 16) }
func (v Version) Minor() uint16 { return uint16(v.AppVersion) }

// MakeVersion packs a major/minor pair into AppVersion form.
func MakeVersion(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}

type payloadRule uint8

const (
	ruleEmpty payloadRule = iota
	rulePairs
	ruleRecords
	ruleVersion
)

var names = map[uint8]string{
	MsgPing:              "ping",
	MsgVariableSet:       "variable.set",
	MsgVariableGet:       "variable.get",
	MsgStructureSet:      "structure.set",
	MsgStructureGet:      "structure.get",
	MsgVersionGet:        "version.get",
	MsgAck:               "ack",
	MsgNack:              "nack",
	MsgVariableGetReply:  "variable.get.reply",
	MsgStructureGetReply: "structure.get.reply",
	MsgVersionReply:      "version.reply",
}

var rules = map[uint8]payloadRule{
	MsgPing:              ruleEmpty,
	MsgVariableSet:       rulePairs,
	MsgVariableGet:       rulePairs,
	MsgStructureSet:      ruleRecords,
	MsgStructureGet:      ruleRecords,
	MsgVersionGet:        ruleEmpty,
	MsgAck:               ruleEmpty,
	MsgNack:              ruleEmpty,
	MsgVariableGetReply:  rulePairs,
	MsgStructureGetReply: ruleRecords,
	MsgVersionReply:      ruleVersion,
}

// replies maps a standard request to the reply kind a core answers with.
var replies = map[uint8]uint8{
	MsgPing:         MsgAck,
	MsgVariableSet:  MsgVariableGetReply,
	MsgVariableGet:  MsgVariableGetReply,
	MsgStructureSet: MsgStructureGetReply,
	MsgStructureGet: MsgStructureGetReply,
	MsgVersionGet:   MsgVersionReply,
}

// Name returns a printable name for a message id.
func Name(id uint8) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("app.%d", id)
}

// ReplyFor returns the reply kind expected for a standard request.
func ReplyFor(request uint8) (uint8, bool) {
	r, ok := replies[request]
	return r, ok
}

// IsStandard reports whether id belongs to the standard set.
func IsStandard(id uint8) bool {
	return id < FirstApplicationAction
}

type ValidationError struct {
	MsgID  uint8
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("schema: message %s: %s", Name(e.MsgID), e.Reason)
}

func (e ValidationError) Unwrap() error {
	return protocol.ErrFraming
}

// Validate checks a payload against the shape required by a standard message.
// Application ids are not checked.
func Validate(msgID uint8, payload []uint32) error {
	rule, ok := rules[msgID]
	if !ok {
		return nil
	}
	log.Debug().Str("component", "schema").Str("msg", Name(msgID)).Int("words", len(payload)).Msg("validate")
	switch rule {
	case ruleEmpty:
		if len(payload) != 0 {
			return ValidationError{MsgID: msgID, Reason: fmt.Sprintf("expected empty payload, got %d words", len(payload))}
		}
	case rulePairs:
		if len(payload)%tlv.PairWords != 0 {
			return ValidationError{MsgID: msgID, Reason: "odd payload length for variable pairs"}
		}
	case ruleRecords:
		if err := tlv.Records(payload, func(uint32, uint32, []uint32) {}); err != nil {
			return ValidationError{MsgID: msgID, Reason: err.Error()}
		}
	case ruleVersion:
		if len(payload) != VersionWords {
			return ValidationError{MsgID: msgID, Reason: fmt.Sprintf("version payload has %d words", len(payload))}
		}
	}
	return nil
}
