package host

import (
	"fmt"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
)

type FilterOp uint8

const (
	// FilterAnd passes when (word & Mask) == Value.
	FilterAnd FilterOp = iota
	// FilterOr passes when (word | Mask) == Value.
	FilterOr
	// FilterEq passes when word == Value.
	FilterEq
)

func (op FilterOp) String() string {
	switch op {
	case FilterAnd:
		return "and"
	case FilterOr:
		return "or"
	case FilterEq:
		return "eq"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

func ParseFilterOp(s string) (FilterOp, error) {
	switch s {
	case "and", "":
		return FilterAnd, nil
	case "or":
		return FilterOr, nil
	case "eq":
		return FilterEq, nil
	}
	return 0, fmt.Errorf("unknown filter op %q", s)
}

// Filter tests one raw slot word, header words included.
type Filter struct {
	Op         FilterOp
	WordOffset int
	Mask       uint32
	Value      uint32
}

func (f Filter) Match(words []uint32) bool {
	if f.WordOffset < 0 || f.WordOffset >= len(words) {
		return false
	}
	w := words[f.WordOffset]
	switch f.Op {
	case FilterAnd:
		return w&f.Mask == f.Value
	case FilterOr:
		return w|f.Mask == f.Value
	case FilterEq:
		return w == f.Value
	}
	return false
}

// MatchAll reports whether every filter passes. No filters accept anything.
func MatchAll(filters []Filter, words []uint32) bool {
	for _, f := range filters {
		if !f.Match(words) {
			return false
		}
	}
	return true
}

// MatchMessageID selects frames by message id. The mask and value are run
// through the codec so the filter applies to encoded slot words.
func MatchMessageID(c frame.Codec, id uint8) Filter {
	return Filter{
		Op:         FilterAnd,
		WordOffset: 0,
		Mask:       c.EncodeWord(0, 0xFF<<16),
		Value:      c.EncodeWord(0, uint32(id)<<16),
	}
}

// MatchSeq selects frames carrying a given sequence number.
func MatchSeq(c frame.Codec, seq uint32) Filter {
	return Filter{Op: FilterEq, WordOffset: 1, Value: c.EncodeWord(1, seq)}
}
