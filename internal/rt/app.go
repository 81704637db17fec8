package rt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
)

var (
	ErrActionExists       = errors.New("action already registered")
	ErrActionNil          = errors.New("action is nil")
	ErrInvalidApplication = errors.New("invalid application")
)

// DefaultMaxActions covers every id the 8-bit message id can carry.
const DefaultMaxActions = 256

// MQ names one input slot served by the dispatcher. Replies to synchronous
// requests leave through the output slot named in the request header.
type MQ struct {
	Index  int
	Remote bool
}

// Request is an incoming message. Payload aliases the slot entry and is only
// valid during the handler call.
type Request struct {
	Header  frame.Header
	Payload []uint32
}

// Reply is the outgoing message prepared for a synchronous request. It starts
// as a copy of the request header; handlers set MsgID, Len and Payload words.
type Reply struct {
	Header  frame.Header
	Payload []uint32
}

// Handler runs one action. out is nil for asynchronous requests. A non-nil
// error turns the reply into a NACK.
type Handler interface {
	Handle(r *Runtime, in *Request, out *Reply) error
}

type HandlerFunc func(r *Runtime, in *Request, out *Reply) error

func (f HandlerFunc) Handle(r *Runtime, in *Request, out *Reply) error {
	return f(r, in, out)
}

// Application is the start-up description of a core image.
type Application struct {
	Name     string
	Version  schema.Version
	MQs      []MQ
	Registry *Registry
	// Actions holds image-specific handlers keyed by message id. Standard
	// ids are served by built-in handlers and cannot be replaced.
	Actions    map[uint8]Handler
	MaxActions int
}

func (a Application) validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidApplication)
	}
	if a.MaxActions < 0 || a.MaxActions > DefaultMaxActions {
		return fmt.Errorf("%w: max actions %d out of range", ErrInvalidApplication, a.MaxActions)
	}
	for i, mq := range a.MQs {
		if mq.Index < 0 || mq.Index >= hmq.MaxSlots {
			return fmt.Errorf("%w: mq %d: slot %d out of range", ErrInvalidApplication, i, mq.Index)
		}
	}
	return nil
}

// buildActions merges builtins and image actions into an immutable table.
func buildActions(a Application) ([]Handler, error) {
	limit := a.MaxActions
	if limit == 0 {
		limit = DefaultMaxActions
	}
	if limit < int(schema.FirstApplicationAction) {
		return nil, fmt.Errorf("%w: max actions %d below standard ids", ErrInvalidApplication, limit)
	}
	table := make([]Handler, limit)
	for id, h := range builtins {
		table[id] = h
	}
	for id, h := range a.Actions {
		if h == nil {
			return nil, fmt.Errorf("%w: id %d", ErrActionNil, id)
		}
		if int(id) >= limit {
			return nil, fmt.Errorf("%w: action id %d exceeds max %d", ErrInvalidApplication, id, limit)
		}
		if table[id] != nil {
			return nil, fmt.Errorf("%w: id %d (%s)", ErrActionExists, id, schema.Name(id))
		}
		table[id] = h
	}
	return table, nil
}
