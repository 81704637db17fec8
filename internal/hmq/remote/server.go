package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/observability"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
)

// Server shares one Port with any number of connections.
type Server struct {
	port   hmq.Port
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(port hmq.Port) *Server {
	return &Server{
		port:   port,
		logger: observability.Component("remote"),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is done or ln fails. Open connections
// are closed before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("remote bridge listening")

	var err error
	for {
		var conn net.Conn
		conn, err = ln.Accept()
		if err != nil {
			break
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handle(conn)
		}()
	}

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		return
	}
	delete(s.conns, c)
}

type connState struct {
	claims map[int][]uint32
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With().Str("peer", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("connection opened")
	st := &connState{claims: make(map[int][]uint32)}
	defer func() {
		// A peer that vanished mid-transaction must not leave a slot claimed.
		for slot := range st.claims {
			_ = s.port.Purge(slot)
		}
		logger.Debug().Msg("connection closed")
	}()

	r := bufio.NewReader(conn)
	for {
		var req request
		if err := readEnvelope(r, &req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn().Err(err).Msg("read request")
			}
			return
		}
		resp := s.apply(st, req)
		if err := writeEnvelope(conn, resp); err != nil {
			logger.Warn().Err(err).Msg("write response")
			return
		}
	}
}

func (s *Server) apply(st *connState, req request) response {
	var resp response
	var err error
	switch req.Op {
	case opHello:
		resp.Inputs = s.port.Slots(hmq.Outbound)
		resp.Outputs = s.port.Slots(hmq.Inbound)
	case opClaim:
		var buf []uint32
		buf, err = s.port.Claim(req.Slot)
		if err == nil {
			st.claims[req.Slot] = buf
			resp.Width = len(buf)
		}
	case opReady:
		buf, ok := st.claims[req.Slot]
		switch {
		case !ok:
			err = fmt.Errorf("%w: slot %d not claimed by this connection", protocol.ErrTransport, req.Slot)
		case len(req.Words) > len(buf):
			delete(st.claims, req.Slot)
			_ = s.port.Purge(req.Slot)
			err = fmt.Errorf("%w: %d words on slot of width %d", protocol.ErrFraming, len(req.Words), len(buf))
		default:
			copy(buf, req.Words)
			delete(st.claims, req.Slot)
			err = s.port.Ready(req.Slot, req.Count)
		}
	case opPurge:
		delete(st.claims, req.Slot)
		err = s.port.Purge(req.Slot)
	case opMap:
		var words []uint32
		words, err = s.port.Map(req.Slot)
		if err == nil {
			resp.Words = append([]uint32(nil), words...)
		}
	case opDiscard:
		err = s.port.Discard(req.Slot)
	case opStatus:
		var status hmq.Status
		status, err = s.port.Status(hmq.Direction(req.Dir), req.Slot)
		if err == nil {
			resp.Status = &status
		}
	case opPoll:
		resp.Value, err = s.port.Poll()
	default:
		err = fmt.Errorf("%w: unknown op %q", protocol.ErrTransport, req.Op)
	}
	resp.Code, resp.Error = encodeError(err)
	return resp
}
