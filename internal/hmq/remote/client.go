package remote

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/session"
)

// Client is an hmq.Port backed by a remote Server.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	cfg  session.Config

	mu      sync.Mutex
	inputs  int
	outputs int
	claims  map[int][]uint32
}

var _ hmq.Port = (*Client)(nil)

func Dial(ctx context.Context, addr string, cfg session.Config) (*Client, error) {
	cfg = cfg.Normalize()
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrTransport, addr, err)
	}
	c, err := NewClient(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient performs the hello exchange on an established connection.
func NewClient(conn net.Conn, cfg session.Config) (*Client, error) {
	c := &Client{
		conn:   conn,
		r:      bufio.NewReader(conn),
		cfg:    cfg.Normalize(),
		claims: make(map[int][]uint32),
	}
	resp, err := c.roundTrip(request{Op: opHello})
	if err != nil {
		return nil, err
	}
	c.inputs, c.outputs = resp.Inputs, resp.Outputs
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(req request) (response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return response{}, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	if err := writeEnvelope(c.conn, req); err != nil {
		return response{}, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return response{}, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	var resp response
	if err := readEnvelope(c.r, &resp); err != nil {
		return response{}, fmt.Errorf("%w: %s: %v", protocol.ErrTransport, req.Op, err)
	}
	return resp, decodeError(resp.Code, resp.Error)
}

func (c *Client) Slots(dir hmq.Direction) int {
	if dir == hmq.Outbound {
		return c.inputs
	}
	return c.outputs
}

// Claim reserves the remote slot and hands out a local buffer of its width.
func (c *Client) Claim(slot int) ([]uint32, error) {
	resp, err := c.roundTrip(request{Op: opClaim, Slot: slot})
	if err != nil {
		return nil, err
	}
	buf := make([]uint32, resp.Width)
	c.mu.Lock()
	c.claims[slot] = buf
	c.mu.Unlock()
	return buf, nil
}

func (c *Client) Ready(slot int, count int) error {
	c.mu.Lock()
	buf, ok := c.claims[slot]
	delete(c.claims, slot)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: outbound slot %d not claimed", protocol.ErrTransport, slot)
	}
	if count < 0 || count > len(buf) {
		_ = c.Purge(slot)
		return fmt.Errorf("%w: %d words on slot %d of width %d", protocol.ErrFraming, count, slot, len(buf))
	}
	_, err := c.roundTrip(request{Op: opReady, Slot: slot, Count: count, Words: buf[:count]})
	return err
}

func (c *Client) Purge(slot int) error {
	c.mu.Lock()
	delete(c.claims, slot)
	c.mu.Unlock()
	_, err := c.roundTrip(request{Op: opPurge, Slot: slot})
	return err
}

func (c *Client) Map(slot int) ([]uint32, error) {
	resp, err := c.roundTrip(request{Op: opMap, Slot: slot})
	if err != nil {
		return nil, err
	}
	return resp.Words, nil
}

func (c *Client) Discard(slot int) error {
	_, err := c.roundTrip(request{Op: opDiscard, Slot: slot})
	return err
}

func (c *Client) Status(dir hmq.Direction, slot int) (hmq.Status, error) {
	resp, err := c.roundTrip(request{Op: opStatus, Slot: slot, Dir: int(dir)})
	if err != nil {
		return hmq.Status{}, err
	}
	if resp.Status == nil {
		return hmq.Status{}, fmt.Errorf("%w: status reply without status", protocol.ErrTransport)
	}
	return *resp.Status, nil
}

func (c *Client) Poll() (uint32, error) {
	resp, err := c.roundTrip(request{Op: opPoll})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}
