package hmq

import (
	"fmt"
	"sync"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
)

// SlotConfig sizes one slot: Width words per entry, Depth entries.
type SlotConfig struct {
	Width int
	Depth int
}

// DefaultSlot matches the smallest gateware build in use.
var DefaultSlot = SlotConfig{Width: 128, Depth: 4}

// BankConfig lists the input (host->core) and output (core->host) slots.
type BankConfig struct {
	Input  []SlotConfig
	Output []SlotConfig
}

// UniformBank builds a bank of n input and n output slots of one geometry.
func UniformBank(n int, sc SlotConfig) BankConfig {
	cfg := BankConfig{Input: make([]SlotConfig, n), Output: make([]SlotConfig, n)}
	for i := 0; i < n; i++ {
		cfg.Input[i] = sc
		cfg.Output[i] = sc
	}
	return cfg
}

func (c BankConfig) Validate() error {
	if len(c.Input) > MaxSlots || len(c.Output) > MaxSlots {
		return fmt.Errorf("hmq: at most %d slots per direction", MaxSlots)
	}
	for i, s := range c.Input {
		if s.Width < 4 || s.Depth < 1 {
			return fmt.Errorf("hmq: input slot %d: invalid geometry %+v", i, s)
		}
	}
	for i, s := range c.Output {
		if s.Width < 4 || s.Depth < 1 {
			return fmt.Errorf("hmq: output slot %d: invalid geometry %+v", i, s)
		}
	}
	return nil
}

type slot struct {
	cfg     SlotConfig
	entries [][]uint32
	claimed bool
	buf     []uint32
}

func newSlot(cfg SlotConfig) *slot {
	return &slot{cfg: cfg, buf: make([]uint32, cfg.Width)}
}

func (s *slot) status() Status {
	st := Status{
		Width:    s.cfg.Width,
		Depth:    s.cfg.Depth,
		Occupied: len(s.entries),
		Full:     len(s.entries) >= s.cfg.Depth,
		Empty:    len(s.entries) == 0,
		Claimed:  s.claimed,
	}
	if len(s.entries) > 0 {
		st.Count = len(s.entries[0])
	}
	return st
}

// Bank is one set of input and output slots shared by a host side and a core
// side.
type Bank struct {
	mu     sync.Mutex
	input  []*slot
	output []*slot
}

func NewBank(cfg BankConfig) (*Bank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bank{}
	for _, sc := range cfg.Input {
		b.input = append(b.input, newSlot(sc))
	}
	for _, sc := range cfg.Output {
		b.output = append(b.output, newSlot(sc))
	}
	return b, nil
}

// HostPort is the host view: outbound to input slots, inbound from output slots.
func (b *Bank) HostPort() Port {
	return &bankPort{bank: b, host: true}
}

// CorePort is the core view: outbound to output slots, inbound from input slots.
func (b *Bank) CorePort() Port {
	return &bankPort{bank: b}
}

// Fabric is the local bank plus the remote bank reachable by the cores.
type Fabric struct {
	Local  *Bank
	Remote *Bank
}

func NewFabric(local, remote BankConfig) (*Fabric, error) {
	l, err := NewBank(local)
	if err != nil {
		return nil, err
	}
	r, err := NewBank(remote)
	if err != nil {
		return nil, err
	}
	return &Fabric{Local: l, Remote: r}, nil
}

type bankPort struct {
	bank *Bank
	host bool
}

func (p *bankPort) slots(dir Direction) []*slot {
	if (dir == Outbound) == p.host {
		return p.bank.input
	}
	return p.bank.output
}

func (p *bankPort) slot(dir Direction, i int) (*slot, error) {
	ss := p.slots(dir)
	if i < 0 || i >= len(ss) {
		return nil, errNoSlot(dir, i)
	}
	return ss[i], nil
}

func (p *bankPort) Slots(dir Direction) int {
	return len(p.slots(dir))
}

func (p *bankPort) Claim(i int) ([]uint32, error) {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	s, err := p.slot(Outbound, i)
	if err != nil {
		return nil, err
	}
	if s.claimed {
		return nil, fmt.Errorf("%w: outbound slot %d already claimed", protocol.ErrSlotBusy, i)
	}
	if len(s.entries) >= s.cfg.Depth {
		return nil, fmt.Errorf("%w: outbound slot %d full", protocol.ErrSlotBusy, i)
	}
	s.claimed = true
	clear(s.buf)
	return s.buf, nil
}

func (p *bankPort) Ready(i int, count int) error {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	s, err := p.slot(Outbound, i)
	if err != nil {
		return err
	}
	if !s.claimed {
		return fmt.Errorf("%w: outbound slot %d not claimed", protocol.ErrTransport, i)
	}
	if count < 0 || count > s.cfg.Width {
		s.claimed = false
		return fmt.Errorf("%w: %d words on slot %d of width %d", protocol.ErrFraming, count, i, s.cfg.Width)
	}
	entry := make([]uint32, count)
	copy(entry, s.buf[:count])
	s.entries = append(s.entries, entry)
	s.claimed = false
	return nil
}

func (p *bankPort) Purge(i int) error {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	s, err := p.slot(Outbound, i)
	if err != nil {
		return err
	}
	s.entries = nil
	s.claimed = false
	return nil
}

func (p *bankPort) Map(i int) ([]uint32, error) {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	s, err := p.slot(Inbound, i)
	if err != nil {
		return nil, err
	}
	if len(s.entries) == 0 {
		return nil, ErrEmpty
	}
	return s.entries[0], nil
}

func (p *bankPort) Discard(i int) error {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	s, err := p.slot(Inbound, i)
	if err != nil {
		return err
	}
	if len(s.entries) == 0 {
		return ErrEmpty
	}
	s.entries[0] = nil
	s.entries = s.entries[1:]
	return nil
}

func (p *bankPort) Status(dir Direction, i int) (Status, error) {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	s, err := p.slot(dir, i)
	if err != nil {
		return Status{}, err
	}
	return s.status(), nil
}

func (p *bankPort) Poll() (uint32, error) {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	var mask uint32
	for i, s := range p.slots(Inbound) {
		if len(s.entries) > 0 {
			mask |= 1 << uint(i)
		}
	}
	return mask, nil
}
