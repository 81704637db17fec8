package rt

import "fmt"

// CellID is an opaque handle to one 32-bit memory cell.
type CellID int

// Memory is the fixed table of cells that variables refer to. A cell may carry
// a write hook modelling a peripheral pseudo-register.
type Memory struct {
	cells []uint32
	hooks map[CellID]func(v uint32)
}

func NewMemory(n int) *Memory {
	return &Memory{cells: make([]uint32, n), hooks: make(map[CellID]func(uint32))}
}

func (m *Memory) Len() int {
	return len(m.cells)
}

func (m *Memory) valid(id CellID) bool {
	return id >= 0 && int(id) < len(m.cells)
}

func (m *Memory) Load(id CellID) uint32 {
	return m.cells[id]
}

func (m *Memory) Store(id CellID, v uint32) {
	m.cells[id] = v
	if hook, ok := m.hooks[id]; ok {
		hook(v)
	}
}

// SetClear turns set and clear into write-only pseudo-registers: ones written
// to set are ORed into status, ones written to clear are removed from it.
func (m *Memory) SetClear(set, clear, status CellID) error {
	for _, id := range []CellID{set, clear, status} {
		if !m.valid(id) {
			return fmt.Errorf("rt: memory cell %d out of range", id)
		}
	}
	m.hooks[set] = func(v uint32) { m.cells[status] |= v }
	m.hooks[clear] = func(v uint32) { m.cells[status] &^= v }
	return nil
}
