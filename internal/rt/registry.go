package rt

import (
	"fmt"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
)

type AccessMode uint8

const (
	ReadWrite AccessMode = iota
	// WriteOnly cells are overwritten without merging; reading them back is
	// meaningless.
	WriteOnly
)

// Variable describes one bit-field inside a memory cell.
type Variable struct {
	Name   string
	Cell   CellID
	Mask   uint32
	Offset uint8
	Mode   AccessMode
}

// Structure is a fixed-size buffer exported for bulk get/set.
type Structure struct {
	Name   string
	Buffer []byte
}

// Registry maps small indices to variables and structures.
type Registry struct {
	mem        *Memory
	variables  []Variable
	structures []Structure
}

func NewRegistry(mem *Memory, variables []Variable, structures []Structure) (*Registry, error) {
	if mem == nil {
		mem = NewMemory(0)
	}
	for i, v := range variables {
		if !mem.valid(v.Cell) {
			return nil, fmt.Errorf("rt: variable %d (%s): cell %d out of range", i, v.Name, v.Cell)
		}
		if v.Offset > 31 {
			return nil, fmt.Errorf("rt: variable %d (%s): offset %d out of range", i, v.Name, v.Offset)
		}
	}
	for i, s := range structures {
		if len(s.Buffer)%4 != 0 {
			return nil, fmt.Errorf("rt: structure %d (%s): length %d is not a multiple of 4", i, s.Name, len(s.Buffer))
		}
	}
	return &Registry{mem: mem, variables: variables, structures: structures}, nil
}

func (r *Registry) Memory() *Memory {
	return r.mem
}

func (r *Registry) NumVariables() int {
	return len(r.variables)
}

func (r *Registry) NumStructures() int {
	return len(r.structures)
}

// GetVariable reads a variable. An unknown index yields protocol.InvalidValue
// and ok=false.
func (r *Registry) GetVariable(index uint32) (uint32, bool) {
	if index >= uint32(len(r.variables)) {
		return protocol.InvalidValue, false
	}
	v := r.variables[index]
	return (r.mem.Load(v.Cell) >> v.Offset) & v.Mask, true
}

// SetVariable writes a variable. An unknown index writes nothing.
func (r *Registry) SetVariable(index, value uint32) bool {
	if index >= uint32(len(r.variables)) {
		return false
	}
	v := r.variables[index]
	val := (value & v.Mask) << v.Offset
	if v.Mode == WriteOnly {
		r.mem.Store(v.Cell, val)
		return true
	}
	cur := r.mem.Load(v.Cell)
	r.mem.Store(v.Cell, (cur&^(v.Mask<<v.Offset))|val)
	return true
}

// StructureLen returns the byte length of a structure.
func (r *Registry) StructureLen(index uint32) (int, bool) {
	if index >= uint32(len(r.structures)) {
		return 0, false
	}
	return len(r.structures[index].Buffer), true
}

// GetStructure returns a copy of a structure.
func (r *Registry) GetStructure(index uint32) ([]byte, bool) {
	if index >= uint32(len(r.structures)) {
		return nil, false
	}
	src := r.structures[index].Buffer
	out := make([]byte, len(src))
	copy(out, src)
	return out, true
}

// ReadStructure copies a structure into dst, which must have its exact size.
func (r *Registry) ReadStructure(index uint32, dst []byte) error {
	if index >= uint32(len(r.structures)) {
		return fmt.Errorf("%w: structure %d", protocol.ErrInvalidIndex, index)
	}
	src := r.structures[index].Buffer
	if len(dst) != len(src) {
		return fmt.Errorf("%w: structure %d is %d bytes, got %d", protocol.ErrStructureSizeMismatch, index, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

// SetStructure replaces a structure. A size mismatch copies nothing.
func (r *Registry) SetStructure(index uint32, b []byte) error {
	if index >= uint32(len(r.structures)) {
		return fmt.Errorf("%w: structure %d", protocol.ErrInvalidIndex, index)
	}
	dst := r.structures[index].Buffer
	if len(b) != len(dst) {
		return fmt.Errorf("%w: structure %d is %d bytes, got %d", protocol.ErrStructureSizeMismatch, index, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
