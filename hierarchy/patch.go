package hierarchy

import "fmt"

// Patch is one rectangular grid block owned by a single rank. Data living on
// the patch is addressed by the data indices handed out by the
// VariableDatabase.
type Patch struct {
	Box  Box
	Rank int

	fields map[int]*CellField
}

func NewPatch(box Box, rank int) *Patch {
	return &Patch{Box: box, Rank: rank, fields: make(map[int]*CellField)}
}

// Allocate creates storage for the given data index using the variable's
// registered shape. Allocating an index twice keeps the existing data.
func (p *Patch) Allocate(db *VariableDatabase, idx int) *CellField {
	if f, ok := p.fields[idx]; ok {
		return f
	}
	v := db.MustVariable(idx)
	f := NewCellField(p.Box, v.Ghost, v.Depth)
	p.fields[idx] = f
	return f
}

// Deallocate drops storage for the given data index.
func (p *Patch) Deallocate(idx int) {
	delete(p.fields, idx)
}

// Allocated reports whether data exists for the index.
func (p *Patch) Allocated(idx int) bool {
	_, ok := p.fields[idx]
	return ok
}

// Field returns the data for the index; requesting unallocated data is an
// error (it means a schedule or operator ran before its setup phase).
func (p *Patch) Field(idx int) (*CellField, error) {
	f, ok := p.fields[idx]
	if !ok {
		return nil, fmt.Errorf("patch %s: data index %d not allocated", p.Box, idx)
	}
	return f, nil
}
