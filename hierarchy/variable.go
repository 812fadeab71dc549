package hierarchy

import "fmt"

// Variable describes one registered Eulerian quantity. Depth is the number
// of components per cell (3 for a velocity or force field, 1 for a workload
// or source field); Ghost is the stencil width the variable must carry.
type Variable struct {
	Name  string
	Depth int
	Ghost int

	// Cloned marks scratch indices created by CloneIndex / DataCache rather
	// than registered under a user-facing name.
	Cloned bool
}

// VariableDatabase maps variable names to patch data indices. One database
// is shared by the primary and scratch hierarchies so a data index means the
// same quantity on both, which is what lets transfer schedules move a field
// between the two partitionings.
type VariableDatabase struct {
	vars   []Variable
	byName map[string]int
}

func NewVariableDatabase() *VariableDatabase {
	return &VariableDatabase{byName: make(map[string]int)}
}

// Register adds a variable and returns its patch data index. Registering the
// same name twice is a configuration error.
func (db *VariableDatabase) Register(name string, depth, ghost int) (int, error) {
	if _, dup := db.byName[name]; dup {
		return -1, fmt.Errorf("variable %q already registered", name)
	}
	if depth <= 0 || ghost < 0 {
		return -1, fmt.Errorf("variable %q: invalid depth=%d ghost=%d", name, depth, ghost)
	}
	idx := len(db.vars)
	db.vars = append(db.vars, Variable{Name: name, Depth: depth, Ghost: ghost})
	db.byName[name] = idx
	return idx, nil
}

// CloneIndex registers an anonymous scratch variable with the same shape as
// idx and returns its index.
func (db *VariableDatabase) CloneIndex(idx int) int {
	v := db.MustVariable(idx)
	cloneIdx := len(db.vars)
	db.vars = append(db.vars, Variable{
		Name:   fmt.Sprintf("%s::clone_%d", v.Name, cloneIdx),
		Depth:  v.Depth,
		Ghost:  v.Ghost,
		Cloned: true,
	})
	return cloneIdx
}

// Lookup returns the index registered under name.
func (db *VariableDatabase) Lookup(name string) (int, bool) {
	idx, ok := db.byName[name]
	return idx, ok
}

func (db *VariableDatabase) NumVariables() int { return len(db.vars) }

func (db *VariableDatabase) Variable(idx int) (Variable, error) {
	if idx < 0 || idx >= len(db.vars) {
		return Variable{}, fmt.Errorf("no variable with index %d", idx)
	}
	return db.vars[idx], nil
}

// MustVariable is Variable for indices the caller knows are valid; an
// out-of-range index is a programming error.
func (db *VariableDatabase) MustVariable(idx int) Variable {
	v, err := db.Variable(idx)
	if err != nil {
		panic(err)
	}
	return v
}
