// Package restart persists and restores Lagrangian structure state. Each
// save lands in its own per-step directory (restore.NNNNNN) holding one
// fixed-layout little-endian state file, so a run directory accumulates a
// history of restart points and a loader can pick any of them.
//
// Restoration is driven by an injected registry of live parts: the caller
// registers the parts it constructed (same names, same meshes) and the
// loader copies the saved state into them, failing with ErrRestartMismatch
// when the saved run and the registered parts disagree.
package restart

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/notargets/IBKernel/structure"
)

// ErrRestartMismatch means the saved state does not match the registered
// parts or the file is not a state file this version can read.
var ErrRestartMismatch = errors.New("restart data does not match the configured run")

const (
	magic      = uint32(0x49424b52) // "IBKR"
	version    = uint16(1)
	stateFile  = "state.bin"
	dirPattern = "restore.%06d"
)

// Registry is the injected mapping from saved part names to live parts.
type Registry struct {
	parts map[string]structure.Integrable
	order []string
}

func NewRegistry() *Registry {
	return &Registry{parts: make(map[string]structure.Integrable)}
}

// Register adds a part; duplicate names are a configuration error.
func (r *Registry) Register(p structure.Integrable) error {
	if _, dup := r.parts[p.Name()]; dup {
		return fmt.Errorf("part %q registered twice", p.Name())
	}
	r.parts[p.Name()] = p
	r.order = append(r.order, p.Name())
	return nil
}

// StepDir returns the directory a given step saves into.
func StepDir(root string, step int) string {
	return filepath.Join(root, fmt.Sprintf(dirPattern, step))
}

// ListSteps returns the saved step numbers under root, ascending.
func ListSteps(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var steps []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		num, ok := strings.CutPrefix(e.Name(), "restore.")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(num); err == nil {
			steps = append(steps, n)
		}
	}
	sort.Ints(steps)
	return steps, nil
}

// Save writes the state of every registered part at (step, simTime) into
// the step's directory, creating it as needed.
func (r *Registry) Save(root string, step int, simTime float64) error {
	dir := StepDir(root, step)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, stateFile))
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := r.write(w, step, simTime); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *Registry) write(w io.Writer, step int, simTime float64) error {
	for _, v := range []any{magic, version, uint64(step), simTime, uint32(len(r.order))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, name := range r.order {
		p := r.parts[name]
		if err := writeString(w, name); err != nil {
			return err
		}
		active := uint8(0)
		if p.Active() {
			active = 1
		}
		hasSource := uint8(0)
		if p.SourceDensity() != nil {
			hasSource = 1
		}
		for _, v := range []any{uint8(p.Kind()), active, uint32(p.NumNodes()), hasSource} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		for _, arr := range [][]float64{p.Positions(), p.RefPositions(), p.Velocities(), p.Forces()} {
			if err := binary.Write(w, binary.LittleEndian, arr); err != nil {
				return err
			}
		}
		if hasSource == 1 {
			if err := binary.Write(w, binary.LittleEndian, p.SourceDensity()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load restores the state saved at step into the registered parts and
// returns the saved simulation time.
func (r *Registry) Load(root string, step int) (float64, error) {
	path := filepath.Join(StepDir(root, step), stateFile)
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.read(bufio.NewReader(f), step, path)
}

func (r *Registry) read(rd io.Reader, step int, path string) (float64, error) {
	var (
		gotMagic   uint32
		gotVersion uint16
		gotStep    uint64
		simTime    float64
		numParts   uint32
	)
	for _, v := range []any{&gotMagic, &gotVersion, &gotStep, &simTime, &numParts} {
		if err := binary.Read(rd, binary.LittleEndian, v); err != nil {
			return 0, fmt.Errorf("%s: truncated header: %w", path, ErrRestartMismatch)
		}
	}
	if gotMagic != magic {
		return 0, fmt.Errorf("%s: not a state file (magic %#x): %w", path, gotMagic, ErrRestartMismatch)
	}
	if gotVersion != version {
		return 0, fmt.Errorf("%s: state version %d, this build reads %d: %w",
			path, gotVersion, version, ErrRestartMismatch)
	}
	if int(gotStep) != step {
		return 0, fmt.Errorf("%s: directory names step %d but file holds step %d: %w",
			path, step, gotStep, ErrRestartMismatch)
	}
	if int(numParts) != len(r.parts) {
		return 0, fmt.Errorf("%s: %d saved parts, %d registered: %w",
			path, numParts, len(r.parts), ErrRestartMismatch)
	}
	for i := 0; i < int(numParts); i++ {
		if err := r.readPart(rd, path); err != nil {
			return 0, err
		}
	}
	return simTime, nil
}

func (r *Registry) readPart(rd io.Reader, path string) error {
	name, err := readString(rd)
	if err != nil {
		return fmt.Errorf("%s: truncated part record: %w", path, ErrRestartMismatch)
	}
	p, ok := r.parts[name]
	if !ok {
		return fmt.Errorf("%s: saved part %q is not registered: %w", path, name, ErrRestartMismatch)
	}
	var (
		kind      uint8
		active    uint8
		numNodes  uint32
		hasSource uint8
	)
	for _, v := range []any{&kind, &active, &numNodes, &hasSource} {
		if err := binary.Read(rd, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("%s: truncated record for part %q: %w", path, name, ErrRestartMismatch)
		}
	}
	if structure.Kind(kind) != p.Kind() {
		return fmt.Errorf("%s: part %q saved as %s, registered as %s: %w",
			path, name, structure.Kind(kind), p.Kind(), ErrRestartMismatch)
	}
	if int(numNodes) != p.NumNodes() {
		return fmt.Errorf("%s: part %q saved with %d nodes, registered with %d: %w",
			path, name, numNodes, p.NumNodes(), ErrRestartMismatch)
	}
	if (hasSource == 1) != (p.SourceDensity() != nil) {
		return fmt.Errorf("%s: part %q source registration differs from saved state: %w",
			path, name, ErrRestartMismatch)
	}
	for _, arr := range [][]float64{p.Positions(), p.RefPositions(), p.Velocities(), p.Forces()} {
		if err := binary.Read(rd, binary.LittleEndian, arr); err != nil {
			return fmt.Errorf("%s: truncated data for part %q: %w", path, name, ErrRestartMismatch)
		}
	}
	if hasSource == 1 {
		if err := binary.Read(rd, binary.LittleEndian, p.SourceDensity()); err != nil {
			return fmt.Errorf("%s: truncated source data for part %q: %w", path, name, ErrRestartMismatch)
		}
	}
	if active == 1 {
		p.Activate()
	} else {
		p.Deactivate()
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(rd io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
