package restart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/IBKernel/structure"
)

func makeParts(t *testing.T) (*structure.MarkerPart, *structure.FEPart) {
	t.Helper()
	m, err := structure.NewMarkerPart("markers", [][3]float64{
		{1, 2, 3}, {4, 5, 6},
	})
	require.NoError(t, err)
	fe, err := structure.NewFEPart("shell",
		[][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		[][4]int{{0, 1, 2, 3}}, nil)
	require.NoError(t, err)
	return m, fe
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()
	m, fe := makeParts(t)
	require.NoError(t, m.RegisterBodySourceFunction(
		func(x, X [3]float64, tm float64) float64 { return 1 }))

	// Perturb every field so the round trip is meaningful.
	for i := range m.Positions() {
		m.Positions()[i] += 0.5
		m.Velocities()[i] = float64(i)
		m.Forces()[i] = -float64(i)
	}
	m.SourceDensity()[1] = 7
	fe.Deactivate()

	reg := NewRegistry()
	require.NoError(t, reg.Register(m))
	require.NoError(t, reg.Register(fe))
	require.Error(t, reg.Register(m), "duplicate names rejected")

	require.NoError(t, reg.Save(root, 42, 3.25))

	steps, err := ListSteps(root)
	require.NoError(t, err)
	assert.Equal(t, []int{42}, steps)

	// Restore into freshly constructed parts.
	m2, fe2 := makeParts(t)
	require.NoError(t, m2.RegisterBodySourceFunction(
		func(x, X [3]float64, tm float64) float64 { return 1 }))
	reg2 := NewRegistry()
	require.NoError(t, reg2.Register(m2))
	require.NoError(t, reg2.Register(fe2))

	simTime, err := reg2.Load(root, 42)
	require.NoError(t, err)
	assert.Equal(t, 3.25, simTime)
	assert.Equal(t, m.Positions(), m2.Positions())
	assert.Equal(t, m.Velocities(), m2.Velocities())
	assert.Equal(t, m.Forces(), m2.Forces())
	assert.Equal(t, m.SourceDensity(), m2.SourceDensity())
	assert.False(t, fe2.Active(), "activation state restored")
	assert.True(t, m2.Active())
}

func TestLoad_MismatchDetection(t *testing.T) {
	root := t.TempDir()
	m, fe := makeParts(t)
	reg := NewRegistry()
	require.NoError(t, reg.Register(m))
	require.NoError(t, reg.Register(fe))
	require.NoError(t, reg.Save(root, 7, 1.0))

	t.Run("missing part", func(t *testing.T) {
		other, err := structure.NewMarkerPart("other", [][3]float64{{0, 0, 0}, {1, 1, 1}})
		require.NoError(t, err)
		m2, _ := makeParts(t)
		bad := NewRegistry()
		require.NoError(t, bad.Register(m2))
		require.NoError(t, bad.Register(other))
		_, err = bad.Load(root, 7)
		require.ErrorIs(t, err, ErrRestartMismatch)
	})

	t.Run("node count", func(t *testing.T) {
		short, err := structure.NewMarkerPart("markers", [][3]float64{{0, 0, 0}})
		require.NoError(t, err)
		_, fe2 := makeParts(t)
		bad := NewRegistry()
		require.NoError(t, bad.Register(short))
		require.NoError(t, bad.Register(fe2))
		_, err = bad.Load(root, 7)
		require.ErrorIs(t, err, ErrRestartMismatch)
	})

	t.Run("part count", func(t *testing.T) {
		m2, _ := makeParts(t)
		bad := NewRegistry()
		require.NoError(t, bad.Register(m2))
		_, err := bad.Load(root, 7)
		require.ErrorIs(t, err, ErrRestartMismatch)
	})

	t.Run("corrupt magic", func(t *testing.T) {
		path := filepath.Join(StepDir(root, 7), stateFile)
		require.NoError(t, os.WriteFile(path, []byte("not a state file at all"), 0o644))
		m2, fe2 := makeParts(t)
		bad := NewRegistry()
		require.NoError(t, bad.Register(m2))
		require.NoError(t, bad.Register(fe2))
		_, err := bad.Load(root, 7)
		require.ErrorIs(t, err, ErrRestartMismatch)
	})
}

func TestListSteps_OrderedAndFiltered(t *testing.T) {
	root := t.TempDir()
	m, fe := makeParts(t)
	reg := NewRegistry()
	require.NoError(t, reg.Register(m))
	require.NoError(t, reg.Register(fe))
	for _, step := range []int{30, 5, 100} {
		require.NoError(t, reg.Save(root, step, float64(step)))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "viz"), 0o755))

	steps, err := ListSteps(root)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 30, 100}, steps)
}
