package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/IBKernel/partitions"
)

func TestExampleFile_MatchesDefaults(t *testing.T) {
	c, err := ReadString(ExampleFile)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestReadString_Overrides(t *testing.T) {
	c, err := ReadString(`[Coupling]
Kernel = bspline_3
PointDensity = 1.5
ConsistentMass = false

[Gridding]
UseScratchHierarchy = true
Strategy = RoundRobin

[Logging]
Level = debug
`)
	require.NoError(t, err)
	assert.Equal(t, "bspline_3", c.Coupling.Kernel)
	assert.Equal(t, 1.5, c.Coupling.PointDensity)
	assert.False(t, c.Coupling.ConsistentMass)
	assert.True(t, c.Gridding.UseScratchHierarchy)

	// Untouched keys keep their defaults.
	assert.Equal(t, 4, c.Gridding.MinBoxWidth)
	assert.Equal(t, 1.0, c.Coupling.WorkloadQuadPointWeight)

	strat, err := c.PartitionStrategy()
	require.NoError(t, err)
	assert.Equal(t, partitions.RoundRobin, strat)

	lvl, err := c.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, lvl)
}

func TestReadString_UnknownKeysIgnored(t *testing.T) {
	c, err := ReadString(`[Coupling]
Kernel = IB_3
SomeFutureKnob = 12

[Visualization]
Enabled = true
`)
	require.NoError(t, err, "unrecognized keys and sections are warnings, not errors")
	assert.Equal(t, "IB_3", c.Coupling.Kernel)
}

func TestReadString_Invalid(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"unknown kernel", "[Coupling]\nKernel = IB_6\n"},
		{"zero point density", "[Coupling]\nPointDensity = 0\n"},
		{"negative epsilon", "[Coupling]\nEpsilon = -1e-3\n"},
		{"zero workload weight", "[Coupling]\nWorkloadQuadPointWeight = 0\n"},
		{"zero box width", "[Gridding]\nMinBoxWidth = 0\n"},
		{"efficiency above one", "[Gridding]\nEfficiencyTol = 1.5\n"},
		{"negative tag buffer", "[Gridding]\nTagBuffer = -1\n"},
		{"unknown strategy", "[Gridding]\nStrategy = Hilbert\n"},
		{"unknown log level", "[Logging]\nLevel = verbose\n"},
		{"malformed line", "[Coupling\nKernel = IB_4\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadString(tc.text)
			require.Error(t, err)
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "run.ini")
	require.NoError(t, os.WriteFile(fname, []byte("[Coupling]\nKernel = COSINE\n"), 0o644))

	c, err := ReadFile(fname)
	require.NoError(t, err)
	assert.Equal(t, "COSINE", c.Coupling.Kernel)

	_, err = ReadFile(filepath.Join(dir, "absent.ini"))
	require.Error(t, err)
}
