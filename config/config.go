// Package config reads the run configuration: one gcfg/ini file with a
// [Coupling] section for the interaction parameters, a [Gridding] section
// for the scratch-hierarchy layout machinery, and a [Logging] section.
// Missing keys keep their documented defaults; unknown keys are ignored;
// invalid values are rejected when the file is read, not when they are
// first used.
package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/gcfg.v1"

	"github.com/notargets/IBKernel/interaction"
	"github.com/notargets/IBKernel/partitions"
)

// ExampleFile documents every recognized key with its default.
const ExampleFile = `[Coupling]
# Regularized delta kernel used by interpolate and spread. One of:
# PIECEWISE_LINEAR | COSINE | IB_3 | IB_4 | BSPLINE_3
Kernel = IB_4

# Interaction points per element diameter per grid cell; drives the
# adaptive quadrature order on finite-element parts.
PointDensity = 2.0

# Solve L2 projections with the consistent mass matrix (true) or the
# lumped diagonal (false).
ConsistentMass = true

# Impose surface tractions as pressure jumps through the fluid solver
# instead of spreading them (requires a solver that supports it).
UseJumpConditions = false

# Penalty added to the stress-normalization projection.
Epsilon = 1e-8

# Workload added per interaction point and overlapped cell when
# estimating per-box cost for the scratch partitioning.
WorkloadQuadPointWeight = 1.0

[Gridding]
# Build a workload-balanced scratch hierarchy for interaction.
UseScratchHierarchy = false

# Box generation: smallest admissible box width, the tagged-cell fraction
# at which a box is accepted, and the buffer grown around accepted boxes.
MinBoxWidth = 4
EfficiencyTol = 0.70
TagBuffer = 1

# Load balancing: box-to-rank strategy (Block | RoundRobin | Workload)
# and the single-box weight cap (x mean rank load) above which boxes are
# split before packing. Zero disables splitting.
Strategy = Workload
MaxWorkloadFactor = 0.5

[Logging]
# One of: panic | fatal | error | warn | info | debug | trace
Level = info

# Suppress the workload summary of the first regrid.
SkipInitialWorkloadLog = false
`

type CouplingConfig struct {
	Kernel                  string
	PointDensity            float64
	ConsistentMass          bool
	UseJumpConditions       bool
	Epsilon                 float64
	WorkloadQuadPointWeight float64
}

type GriddingConfig struct {
	UseScratchHierarchy bool
	MinBoxWidth         int
	EfficiencyTol       float64
	TagBuffer           int
	Strategy            string
	MaxWorkloadFactor   float64
}

type LoggingConfig struct {
	Level                  string
	SkipInitialWorkloadLog bool
}

type Config struct {
	Coupling CouplingConfig
	Gridding GriddingConfig
	Logging  LoggingConfig
}

// Default returns the configuration documented in ExampleFile.
func Default() *Config {
	return &Config{
		Coupling: CouplingConfig{
			Kernel:                  "IB_4",
			PointDensity:            2.0,
			ConsistentMass:          true,
			Epsilon:                 1e-8,
			WorkloadQuadPointWeight: 1.0,
		},
		Gridding: GriddingConfig{
			MinBoxWidth:       4,
			EfficiencyTol:     0.70,
			TagBuffer:         1,
			Strategy:          "Workload",
			MaxWorkloadFactor: 0.5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ReadFile loads fname over the defaults and validates the result.
// Warnings about unrecognized keys are discarded; only fatal parse errors
// surface.
func ReadFile(fname string) (*Config, error) {
	c := Default()
	if err := gcfg.FatalOnly(gcfg.ReadFileInto(c, fname)); err != nil {
		return nil, fmt.Errorf("config %s: %w", fname, err)
	}
	if err := c.CheckInit(); err != nil {
		return nil, fmt.Errorf("config %s: %w", fname, err)
	}
	return c, nil
}

// ReadString is ReadFile for in-memory configuration text.
func ReadString(text string) (*Config, error) {
	c := Default()
	if err := gcfg.FatalOnly(gcfg.ReadStringInto(c, text)); err != nil {
		return nil, err
	}
	if err := c.CheckInit(); err != nil {
		return nil, err
	}
	return c, nil
}

// CheckInit validates every field eagerly so a bad run fails before any
// hierarchy exists.
func (c *Config) CheckInit() error {
	if _, err := interaction.KernelFromName(c.Coupling.Kernel); err != nil {
		return err
	}
	if c.Coupling.PointDensity <= 0 {
		return fmt.Errorf("PointDensity must be positive, got %g", c.Coupling.PointDensity)
	}
	if c.Coupling.Epsilon < 0 {
		return fmt.Errorf("Epsilon must be non-negative, got %g", c.Coupling.Epsilon)
	}
	if c.Coupling.WorkloadQuadPointWeight <= 0 {
		return fmt.Errorf("WorkloadQuadPointWeight must be positive, got %g",
			c.Coupling.WorkloadQuadPointWeight)
	}
	if c.Gridding.MinBoxWidth < 1 {
		return fmt.Errorf("MinBoxWidth must be at least 1, got %d", c.Gridding.MinBoxWidth)
	}
	if c.Gridding.EfficiencyTol <= 0 || c.Gridding.EfficiencyTol > 1 {
		return fmt.Errorf("EfficiencyTol must be in (0, 1], got %g", c.Gridding.EfficiencyTol)
	}
	if c.Gridding.TagBuffer < 0 {
		return fmt.Errorf("TagBuffer must be non-negative, got %d", c.Gridding.TagBuffer)
	}
	if c.Gridding.MaxWorkloadFactor < 0 {
		return fmt.Errorf("MaxWorkloadFactor must be non-negative, got %g",
			c.Gridding.MaxWorkloadFactor)
	}
	if _, err := c.PartitionStrategy(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// PartitionStrategy resolves the configured strategy name.
func (c *Config) PartitionStrategy() (partitions.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(c.Gridding.Strategy)) {
	case "block":
		return partitions.BlockPartition, nil
	case "roundrobin":
		return partitions.RoundRobin, nil
	case "workload":
		return partitions.WorkloadBinPack, nil
	default:
		return 0, fmt.Errorf("Strategy must be one of [Block | RoundRobin | Workload], got %q",
			c.Gridding.Strategy)
	}
}

// LogLevel resolves the configured logrus level.
func (c *Config) LogLevel() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return 0, fmt.Errorf("Level must be a logrus level name, got %q", c.Logging.Level)
	}
	return lvl, nil
}
