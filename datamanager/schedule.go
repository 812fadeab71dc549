package datamanager

import (
	"fmt"

	"github.com/notargets/IBKernel/hierarchy"
)

// TransferDirection says which hierarchy is the source of a transfer.
type TransferDirection uint8

const (
	PrimaryToScratch TransferDirection = iota
	ScratchToPrimary
)

func (d TransferDirection) String() string {
	if d == PrimaryToScratch {
		return "primary->scratch"
	}
	return "scratch->primary"
}

// scheduleKey identifies a cached transfer schedule. Schedules depend only
// on the two patch layouts and the data shapes, so one schedule serves
// every execution until a regrid invalidates it.
type scheduleKey struct {
	level     int
	srcIdx    int
	dstIdx    int
	direction TransferDirection
}

// copyOp is one patch-to-patch overlap copy.
type copyOp struct {
	src    *hierarchy.Patch
	dst    *hierarchy.Patch
	region hierarchy.Box
}

// TransferSchedule moves one data index between the primary and scratch
// hierarchies on one level. The two hierarchies share an index space but
// not a patch decomposition; the schedule is the precomputed list of
// overlap copies between the two layouts.
type TransferSchedule struct {
	key scheduleKey
	ops []copyOp
}

// Schedule returns the cached transfer schedule for (level, srcIdx, dstIdx,
// direction), building it on first use. A scratch hierarchy must be
// installed.
func (m *DataManager) Schedule(level, srcIdx, dstIdx int, dir TransferDirection) (*TransferSchedule, error) {
	if m.scratch == nil {
		return nil, fmt.Errorf("transfer schedule %v requested without a scratch hierarchy", dir)
	}
	key := scheduleKey{level: level, srcIdx: srcIdx, dstIdx: dstIdx, direction: dir}
	if s, ok := m.schedules[key]; ok {
		return s, nil
	}
	srcH, dstH := m.Primary, m.scratch
	if dir == ScratchToPrimary {
		srcH, dstH = m.scratch, m.Primary
	}
	srcLevel, err := srcH.Level(level)
	if err != nil {
		return nil, err
	}
	dstLevel, err := dstH.Level(level)
	if err != nil {
		return nil, err
	}
	s := &TransferSchedule{key: key}
	for _, dst := range dstLevel.Patches {
		for _, src := range srcLevel.Patches {
			if region, ok := dst.Box.Intersect(src.Box); ok {
				s.ops = append(s.ops, copyOp{src: src, dst: dst, region: region})
			}
		}
	}
	m.schedules[key] = s
	return s, nil
}

// NumOps returns the number of overlap copies in the schedule.
func (s *TransferSchedule) NumOps() int { return len(s.ops) }

// Execute runs every overlap copy. Both indices must be allocated on their
// respective levels.
func (s *TransferSchedule) Execute() error {
	for _, op := range s.ops {
		sf, err := op.src.Field(s.key.srcIdx)
		if err != nil {
			return fmt.Errorf("transfer %v: %w", s.key.direction, err)
		}
		df, err := op.dst.Field(s.key.dstIdx)
		if err != nil {
			return fmt.Errorf("transfer %v: %w", s.key.direction, err)
		}
		df.CopyOverlap(sf, op.region)
	}
	return nil
}
