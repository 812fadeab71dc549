package hierarchy

import "fmt"

// DataCache hands out scratch patch data indices keyed by data shape
// (depth, ghost width), cloning a registered index on first use and reusing
// released clones afterwards. Each cache is tied to a single hierarchy;
// the primary and scratch hierarchies need separate caches.
//
// The checkout discipline is strict: an index acquired from the cache must
// be released exactly once, and releasing an index the cache did not hand
// out is an error.
type DataCache struct {
	h *Hierarchy

	available   map[cacheKey][]int
	checkedOut  map[int]cacheKey
	allClones   []int
	coarsestLn  int
	finestLn    int
	levelsValid bool
}

type cacheKey struct {
	depth int
	ghost int
}

func NewDataCache(h *Hierarchy) *DataCache {
	return &DataCache{
		h:          h,
		available:  make(map[cacheKey][]int),
		checkedOut: make(map[int]cacheKey),
	}
}

// ResetLevels sets the level range on which acquired data is allocated.
// Must be called after every regrid and before the first Acquire.
func (c *DataCache) ResetLevels(coarsestLn, finestLn int) error {
	if coarsestLn < 0 || finestLn < coarsestLn || finestLn > c.h.FinestLevelNumber() {
		return fmt.Errorf("data cache %q: invalid level range [%d,%d]", c.h.Name, coarsestLn, finestLn)
	}
	c.coarsestLn, c.finestLn = coarsestLn, finestLn
	c.levelsValid = true
	return nil
}

// Acquire returns a scratch data index shaped like idx, allocated on the
// configured level range.
func (c *DataCache) Acquire(idx int) (int, error) {
	if !c.levelsValid {
		return -1, fmt.Errorf("data cache %q: Acquire before ResetLevels", c.h.Name)
	}
	v, err := c.h.VarDB.Variable(idx)
	if err != nil {
		return -1, err
	}
	key := cacheKey{depth: v.Depth, ghost: v.Ghost}
	var clone int
	if free := c.available[key]; len(free) > 0 {
		clone = free[len(free)-1]
		c.available[key] = free[:len(free)-1]
	} else {
		clone = c.h.VarDB.CloneIndex(idx)
		c.allClones = append(c.allClones, clone)
	}
	c.checkedOut[clone] = key
	for ln := c.coarsestLn; ln <= c.finestLn; ln++ {
		c.h.Levels[ln].Allocate(c.h.VarDB, clone)
	}
	return clone, nil
}

// Release returns a scratch index to the cache.
func (c *DataCache) Release(idx int) error {
	key, ok := c.checkedOut[idx]
	if !ok {
		return fmt.Errorf("data cache %q: release of index %d that is not checked out", c.h.Name, idx)
	}
	delete(c.checkedOut, idx)
	c.available[key] = append(c.available[key], idx)
	return nil
}

// InvalidateStorage drops all cloned data from the hierarchy, typically
// around a regrid. Outstanding checkouts become invalid; callers must not
// hold acquired indices across a regrid.
func (c *DataCache) InvalidateStorage() {
	for _, clone := range c.allClones {
		for _, level := range c.h.Levels {
			level.Deallocate(clone)
		}
	}
	c.levelsValid = false
}
