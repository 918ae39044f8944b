package locker

import (
	"github.com/cockroachdb/errors"

	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// Hierarchy is the acquisition order of resource types, outermost level
// first. A resource of level k > 0 may only be locked while the Global
// resource and a resource of level k-1 are held. Types that appear on no
// level, like TypeMutex, are unordered.
type Hierarchy [][]resource.Type

// DefaultHierarchy is Global, Database, then Collection and Metadata.
func DefaultHierarchy() Hierarchy {
	return Hierarchy{
		{resource.TypeGlobal},
		{resource.TypeDatabase},
		{resource.TypeCollection, resource.TypeMetadata},
	}
}

// FlushHierarchy adds the legacy journal flush lock between Global and
// Database.
func FlushHierarchy() Hierarchy {
	return Hierarchy{
		{resource.TypeGlobal},
		{resource.TypeFlush},
		{resource.TypeDatabase},
		{resource.TypeCollection, resource.TypeMetadata},
	}
}

// level returns the level of t, or -1 if t is unordered.
func (h Hierarchy) level(t resource.Type) int {
	for i, types := range h {
		for _, lt := range types {
			if lt == t {
				return i
			}
		}
	}
	return -1
}

// CheckOrder returns an error wrapping ErrLockOrder if locking id would
// violate the hierarchy. Resources already held always pass.
func (l *Locker) CheckOrder(id resource.ID) error {
	if _, ok := l.find(id); ok {
		return nil
	}
	h := l.env.hierarchy
	lvl := h.level(id.Type())
	if lvl <= 0 {
		return nil
	}
	if _, holdsGlobal := l.find(resource.Global); !holdsGlobal {
		return errors.Wrapf(ErrLockOrder, "lock of %s without the global lock", id)
	}
	if lvl == 1 {
		return nil
	}

	parent := false
	l.requests.Ascend(func(held *heldLock) bool {
		if h.level(held.id.Type()) == lvl-1 {
			parent = true
			return false
		}
		return true
	})
	if !parent {
		return errors.Wrapf(ErrLockOrder, "lock of %s without holding a %v lock", id, h[lvl-1])
	}
	return nil
}

func (l *Locker) checkOrder(id resource.ID) {
	if err := l.CheckOrder(id); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "acquisition order"))
	}
}
