package lockmanager

import (
	"sync"

	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// bucket is one shard of the resource to lockHead map.
type bucket struct {
	mu   sync.Mutex
	data map[resource.ID]*lockHead
}

func (b *bucket) findOrInsert(id resource.ID) *lockHead {
	h, ok := b.data[id]
	if !ok {
		h = newLockHead(id)
		b.data[id] = h
	}
	return h
}

// partition holds the intent grants of the lockers that map onto it.
type partition struct {
	mu   sync.Mutex
	data map[resource.ID]*partitionedLockHead
}

func (p *partition) find(id resource.ID) *partitionedLockHead {
	return p.data[id]
}

func (p *partition) findOrInsert(id resource.ID) *partitionedLockHead {
	plh, ok := p.data[id]
	if !ok {
		plh = &partitionedLockHead{}
		p.data[id] = plh
	}
	return plh
}

// migrate moves the grants this partition holds for h into h and drops the
// partitioned head. The caller holds the bucket mutex of h.
func (p *partition) migrate(h *lockHead) {
	p.mu.Lock()
	defer p.mu.Unlock()

	plh, ok := p.data[h.resourceID]
	if !ok {
		return
	}
	for !plh.grantedList.empty() {
		r := plh.grantedList.front
		plh.grantedList.remove(r)
		invariant(!Conflicts(r.mode, h.grantedModes), "migrated %s grant conflicts on %s", r.mode, h.resourceID)
		r.partitionedLock = nil
		r.lock = h
		h.grantGranted(r)
	}
	delete(p.data, h.resourceID)
}
