package lockmanager

import (
	"sort"

	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// RequestInfo describes one request in a lock report.
type RequestInfo struct {
	LockerID        LockerID `json:"lockerId"`
	OperationID     string   `json:"opId"`
	Mode            string   `json:"mode"`
	ConvertMode     string   `json:"convertMode"`
	EnqueueAtFront  bool     `json:"enqueueAtFront"`
	CompatibleFirst bool     `json:"compatibleFirst"`
}

// LockInfo describes the queues of one resource.
type LockInfo struct {
	ResourceID string        `json:"resourceId"`
	Granted    []RequestInfo `json:"granted"`
	Pending    []RequestInfo `json:"pending"`

	id resource.ID
}

// HeadState is a snapshot of the counters of one resource.
type HeadState struct {
	GrantedCounts        [ModeCount]uint32
	GrantedModes         uint32
	ConflictCounts       [ModeCount]uint32
	ConflictModes        uint32
	ConversionsCount     uint32
	CompatibleFirstCount uint32
}

// Report sweeps unused lock heads and then lists every resource with at
// least one granted request, ordered by resource id.
func (lm *LockManager) Report() []LockInfo {
	var infos []LockInfo
	for i := range lm.buckets {
		b := &lm.buckets[i]
		b.mu.Lock()
		lm.cleanupUnusedLocksInBucket(b)
		for id, h := range b.data {
			if h.grantedList.empty() {
				continue
			}
			info := LockInfo{
				ResourceID: id.String(),
				Granted:    []RequestInfo{},
				Pending:    []RequestInfo{},
				id:         id,
			}
			for it := h.grantedList.front; it != nil; it = it.next {
				info.Granted = append(info.Granted, describe(it))
			}
			for it := h.conflictList.front; it != nil; it = it.next {
				info.Pending = append(info.Pending, describe(it))
			}
			infos = append(infos, info)
		}
		b.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].id < infos[j].id })
	return infos
}

func describe(r *Request) RequestInfo {
	return RequestInfo{
		LockerID:        r.owner.ID(),
		OperationID:     r.owner.OperationID().String(),
		Mode:            r.mode.String(),
		ConvertMode:     r.convertMode.String(),
		EnqueueAtFront:  r.EnqueueAtFront,
		CompatibleFirst: r.CompatibleFirst,
	}
}

// Dump logs the Report.
func (lm *LockManager) Dump() {
	infos := lm.Report()
	lm.
		log.
		Info().
		Int("resources", len(infos)).
		Msg("dumping lock manager state")
	for _, info := range infos {
		for _, g := range info.Granted {
			lm.
				log.
				Info().
				Str("resource", info.ResourceID).
				Str("queue", "granted").
				Uint64("locker", uint64(g.LockerID)).
				Str("mode", g.Mode).
				Str("convertMode", g.ConvertMode).
				Bool("enqueueAtFront", g.EnqueueAtFront).
				Bool("compatibleFirst", g.CompatibleFirst).
				Msg("lock request")
		}
		for _, p := range info.Pending {
			lm.
				log.
				Info().
				Str("resource", info.ResourceID).
				Str("queue", "pending").
				Uint64("locker", uint64(p.LockerID)).
				Str("mode", p.Mode).
				Bool("enqueueAtFront", p.EnqueueAtFront).
				Bool("compatibleFirst", p.CompatibleFirst).
				Msg("lock request")
		}
	}
}

// Inspect folds partitioned grants of the resource into its lock head and
// returns its counters. It returns false if the resource has no lock head.
func (lm *LockManager) Inspect(id resource.ID) (HeadState, bool) {
	b := lm.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.data[id]
	if !ok {
		return HeadState{}, false
	}
	if h.partitioned() {
		h.migratePartitionedLockHeads()
	}
	return HeadState{
		GrantedCounts:        h.grantedCounts,
		GrantedModes:         h.grantedModes,
		ConflictCounts:       h.conflictCounts,
		ConflictModes:        h.conflictModes,
		ConversionsCount:     h.conversionsCount,
		CompatibleFirstCount: h.compatibleFirstCount,
	}, true
}
