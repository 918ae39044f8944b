package lockmanager

import (
	"fmt"
	"sort"
	"strings"

	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// DeadlockDetector walks the wait-for graph starting at one owner and
// reports whether the walk leads back to it. Each node is inspected under
// its own bucket mutex only, so the graph is not a consistent snapshot: a
// reported cycle may already be gone, and a cycle forming during the walk
// may be missed. Callers retry periodically.
type DeadlockDetector struct {
	lm              *LockManager
	initialLockerID LockerID
	foundCycle      bool

	queue []unprocessedNode
	graph map[LockerID]*edges
}

type unprocessedNode struct {
	lockerID   LockerID
	resourceID resource.ID
}

// edges are the owners a locker waits on for one resource.
type edges struct {
	resourceID resource.ID
	owners     []LockerID
}

// NewDeadlockDetector prepares a walk from the given owner. Nothing is
// inspected until Check or Next is called.
func NewDeadlockDetector(lm *LockManager, initial Owner) *DeadlockDetector {
	d := &DeadlockDetector{
		lm:              lm,
		initialLockerID: initial.ID(),
		graph:           make(map[LockerID]*edges),
	}
	if waiting := initial.WaitingResource(); waiting.IsValid() {
		d.queue = append(d.queue, unprocessedNode{
			lockerID:   initial.ID(),
			resourceID: waiting,
		})
	}
	return d
}

// Next processes one node. It returns false once there is nothing left to
// process or a cycle was found.
func (d *DeadlockDetector) Next() bool {
	if len(d.queue) == 0 {
		return false
	}
	n := d.queue[0]
	d.queue = d.queue[1:]
	d.processNextNode(n)
	return !d.foundCycle && len(d.queue) != 0
}

// Check runs the walk to completion and returns the detector.
func (d *DeadlockDetector) Check() *DeadlockDetector {
	for d.Next() {
	}
	return d
}

// HasCycle returns true if the walk came back to the initial owner.
func (d *DeadlockDetector) HasCycle() bool {
	return d.foundCycle
}

// String renders the explored graph, one line per waiting locker.
func (d *DeadlockDetector) String() string {
	ids := make([]LockerID, 0, len(d.graph))
	for id := range d.graph {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sb strings.Builder
	for _, id := range ids {
		e := d.graph[id]
		fmt.Fprintf(&sb, "Locker %d waits for resource %s held by [", id, e.resourceID)
		for _, owner := range e.owners {
			fmt.Fprintf(&sb, "%d, ", owner)
		}
		sb.WriteString("]\n")
	}
	return sb.String()
}

func (d *DeadlockDetector) processNextNode(n unprocessedNode) {
	b := d.lm.bucketFor(n.resourceID)
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.data[n.resourceID]
	if !ok {
		return
	}

	request := h.findRequest(n.lockerID)
	// The request may have been granted or released since the node was
	// queued.
	if request == nil || request.status == StatusGranted {
		return
	}

	if _, seen := d.graph[n.lockerID]; seen {
		if !d.foundCycle {
			d.foundCycle = n.lockerID == d.initialLockerID
		}
		return
	}
	e := &edges{resourceID: n.resourceID}
	d.graph[n.lockerID] = e

	// Holders and earlier converters block a converting request. Granted
	// entries behind it only block if they wait on something it holds.
	seenSelf := false
	for it := h.grantedList.back; it != nil; it = it.prev {
		if it == request {
			seenSelf = true
			continue
		}
		if request.status == StatusWaiting {
			if Conflicts(request.mode, it.mode.Mask()) || Conflicts(request.mode, it.convertMode.Mask()) {
				d.addEdge(e, it.owner)
			}
			continue
		}
		// StatusConverting.
		if Conflicts(request.convertMode, it.mode.Mask()) ||
			(seenSelf && Conflicts(request.convertMode, it.convertMode.Mask())) {
			d.addEdge(e, it.owner)
		}
	}

	// Waiting requests also wait on everything queued ahead of them.
	if request.status == StatusWaiting {
		for it := request.prev; it != nil; it = it.prev {
			if Conflicts(request.mode, it.mode.Mask()) {
				d.addEdge(e, it.owner)
			}
		}
	}
}

// addEdge records owner as a blocker, if it is itself blocked. Owners that
// are not waiting cannot be part of a cycle.
func (d *DeadlockDetector) addEdge(e *edges, owner Owner) {
	waiting := owner.WaitingResource()
	if !waiting.IsValid() {
		return
	}
	id := owner.ID()
	e.owners = append(e.owners, id)
	d.queue = append(d.queue, unprocessedNode{
		lockerID:   id,
		resourceID: waiting,
	})
}
