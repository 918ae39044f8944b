package resource

import (
	"sync"
)

// mutexRegistry hands out sequential ids for named mutex resources and
// keeps their labels for the lifetime of the process.
type mutexRegistry struct {
	mu     sync.Mutex
	labels []string
}

var mutexes mutexRegistry

// NewMutex allocates a fresh TypeMutex resource carrying the label. Every
// call returns a distinct id, even for an already used label.
func NewMutex(label string) ID {
	mutexes.mu.Lock()
	defer mutexes.mu.Unlock()
	mutexes.labels = append(mutexes.labels, label)
	return FromHash(TypeMutex, uint64(len(mutexes.labels)-1))
}

// MutexLabel returns the label of a mutex resource.
func MutexLabel(id ID) (string, bool) {
	if id.Type() != TypeMutex {
		return "", false
	}
	mutexes.mu.Lock()
	defer mutexes.mu.Unlock()
	idx := id.HashID()
	if idx >= uint64(len(mutexes.labels)) {
		return "", false
	}
	return mutexes.labels[idx], true
}
