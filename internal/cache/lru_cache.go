package cache

import (
	"sync"
)

var _ Cache = (*LRUCache)(nil)

// LRUCache implements a cache. It uses a linked list as
// the primary data structure along with a hash-map for
// checking existance of an element in the cache.
//
// The starting element in the linked list will always be
// the most recently used element in the cache and will be
// maintained that way by all the operating functions.
// All insertions occur at the head of the DLL since this is the
// MRU position. This ensures that the LRU position is the tail.
//
// LRUCache is safe for concurrent use.
type LRUCache struct {
	capacity int
	m        map[uint64]*DLLNode
	dll      *DoublyLinkedList
	mu       sync.Mutex
}

// NewLRUCache creates a new LRUCache of provided size.
// A capacity below one is treated as one.
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		m:        make(map[uint64]*DLLNode),
		dll:      NewDoublyLinkedList(),
	}
}

// GetElement gets an element from the cache. It returns
// the associated data with the element with an error.
//
// Whenever an element is retrieved from the cache,
// it's bumped to the MRU position in the DLL.
//
// Error is returned only if the element doesn't exist in the cache.
func (lru *LRUCache) GetElement(key Key) (string, error) {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	node, ok := lru.m[key.Data()]
	if !ok {
		return "", ErrElementDoesntExist
	}
	if lru.dll.Head != node {
		lru.dll.DeleteNode(node)
		lru.m[key.Data()] = lru.dll.InsertNodeToLeft(lru.dll.Head, key, node.NodeValue).(*DLLNode)
	}
	return node.NodeValue, nil
}

// PutElement inserts an element in the cache.
// All insertions occur at the head node of the DLL.
// Putting an existing key replaces its value and bumps it to MRU.
//
// Removal of the LRU is done by deleting the tail node,
// making place for a new node.
func (lru *LRUCache) PutElement(key Key, value string) error {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	if node, ok := lru.m[key.Data()]; ok {
		lru.dll.DeleteNode(node)
	} else if lru.dll.Len() == lru.capacity {
		tail := lru.dll.Tail
		lru.dll.DeleteNode(tail)
		delete(lru.m, tail.NodeKey.Data())
	}
	lru.m[key.Data()] = lru.dll.InsertNodeToLeft(lru.dll.Head, key, value).(*DLLNode)
	return nil
}

// RemoveElement deletes a node from the cache based on a key value.
func (lru *LRUCache) RemoveElement(key Key) error {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	node, ok := lru.m[key.Data()]
	if !ok {
		return ErrElementDoesntExist
	}
	lru.dll.DeleteNode(node)
	delete(lru.m, key.Data())
	return nil
}

// Resize changes the capacity, evicting least recently used
// elements that no longer fit.
func (lru *LRUCache) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	lru.mu.Lock()
	defer lru.mu.Unlock()
	lru.capacity = capacity
	for lru.dll.Len() > lru.capacity {
		tail := lru.dll.Tail
		lru.dll.DeleteNode(tail)
		delete(lru.m, tail.NodeKey.Data())
	}
}

// Capacity returns the max capacity of the cache.
func (lru *LRUCache) Capacity() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.capacity
}

// Size returns the number of elements in the cache.
func (lru *LRUCache) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.dll.Len()
}

// Full returns true if the cache is full, else returns false.
func (lru *LRUCache) Full() bool {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.dll.Len() == lru.capacity
}
