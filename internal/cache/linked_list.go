package cache

// Key describes a single key in the Linked List.
type Key interface {
	Data() uint64
}

// Node describes a single node in the Linked List.
type Node interface {
	Left() Node
	Right() Node
	Key() Key
	Value() string
}

// LinkedList describes a linked list object.
type LinkedList interface {
	// CreateNode creates a node with default values in it.
	CreateNode() Node
	// InsertNodeToLeft inserts a node to the left of the given node,
	// with the key and value provided. It returns the node inserted
	// into the linked list.
	InsertNodeToLeft(node Node, key Key, value string) Node
	// InsertNodeToRight inserts a node to the right of the given node,
	// with the key and value provided. It returns the node inserted
	// into the linked list.
	InsertNodeToRight(node Node, key Key, value string) Node
	// DeleteNode deletes the node provided as the argument from the
	// linked list.
	DeleteNode(Node)
	// Len returns the number of nodes in the list.
	Len() int
}

// Cache describes a bounded key value store.
type Cache interface {
	// GetElement returns the value stored for the key and marks
	// the key as most recently used.
	GetElement(Key) (string, error)
	// PutElement stores the value for the key, evicting the least
	// recently used element if the cache is full.
	PutElement(Key, string) error
	// RemoveElement removes the key from the cache.
	RemoveElement(Key) error
	// Capacity returns the maximum number of elements.
	Capacity() int
	// Size returns the current number of elements.
	Size() int
	// Full returns true if Size equals Capacity.
	Full() bool
}
