package cache

// Assert that SimpleKey implements Key.
var _ Key = SimpleKey(0)

// SimpleKey implements a Key interface.
type SimpleKey uint64

// Data returns the value of the key.
func (sk SimpleKey) Data() uint64 {
	return uint64(sk)
}

// NewSimpleKey returns a new SimpleKey of the given value.
func NewSimpleKey(val uint64) SimpleKey {
	return SimpleKey(val)
}

// Assert that *DLLNode implements Node.
var _ Node = (*DLLNode)(nil)

// DLLNode is the single entity of the doubly linked list.
type DLLNode struct {
	LeftNode  *DLLNode
	RightNode *DLLNode
	NodeKey   SimpleKey
	NodeValue string
}

// Left returns the node to the left of the current node.
func (dllNode *DLLNode) Left() Node {
	if dllNode.LeftNode == nil {
		return nil
	}
	return dllNode.LeftNode
}

// Right returns the node to the right of the current node.
func (dllNode *DLLNode) Right() Node {
	if dllNode.RightNode == nil {
		return nil
	}
	return dllNode.RightNode
}

// Key returns the key of the node.
func (dllNode *DLLNode) Key() Key {
	return dllNode.NodeKey
}

// Value returns the value held by the node.
func (dllNode *DLLNode) Value() string {
	return dllNode.NodeValue
}

// Assert that *DoublyLinkedList implements LinkedList.
var _ LinkedList = (*DoublyLinkedList)(nil)

// DoublyLinkedList implements LinkedList.
//
// All nodes have a left and a right link except the head and the tail node.
type DoublyLinkedList struct {
	Head *DLLNode
	Tail *DLLNode
	len  int
}

// NewDoublyLinkedList returns a new instance of an empty DoublyLinkedList.
func NewDoublyLinkedList() *DoublyLinkedList {
	return &DoublyLinkedList{}
}

// CreateNode creates an empty node of the DLL with default values.
func (dll *DoublyLinkedList) CreateNode() Node {
	return &DLLNode{}
}

// InsertNodeToLeft inserts a node with given key and value to the left of the
// given node. A nil node inserts into an empty list.
func (dll *DoublyLinkedList) InsertNodeToLeft(node Node, key Key, value string) Node {
	newNode := dll.newNode(key, value)
	target := asDLLNode(node)
	if target == nil {
		// The list was empty, this node is both ends.
		dll.Head = newNode
		dll.Tail = newNode
		return newNode
	}

	leftNode := target.LeftNode
	newNode.LeftNode = leftNode
	newNode.RightNode = target
	target.LeftNode = newNode
	if leftNode != nil {
		leftNode.RightNode = newNode
	}
	if target == dll.Head {
		dll.Head = newNode
	}
	return newNode
}

// InsertNodeToRight inserts a node with the given key and value to the right
// of the given node. A nil node inserts into an empty list.
func (dll *DoublyLinkedList) InsertNodeToRight(node Node, key Key, value string) Node {
	newNode := dll.newNode(key, value)
	target := asDLLNode(node)
	if target == nil {
		dll.Head = newNode
		dll.Tail = newNode
		return newNode
	}

	rightNode := target.RightNode
	newNode.RightNode = rightNode
	newNode.LeftNode = target
	target.RightNode = newNode
	if rightNode != nil {
		rightNode.LeftNode = newNode
	}
	if target == dll.Tail {
		dll.Tail = newNode
	}
	return newNode
}

// DeleteNode deletes the provided node.
func (dll *DoublyLinkedList) DeleteNode(node Node) {
	target := asDLLNode(node)
	if target == nil {
		return
	}
	leftNode := target.LeftNode
	rightNode := target.RightNode

	if leftNode != nil {
		leftNode.RightNode = rightNode
	} else {
		dll.Head = rightNode
	}
	if rightNode != nil {
		rightNode.LeftNode = leftNode
	} else {
		dll.Tail = leftNode
	}
	target.LeftNode = nil
	target.RightNode = nil
	dll.len--
}

// Len returns the number of nodes in the list.
func (dll *DoublyLinkedList) Len() int {
	return dll.len
}

func (dll *DoublyLinkedList) newNode(key Key, value string) *DLLNode {
	dll.len++
	return &DLLNode{
		NodeKey:   SimpleKey(key.Data()),
		NodeValue: value,
	}
}

func asDLLNode(node Node) *DLLNode {
	if node == nil {
		return nil
	}
	n, _ := node.(*DLLNode)
	return n
}
