package lockmanager

// requestList is an intrusive doubly linked list of requests. The links
// live in the requests themselves so that a request can be unlinked
// without searching.
type requestList struct {
	front *Request
	back  *Request
}

func (l *requestList) pushFront(r *Request) {
	invariant(r.prev == nil && r.next == nil, "request already linked")
	r.next = l.front
	if l.front != nil {
		l.front.prev = r
	} else {
		l.back = r
	}
	l.front = r
}

func (l *requestList) pushBack(r *Request) {
	invariant(r.prev == nil && r.next == nil, "request already linked")
	r.prev = l.back
	if l.back != nil {
		l.back.next = r
	} else {
		l.front = r
	}
	l.back = r
}

func (l *requestList) remove(r *Request) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		l.front = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		l.back = r.prev
	}
	r.prev = nil
	r.next = nil
}

func (l *requestList) empty() bool {
	return l.front == nil
}
