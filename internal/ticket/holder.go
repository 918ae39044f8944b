// Package ticket implements the admission gate that bounds the number of
// operations holding the Global lock at the same time.
package ticket

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// maxTickets bounds the size a Holder can be resized to.
const maxTickets = 1 << 20

// Error provides constant error strings to the driver functions.
type Error string

func (e Error) Error() string { return string(e) }

// Constant errors.
// Rule of thumb, all errors start with a small letter and end with no full stop.
const (
	ErrInvalidSize = Error("ticket count out of range")
)

// Holder is a counting semaphore of tickets that can be resized while in
// use. Tickets beyond the current size are held by the Holder itself.
type Holder struct {
	sem  *semaphore.Weighted
	used atomic.Int64

	// resizeMu serializes resizes; outof only changes under it.
	resizeMu sync.Mutex
	outof    atomic.Int64
}

// NewHolder returns a Holder with n tickets.
func NewHolder(n int) (*Holder, error) {
	if n < 0 || n > maxTickets {
		return nil, ErrInvalidSize
	}
	h := &Holder{
		sem: semaphore.NewWeighted(maxTickets),
	}
	// Reserve the tickets beyond n.
	if reserved := int64(maxTickets - n); reserved > 0 && !h.sem.TryAcquire(reserved) {
		return nil, ErrInvalidSize
	}
	h.outof.Store(int64(n))
	return h, nil
}

// WaitForTicket blocks until a ticket is available or ctx is done.
func (h *Holder) WaitForTicket(ctx context.Context) bool {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	h.used.Add(1)
	return true
}

// TryAcquire takes a ticket if one is available right away.
func (h *Holder) TryAcquire() bool {
	if !h.sem.TryAcquire(1) {
		return false
	}
	h.used.Add(1)
	return true
}

// Release returns a ticket.
func (h *Holder) Release() {
	h.used.Add(-1)
	h.sem.Release(1)
}

// Resize changes the number of tickets. Shrinking waits until enough
// tickets are returned or ctx is done.
func (h *Holder) Resize(ctx context.Context, n int) error {
	if n < 0 || n > maxTickets {
		return ErrInvalidSize
	}
	h.resizeMu.Lock()
	defer h.resizeMu.Unlock()

	outof := h.outof.Load()
	switch delta := int64(n) - outof; {
	case delta > 0:
		h.sem.Release(delta)
	case delta < 0:
		if err := h.sem.Acquire(ctx, -delta); err != nil {
			return err
		}
	}
	h.outof.Store(int64(n))
	return nil
}

// Used returns the number of tickets handed out.
func (h *Holder) Used() int {
	return int(h.used.Load())
}

// Available returns the number of tickets that can be handed out.
func (h *Holder) Available() int {
	return int(h.outof.Load() - h.used.Load())
}

// OutOf returns the number of tickets.
func (h *Holder) OutOf() int {
	return int(h.outof.Load())
}
