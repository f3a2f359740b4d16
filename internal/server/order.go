package server

import "sync/atomic"

// Order hands out task ids. One Order is shared by every connection.
type Order struct {
	next atomic.Int64
}

// NewOrder returns an allocator whose first id is maxExisting+1.
func NewOrder(maxExisting int64) *Order {
	o := &Order{}
	o.next.Store(maxExisting + 1)
	return o
}

// Next returns a fresh id. It is never reset.
func (o *Order) Next() int64 {
	return o.next.Add(1) - 1
}

// Peek returns the id the next call to Next will return.
func (o *Order) Peek() int64 {
	return o.next.Load()
}

// Observe raises the allocator past id so Next never returns an id that
// is already in use.
func (o *Order) Observe(id int64) {
	for {
		cur := o.next.Load()
		if id < cur {
			return
		}
		if o.next.CompareAndSwap(cur, id+1) {
			return
		}
	}
}
