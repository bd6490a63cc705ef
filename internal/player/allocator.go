package player

import "sync/atomic"

// EntityIDAllocator hands out process-unique entity ids starting at 1.
// Ids are never reused, even after a player leaves.
type EntityIDAllocator struct {
	last atomic.Int32
}

// NewEntityIDAllocator creates an allocator whose first id is 1.
func NewEntityIDAllocator() *EntityIDAllocator {
	return &EntityIDAllocator{}
}

// Next returns the next id. Safe for concurrent use.
func (a *EntityIDAllocator) Next() int32 {
	return a.last.Add(1)
}

// Last returns the most recently allocated id, or 0 if none was handed out.
func (a *EntityIDAllocator) Last() int32 {
	return a.last.Load()
}
