package librtm

import "sync/atomic"

// IdentifierAllocator hands out message ids for outbound frames that expect a
// reply: 1, 2, 3... for the lifetime of a client. Ids are never reused, not
// even across reconnects.
type IdentifierAllocator struct {
	last atomic.Int64
}

// Next returns the next id. Safe for concurrent use.
func (a *IdentifierAllocator) Next() int64 {
	return a.last.Add(1)
}

// Last returns the most recently allocated id, 0 if none has been allocated yet.
func (a *IdentifierAllocator) Last() int64 {
	return a.last.Load()
}
