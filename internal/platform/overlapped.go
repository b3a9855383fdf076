package platform

import "sync/atomic"

// Overlapped is the completion handle of one asynchronous SDK call. The SDK
// writes the call's out buffers and then completes the handle, so a caller
// that observes IsComplete may read those buffers.
type Overlapped struct {
	done   atomic.Bool
	result atomic.Uint32
}

// Complete stores the completion code and marks the handle done.
func (o *Overlapped) Complete(r Result) {
	o.result.Store(uint32(r))
	o.done.Store(true)
}

// IsComplete polls the handle.
func (o *Overlapped) IsComplete() bool {
	return o.done.Load()
}

// Result returns the completion code, or IOPending while in flight.
func (o *Overlapped) Result() Result {
	if !o.done.Load() {
		return IOPending
	}
	return Result(o.result.Load())
}

// Reset zeroes the handle so it can be reused for a follow-up call.
func (o *Overlapped) Reset() {
	o.done.Store(false)
	o.result.Store(0)
}
