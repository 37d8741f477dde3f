package util

import "sync/atomic"

// Counter is an int64 counter that is safe to use concurrently.
type Counter struct {
	value atomic.Int64
}

// Increment increments the counter and returns the new value.
func (c *Counter) Increment() int64 {
	return c.value.Add(1)
}

// Value returns the current value of the counter.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Reset sets the counter back to zero and returns the previous value.
func (c *Counter) Reset() int64 {
	return c.value.Swap(0)
}

// Flag is a boolean that is safe to use concurrently.
type Flag struct {
	value atomic.Bool
}

// TrySet sets the flag and reports whether it was previously clear.
// It is used as a non-blocking "only one at a time" guard.
func (f *Flag) TrySet() bool {
	return f.value.CompareAndSwap(false, true)
}

// Clear clears the flag.
func (f *Flag) Clear() {
	f.value.Store(false)
}

// Value reports whether the flag is set.
func (f *Flag) Value() bool {
	return f.value.Load()
}
