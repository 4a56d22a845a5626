// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

var waitFDSlicePool = make(chan []WaitFD, 64)

// acquireWaitFDSlice returns a zero-length scratch slice for Coroutine.Wait
// to copy its caller-supplied fd list into (§4.4: "Publishes wait_fds (a
// copy, possibly augmented with a timer fd...")). Backed by a bounded
// channel rather than sync.Pool: wait_fds slices are held for the lifetime
// of a single Wait call, which is typically much longer than one scheduler
// tick, so the GC-aware eviction sync.Pool performs would rarely help.
func acquireWaitFDSlice() []WaitFD {
	select {
	case s := <-waitFDSlicePool:
		return s[:0]
	default:
		return make([]WaitFD, 0, 4)
	}
}

// releaseWaitFDSlice returns a wait_fds scratch slice for reuse once a Wait
// call has consumed it and cleared the coroutine's wait_fds field.
func releaseWaitFDSlice(s []WaitFD) {
	select {
	case waitFDSlicePool <- s[:0]:
	default:
	}
}
