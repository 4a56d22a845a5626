// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

import "sync/atomic"

// onceGuard is an at-most-once claim: eventFD uses it so an armed event fd
// is triggered at most once before it is cleared (§4.3). Suspended frames
// do not use it; their channel pair carries the single-shot guarantee. The
// claim is an atomic counter increment, so exactly one concurrent enter
// observes the first claim.
//
// enter returns true the first time it is called since the last reset,
// and false on every subsequent call until reset is invoked again.
type onceGuard struct {
	used atomic.Uintptr
}

// enter claims the guard. Returns false if it was already claimed.
func (g *onceGuard) enter() bool {
	return g.used.Add(1) == 1
}

// reset releases the guard so it can be claimed again.
func (g *onceGuard) reset() {
	g.used.Store(0)
}
