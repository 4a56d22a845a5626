// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

// The Context Switcher (§4.2). The source captures/restores raw execution
// contexts with setjmp/longjmp into manually allocated stacks; Go exposes no
// portable, safe equivalent. The idiomatic rendering used here — and by the
// coroutine-on-goroutines ports elsewhere in this ecosystem — is one
// goroutine per coroutine ("the stack") paired with a two-channel rendezvous
// that plays the role of save_and_jump: exactly one side of the pair runs at
// a time, and each channel operation is consumed exactly once, which is the
// single-shot continuation contract §4.2 requires.
//
// frame.enter is enter_on_stack; frame.suspend (called from inside the
// running body) and frame.switchTo (called from the resuming side) together
// are save_and_jump.
type frame struct {
	resume chan struct{}
	yield  chan struct{}
	dead   bool
}

func newFrame() *frame {
	return &frame{
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
	}
}

// enter starts fn on a new goroutine and returns immediately; fn does not
// run until the first switchTo. When fn returns, the frame is marked dead
// and performs one final, implicit yield so the last switchTo observes
// completion rather than blocking forever.
func (f *frame) enter(fn func()) {
	go func() {
		<-f.resume
		fn()
		f.dead = true
		f.yield <- struct{}{}
	}()
}

// suspend gives control back to the resuming side and blocks until this
// frame is switchTo'd again. Must only be called from inside the goroutine
// started by enter. The unbuffered channel pair itself carries the
// single-shot guarantee: a suspend cannot return until a matching switchTo
// sends on resume, and switchTo cannot return until the matching suspend (or
// the frame's completion) sends on yield.
func (f *frame) suspend() {
	f.yield <- struct{}{}
	<-f.resume
}

// switchTo resumes the frame and blocks until it suspends again or its
// body finishes. Reports whether the frame is now dead.
func (f *frame) switchTo() (dead bool) {
	f.resume <- struct{}{}
	<-f.yield
	return f.dead
}
