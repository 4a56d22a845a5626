// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

// Call invokes callee from self, binding callee's caller/result_slot to self
// and a local T (§4.4). If callee is New it is started; otherwise its event
// fd is triggered to resume it. self suspends (Running -> Yielded) until
// callee produces a value via YieldValue, then returns it.
//
// Methods cannot carry type parameters in Go, so Call and YieldValue are
// free functions taking the acting coroutine explicitly, mirroring the
// pack's top-level generic combinators rather than a generic method set.
func Call[T any](self, callee *Coroutine) T {
	self.mustBeRunning("Call")

	if callee.caller != nil {
		panic(&CallError{Caller: self, Callee: callee})
	}
	if callee.state == StateDead {
		panic(&StateError{Coroutine: callee, Op: "Call", State: callee.state})
	}

	var result T
	callee.caller = self
	callee.resultSlot = &result

	if callee.state == StateNew {
		self.machine.StartCoroutine(callee)
	} else {
		if err := callee.eventFD.trigger(); err != nil {
			self.machine.logf("Call: trigger %s: %v", callee.Name(), err)
		}
	}

	self.state = StateYielded
	self.frame.suspend()
	self.eventFD.clear()
	self.state = StateRunning

	diedWithoutYielding := callee.state == StateDead
	callee.caller = nil
	callee.resultSlot = nil
	if diedWithoutYielding {
		panic(&StateError{Coroutine: callee, Op: "Call", State: StateDead})
	}
	return result
}

// YieldValue copies v into the bound caller's result slot, triggers the
// caller's event fd, and suspends self (Running -> Yielded) until the next
// Call resumes it (§4.4). Legal only in Running with a bound caller; per the
// Open Question in §9 this module chooses InvalidState for a bare
// YieldValue rather than silently discarding v.
func YieldValue[T any](self *Coroutine, v T) {
	self.mustBeRunning("YieldValue")
	if self.caller == nil {
		panic(&StateError{Coroutine: self, Op: "YieldValue", State: self.state})
	}

	slot, ok := self.resultSlot.(*T)
	if !ok {
		panic(&StateError{Coroutine: self, Op: "YieldValue: result slot type mismatch", State: self.state})
	}
	*slot = v

	if err := self.caller.eventFD.trigger(); err != nil {
		self.machine.logf("YieldValue: trigger %s: %v", self.caller.Name(), err)
	}

	self.state = StateYielded
	self.frame.suspend()
	self.eventFD.clear()
	self.state = StateRunning
}
