// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Option configures a Coroutine at construction time, in the functional-
// options style used throughout this module (see also MachineOption).
type Option func(*Coroutine)

// WithName sets the coroutine's debug-only, mutable name (§3).
func WithName(name string) Option {
	return func(c *Coroutine) { c.name = name }
}

// WithStackSize records the coroutine's configured stack size for Show/debug
// output. It has no effect on the underlying goroutine's stack, which the Go
// runtime grows on demand; see DESIGN.md for why this field survives the
// port unused by the scheduling logic itself.
func WithStackSize(bytes int) Option {
	return func(c *Coroutine) { c.stackSize = bytes }
}

// WithAutostart performs Start during construction (§4.4).
func WithAutostart(autostart bool) Option {
	return func(c *Coroutine) { c.autostart = autostart }
}

// WithUserData sets the opaque, runtime-untouched user_data pointer (§3).
func WithUserData(v any) Option {
	return func(c *Coroutine) { c.userData = v }
}

const defaultStackSize = 32 * 1024

// coroutineExit is panicked by Exit and recovered silently by run: it is not
// a body error, just the mechanism the Go rendering uses in place of the
// source's longjmp to exit_ctx (§10).
type coroutineExit struct{}

// Coroutine is a user-space execution context with its own goroutine,
// suspending only at Yield, Wait, Nanosleep/Millisleep/Sleep, Call,
// YieldValue, Exit, or by returning from its body (§3, §4.4).
type Coroutine struct {
	id        int
	name      string
	state     State
	stackSize int
	autostart bool
	userData  any

	machine *Machine
	frame   *frame
	eventFD *eventFD
	functor func(*Coroutine)

	waitFDs  []WaitFD
	timerFD  int
	resumeFD int32

	caller     *Coroutine
	resultSlot any

	lastTick uint64
}

// NewCoroutine constructs a coroutine bound to m, running fn on first
// resume, and registers it with m (allocating its id). If WithAutostart(true)
// is supplied, Start is performed before NewCoroutine returns.
func NewCoroutine(m *Machine, fn func(*Coroutine), opts ...Option) (*Coroutine, error) {
	c := &Coroutine{
		state:     StateNew,
		stackSize: defaultStackSize,
		timerFD:   -1,
		functor:   fn,
	}
	for _, opt := range opts {
		opt(c)
	}
	ef, err := newEventFD()
	if err != nil {
		return nil, err
	}
	c.eventFD = ef
	c.frame = newFrame()
	c.frame.enter(c.run)

	if err := m.AddCoroutine(c); err != nil {
		ef.close()
		return nil, err
	}
	if c.autostart {
		c.Start()
	}
	return c, nil
}

// run is the frame body: it executes functor with a recover boundary that
// turns a fatal error (StateError, CallError, or any other panic value from
// the body) into a terminated-with-error coroutine rather than a crashed
// process, mirroring the isolate-one-worker's-failure pattern elsewhere in
// the pack (§10).
func (c *Coroutine) run() {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case coroutineExit:
				// Exit already set state = Dead; nothing further to do.
			case error:
				c.machine.logf("coroutine %s terminated: %v", c.name, v)
			default:
				c.machine.logf("coroutine %s panicked: %v", c.name, v)
			}
		}
		c.state = StateDead
	}()
	c.state = StateRunning
	c.functor(c)
}

func (c *Coroutine) mustBeRunning(op string) {
	if c.state != StateRunning {
		panic(&StateError{Coroutine: c, Op: op, State: c.state})
	}
}

// Start transitions New -> Ready (§4.4). Legal only in state New.
func (c *Coroutine) Start() {
	if c.state != StateNew {
		panic(&StateError{Coroutine: c, Op: "Start", State: c.state})
	}
	c.state = StateReady
}

// Yield transitions Running -> Yielded and switches back to the scheduler.
// Yield triggers its own event fd before suspending: a plain Yield asks only
// to give other Ready/runnable work a turn, not to wait on an external
// waker, so it becomes selectable again as soon as the next tick observes
// its event fd readable (§4.4 state diagram, Yielded --event-fd ready--> Ready).
func (c *Coroutine) Yield() {
	c.mustBeRunning("Yield")
	c.state = StateYielded
	if err := c.eventFD.trigger(); err != nil {
		c.machine.logf("Yield: trigger self %s: %v", c.name, err)
	}
	c.frame.suspend()
	c.eventFD.clear()
	c.state = StateRunning
}

// Wait publishes fds (copied, plus a timer fd if timeoutNs > 0) as wait_fds,
// transitions Running -> Waiting, and switches to the scheduler. It returns
// the fd that became ready, or -1 if the timeout fired or the wait was
// cancelled by an external trigger of the event fd (§4.4, §5 cancellation).
//
// An empty fds with timeoutNs <= 0 has nothing that could ever wake it, so a
// timer fd is armed unconditionally in that case too (rounded up to fire
// promptly): this is what makes Nanosleep(0) return promptly instead of
// blocking forever with an empty wait_fds and no pending trigger (§8).
//
// If a timer fd cannot be created, the wait is treated as an instant
// timeout: Wait returns -1 without suspending (§7 TimerSetupFailed).
func (c *Coroutine) Wait(fds []WaitFD, timeoutNs int64) int32 {
	c.mustBeRunning("Wait")

	scratch := acquireWaitFDSlice()
	scratch = append(scratch, fds...)

	timerFD := -1
	if timeoutNs > 0 || len(fds) == 0 {
		waitNs := timeoutNs
		if waitNs < 0 {
			waitNs = 0
		}
		fd, err := newTimerFD(waitNs)
		if err != nil {
			c.machine.logf("timer setup failed for %s: %v", c.name, err)
			releaseWaitFDSlice(scratch)
			return -1
		}
		timerFD = fd
		scratch = append(scratch, WaitFD{FD: int32(fd), Events: unix.POLLIN, Timer: true})
	}

	c.waitFDs = scratch
	c.timerFD = timerFD
	c.state = StateWaiting
	c.frame.suspend()

	c.eventFD.clear()
	c.state = StateRunning
	result := c.resumeFD

	c.waitFDs = nil
	releaseWaitFDSlice(scratch)
	if timerFD >= 0 {
		closeTimerFD(timerFD)
	}
	c.timerFD = -1
	c.resumeFD = 0
	return result
}

// Nanosleep is Wait on an empty fd list with the given timeout.
func (c *Coroutine) Nanosleep(ns int64) { c.Wait(nil, ns) }

// Millisleep is Nanosleep expressed in milliseconds.
func (c *Coroutine) Millisleep(ms int64) { c.Nanosleep(ms * int64(time.Millisecond)) }

// Sleep is Nanosleep expressed as a time.Duration.
func (c *Coroutine) Sleep(d time.Duration) { c.Nanosleep(d.Nanoseconds()) }

// Exit transitions the coroutine to Dead and unwinds its goroutine, as if
// its body had returned.
func (c *Coroutine) Exit() {
	c.mustBeRunning("Exit")
	c.state = StateDead
	panic(coroutineExit{})
}

// IsAlive reports whether the coroutine's id is still registered with its
// scheduler and its state is not Dead.
func (c *Coroutine) IsAlive() bool {
	return c.machine != nil && c.machine.registered(c.id) && c.state != StateDead
}

// ID returns the coroutine's scheduler-assigned id.
func (c *Coroutine) ID() int { return c.id }

// State returns the coroutine's current lifecycle state.
func (c *Coroutine) State() State { return c.state }

// Name returns the coroutine's debug-only label.
func (c *Coroutine) Name() string {
	if c.name == "" {
		return fmt.Sprintf("co#%d", c.id)
	}
	return c.name
}

// SetName replaces the coroutine's debug-only label.
func (c *Coroutine) SetName(name string) { c.name = name }

// UserData returns the opaque, runtime-untouched user pointer (§3).
func (c *Coroutine) UserData() any { return c.userData }

// SetUserData replaces the opaque user pointer.
func (c *Coroutine) SetUserData(v any) { c.userData = v }

// String renders one debug line for the coroutine, used by Machine.Show.
func (c *Coroutine) String() string {
	return fmt.Sprintf("co#%d %q state=%s last_tick=%d", c.id, c.Name(), c.state, c.lastTick)
}
