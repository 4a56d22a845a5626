// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MachineOption configures a Machine at construction, functional-options
// style (see also Option for Coroutine).
type MachineOption func(*Machine)

// WithLogger overrides the logger used for non-fatal scheduler diagnostics
// (a coroutine terminated by a panic, a timer setup failure, a failed event
// fd trigger). Defaults to log.Default() (§11).
func WithLogger(l *log.Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

// WithPollTimeout caps how long a tick's poll may block when no coroutine is
// Ready. Without this option the poll blocks indefinitely (until a fd, a
// timer, or Stop's interrupt fd wakes it), which is the default per §4.5.
// A capped poll makes runTick return periodically even when nothing has
// happened, which a host embedding the scheduler can use to interleave its
// own periodic work with GetPollState/ProcessPoll (§4.6, §11).
func WithPollTimeout(ms int) MachineOption {
	return func(m *Machine) { m.pollTimeoutMs = ms }
}

// Machine is the scheduler (§3, §4.5): it owns the set of live coroutines,
// the id allocator, a monotonic tick count, an interrupt fd used to wake an
// in-flight poll from Stop, a reusable pollset, and the completion callback.
type Machine struct {
	coroutines map[int]*Coroutine
	ids        *idAllocator
	tick       uint64

	interruptFD   *eventFD
	stop          atomic.Bool
	pollTimeoutMs int

	onComplete func(*Coroutine)
	logger     *log.Logger

	pool PollState
}

// NewMachine constructs a Machine ready to accept coroutines.
func NewMachine(opts ...MachineOption) (*Machine, error) {
	ifd, err := newEventFD()
	if err != nil {
		return nil, err
	}
	m := &Machine{
		coroutines:    make(map[int]*Coroutine),
		ids:           newIDAllocator(),
		interruptFD:   ifd,
		logger:        log.Default(),
		pollTimeoutMs: -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Machine) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// AddCoroutine registers c with the scheduler, allocating its id (§4.5).
func (m *Machine) AddCoroutine(c *Coroutine) error {
	id, err := m.ids.allocate()
	if err != nil {
		return err
	}
	c.id = id
	c.machine = m
	m.coroutines[id] = c
	return nil
}

// RemoveCoroutine deregisters c and frees its id (§4.5).
func (m *Machine) RemoveCoroutine(c *Coroutine) {
	if _, ok := m.coroutines[c.id]; !ok {
		return
	}
	delete(m.coroutines, c.id)
	m.ids.free(c.id)
}

// StartCoroutine places c into the Ready pool for the next selection
// (§4.5). c must be in state New.
func (m *Machine) StartCoroutine(c *Coroutine) {
	c.Start()
}

// SetCompletionCallback installs cb, invoked exactly once per coroutine that
// enters Ready, immediately after its body returns or Exit is called, before
// its id is freed (§4.5). cb may itself remove/add coroutines.
func (m *Machine) SetCompletionCallback(cb func(*Coroutine)) {
	m.onComplete = cb
}

// Stop requests that Run return at the next opportunity: it sets the stop
// flag and writes to the interrupt fd so an in-flight poll wakes promptly.
// Running coroutines are not force-terminated (§4.5). Stop is typically
// called from a goroutine other than the one driving Run, so the flag is an
// atomic.Bool rather than a plain bool: the interrupt fd's own trigger only
// synchronizes the fd's readability, not this field.
func (m *Machine) Stop() {
	m.stop.Store(true)
	if err := m.interruptFD.trigger(); err != nil {
		m.logf("Stop: trigger interrupt fd: %v", err)
	}
}

func (m *Machine) registered(id int) bool {
	_, ok := m.coroutines[id]
	return ok
}

// sortedIDs returns the ids of all registered coroutines in ascending
// order, giving deterministic tie-breaking for selection (§4.5.1).
func (m *Machine) sortedIDs() []int {
	ids := make([]int, 0, len(m.coroutines))
	for id := range m.coroutines {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// buildPollFds performs step 2 of the tick algorithm: always include
// interrupt_fd; for each Yielded or Waiting coroutine append its event_fd;
// for each Waiting coroutine additionally append its wait_fds (§4.5).
func (m *Machine) buildPollFds(ps *PollState) {
	ps.reset()
	ps.append(unix.PollFd{Fd: int32(m.interruptFD.fd), Events: unix.POLLIN}, nil, kindInterrupt)

	for _, id := range m.sortedIDs() {
		c := m.coroutines[id]
		switch c.state {
		case StateYielded:
			ps.append(c.eventFD.arm(), c, kindEvent)
		case StateWaiting:
			ps.append(c.eventFD.arm(), c, kindEvent)
			for _, w := range c.waitFDs {
				ps.append(unix.PollFd{Fd: w.FD, Events: w.Events}, c, kindWait)
			}
		}
	}
}

// anyReady reports whether at least one coroutine is in state Ready, which
// per step 3 makes this tick's poll non-blocking.
func (m *Machine) anyReady() bool {
	for _, c := range m.coroutines {
		if c.state == StateReady {
			return true
		}
	}
	return false
}

// anyActive reports whether any coroutine is Ready, Waiting, or Yielded:
// Run's termination condition when Stop is never called (§4.5).
func (m *Machine) anyActive() bool {
	for _, c := range m.coroutines {
		switch c.state {
		case StateReady, StateWaiting, StateYielded:
			return true
		}
	}
	return false
}

// chosen is the ChosenCoroutine record of §3: the coroutine to resume next
// and the fd that caused the wake, or -1 for "timer/no wait_fds fired".
type chosen struct {
	coroutine *Coroutine
	fd        int32
}

// chooseRunnable implements §4.5.1: among Ready coroutines, coroutines whose
// event fd fired, and Waiting coroutines with a fired wait_fds entry, pick
// the one with the smallest last_tick, breaking ties by smallest id.
func (m *Machine) chooseRunnable(ps *PollState) (chosen, bool) {
	fired := map[int]bool{} // coroutine id -> event fd observed readable
	waitHit := map[int]int32{}
	for i, owner := range ps.Owners {
		if owner == nil {
			continue
		}
		pfd := ps.Fds[i]
		if pfd.Revents == 0 {
			continue
		}
		switch ps.kinds[i] {
		case kindEvent:
			fired[owner.id] = true
		case kindWait:
			if _, already := waitHit[owner.id]; already {
				continue
			}
			for _, w := range owner.waitFDs {
				if w.FD == pfd.Fd && w.Events == pfd.Events {
					w.Revents = pfd.Revents
					if w.matches() {
						if w.Timer {
							waitHit[owner.id] = -1
						} else {
							waitHit[owner.id] = w.FD
						}
					}
					break
				}
			}
		}
	}

	var best chosen
	haveBest := false
	consider := func(c *Coroutine, fd int32) {
		if !haveBest || c.lastTick < best.coroutine.lastTick ||
			(c.lastTick == best.coroutine.lastTick && c.id < best.coroutine.id) {
			best = chosen{coroutine: c, fd: fd}
			haveBest = true
		}
	}

	for _, id := range m.sortedIDs() {
		c := m.coroutines[id]
		switch c.state {
		case StateReady:
			consider(c, -1)
		case StateYielded:
			if fired[c.id] {
				consider(c, -1)
			}
		case StateWaiting:
			if fd, ok := waitHit[c.id]; ok {
				consider(c, fd)
			} else if fired[c.id] {
				// External cancellation of the wait (§5): the event fd
				// woke the coroutine directly, no wait_fds fired.
				consider(c, -1)
			}
		}
	}
	return best, haveBest
}

// resume performs steps 5-6 of the tick algorithm: switch to the chosen
// coroutine, then handle its suspension or termination.
func (m *Machine) resume(ch chosen) {
	c := ch.coroutine
	c.lastTick = m.tick
	c.resumeFD = ch.fd
	dead := c.frame.switchTo()
	if dead {
		if c.caller != nil {
			// c died without ever reaching YieldValue on this resume (either
			// its body just returned, or it hit Exit): wake the suspended
			// caller so its Call can observe the death instead of hanging
			// (§7 InvalidState, §9 "producer has returned").
			if err := c.caller.eventFD.trigger(); err != nil {
				m.logf("resume: trigger caller of dead %s: %v", c.Name(), err)
			}
		}
		if m.onComplete != nil {
			m.onComplete(c)
		}
		m.RemoveCoroutine(c)
		c.eventFD.close()
	}
}

// runTick executes one iteration of the Run loop (§4.5 steps 1-7), used by
// both Run and ProcessPoll.
func (m *Machine) runTick(ps *PollState) error {
	m.tick++
	m.buildPollFds(ps)

	timeout := m.pollTimeoutMs
	if m.anyReady() {
		timeout = 0
	}
	if _, err := unix.Poll(ps.Fds, timeout); err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrPollFailed, err)
	}

	if ps.Fds[0].Revents != 0 {
		m.interruptFD.clear()
	}
	if m.stop.Load() {
		return errStop
	}

	if ch, ok := m.chooseRunnable(ps); ok {
		m.resume(ch)
	}
	return nil
}

var errStop = fmt.Errorf("co: stop requested")

// RunOneTick drives exactly one iteration of the Run loop (§4.5 steps 1-7)
// using the Machine's own persistent pollset. Exported so a caller that
// needs to observe an in-flight interaction (rather than draining to full
// quiescence with Run) can step the scheduler deterministically.
func (m *Machine) RunOneTick() error {
	err := m.runTick(&m.pool)
	if err == errStop {
		return nil
	}
	return err
}

// Run drives the main loop until Stop is called or no coroutine is Ready,
// Waiting, or Yielded (§4.5).
func (m *Machine) Run() error {
	for {
		if !m.anyActive() {
			return nil
		}
		if err := m.runTick(&m.pool); err != nil {
			if err == errStop {
				return nil
			}
			return err
		}
		if m.stop.Load() {
			return nil
		}
	}
}

// GetPollState fills out with the exact pollset this tick's Run loop would
// build, for a host loop that wants to integrate its own poll (§4.6).
func (m *Machine) GetPollState(out *PollState) {
	m.tick++
	m.buildPollFds(out)
}

// ProcessPoll consumes a caller-updated PollState (after the caller's own
// poll) and performs steps 4-6 of the Run loop exactly once (§4.6).
func (m *Machine) ProcessPoll(in *PollState) {
	if in.Fds[0].Revents != 0 {
		m.interruptFD.clear()
	}
	if ch, ok := m.chooseRunnable(in); ok {
		m.resume(ch)
	}
}

// Show writes one debug line per registered coroutine to w (§13, restoring
// the original header's void Show()).
func (m *Machine) Show(w io.Writer) {
	for _, id := range m.sortedIDs() {
		fmt.Fprintln(w, m.coroutines[id].String())
	}
}
