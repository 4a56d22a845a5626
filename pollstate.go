// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

import (
	"time"

	"golang.org/x/sys/unix"
)

// WaitFD is one (fd, requested-event-mask) pair a coroutine publishes when it
// suspends in Wait (§3 wait_fds, §4.4). Revents holds an observed mask only
// on the scheduler's own temporary copy of an entry while it checks a poll
// result; it is not written back to the coroutine's wait_fds or to the
// caller's slice. Timer marks the synthetic timer fd Wait appends for a
// timeout (or for an empty fd list): it is
// never a caller-supplied fd, so selection (§4.5.1) treats a Timer entry
// firing alone as "only the timer fired" rather than as a real readiness hit.
type WaitFD struct {
	FD      int32
	Events  int16
	Revents int16
	Timer   bool
}

// matches reports whether Revents intersects the requested Events, mirroring
// poll(2)'s "any requested bit observed" readiness rule.
func (w WaitFD) matches() bool {
	return w.Revents&w.Events != 0
}

type fdKind uint8

const (
	kindInterrupt fdKind = iota
	kindEvent
	kindWait
)

// PollState is the embedded-poll API's fused pollset (§4.6): the exact
// pollfd vector the Run loop would submit this tick, paired with the
// owning-coroutine vector index-for-index. A nil Owners entry marks the
// scheduler's own interrupt fd. kinds is scheduler-private bookkeeping that
// lets ProcessPoll classify each entry without re-deriving it; it travels
// with the struct across a caller's own poll(2) call because GetPollState
// and ProcessPoll always operate on the same *PollState value.
type PollState struct {
	Fds    []unix.PollFd
	Owners []*Coroutine

	kinds []fdKind
}

func (p *PollState) reset() {
	if p.Fds != nil {
		p.Fds = p.Fds[:0]
	}
	if p.Owners != nil {
		p.Owners = p.Owners[:0]
	}
	if p.kinds != nil {
		p.kinds = p.kinds[:0]
	}
}

func (p *PollState) append(pfd unix.PollFd, owner *Coroutine, kind fdKind) {
	p.Fds = append(p.Fds, pfd)
	p.Owners = append(p.Owners, owner)
	p.kinds = append(p.kinds, kind)
}

// newTimerFD creates a one-shot Linux timerfd that fires once after ns
// nanoseconds, per §6 "any mechanism that yields a readable fd after N
// nanoseconds". CLOCK_MONOTONIC per §12, immune to wall-clock adjustment.
func newTimerFD(ns int64) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, err
	}
	d := time.Duration(ns)
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if spec.Value.Sec == 0 && spec.Value.Nsec == 0 {
		// A zero it_value disarms a timerfd instead of firing it
		// immediately; round up to 1ns so a zero-duration wait still fires
		// promptly (Wait arms this fd with ns<=0 for an empty fd list).
		spec.Value.Nsec = 1
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func closeTimerFD(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
