// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

import (
	"golang.org/x/sys/unix"
)

// eventFD is the per-coroutine one-shot wake primitive of §4.3, backed by a
// real Linux eventfd(2) counter. It is present in the scheduler's pollset for
// every coroutine that is Yielded or Waiting, and is how Call, YieldValue,
// and external cancellation resume a suspended coroutine.
type eventFD struct {
	fd    int
	guard onceGuard
}

// newEventFD creates a non-blocking eventfd. Non-blocking is required so
// clear can be called unconditionally without risking a block when the
// counter is already zero.
func newEventFD() (*eventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &eventFD{fd: fd}, nil
}

// trigger marks the fd readable; idempotent between clears (§4.3). The
// onceGuard makes this explicit rather than relying only on the kernel
// counter: a second trigger before the next clear is a no-op, skipping the
// write syscall entirely.
func (e *eventFD) trigger() error {
	if !e.guard.enter() {
		return nil
	}
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(e.fd, buf[:])
	return err
}

// clear returns the fd to its unreadable state and re-arms the guard so the
// next trigger takes effect. Safe to call when the fd is already unreadable:
// EAGAIN on a non-blocking read just means there was nothing to clear.
func (e *eventFD) clear() error {
	e.guard.reset()
	var buf [8]byte
	_, err := unix.Read(e.fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// arm reports the pollfd entry that puts this eventFD in the scheduler's
// pollset. Unlike a self-pipe, a Linux eventfd is already poll-readable
// exactly between a trigger and the next clear, so arming needs no separate
// syscall; it only needs to describe the entry to poll on.
func (e *eventFD) arm() unix.PollFd {
	return unix.PollFd{Fd: int32(e.fd), Events: unix.POLLIN}
}

func (e *eventFD) close() error {
	return unix.Close(e.fd)
}
