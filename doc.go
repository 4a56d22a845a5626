// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

// Package co provides a cooperative, single-threaded coroutine runtime.
//
// Coroutines are user-space execution contexts, each backed by its own
// goroutine, that voluntarily suspend at well-defined points: [Coroutine.Yield],
// [Coroutine.Wait] on one or more file descriptors (with an optional timeout),
// [Coroutine.Nanosleep] and its aliases, [Call] into another coroutine and
// await the value it produces, or a natural return from the coroutine's body.
// A [Machine] multiplexes every non-running coroutine's readiness with a
// single call to poll(2), so one OS thread can host many concurrent,
// I/O-bound coroutines without kernel threads.
//
// # Core pieces
//
//   - [Machine]: owns the set of live coroutines, drives the readiness loop,
//     and resumes exactly one coroutine per tick ([Machine.Run]).
//   - [Coroutine]: a single execution context with a state machine of
//     [State] values (New, Ready, Running, Yielded, Waiting, Dead).
//   - [Call] / [YieldValue]: generic producer/consumer transfer of a
//     caller-chosen value type between two coroutines.
//   - [PollState] / [Machine.GetPollState] / [Machine.ProcessPoll]: the
//     embedded-poll API, for hosts that want to drive their own poll loop
//     instead of calling [Machine.Run].
//
// # Suspension contract
//
// Every suspension point performs a one-shot context switch back to the
// machine's own goroutine; a coroutine never transfers control directly to
// another coroutine. This keeps "exactly one coroutine Running at any
// instant" a runtime-enforced invariant rather than a documented convention.
//
// # Errors
//
// Fatal-to-the-calling-coroutine conditions ([ErrInvalidState],
// [ErrOverlappingCall]) surface as panics recovered at the coroutine
// boundary, terminating that coroutine as if its body had returned; the
// rest of the [Machine] is unaffected. Constructor-time failures
// ([ErrIdExhausted]) surface as ordinary errors. A timer fd that cannot be
// created makes [Coroutine.Wait] return -1 at once; no error is returned
// for it.
package co
