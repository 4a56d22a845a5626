// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

import "testing"

func TestCallYieldValueRoundTrip(t *testing.T) {
	m := newTestMachine(t)

	producer, err := NewCoroutine(m, func(c *Coroutine) {
		for i := 1; i <= 3; i++ {
			YieldValue(c, i)
		}
	})
	if err != nil {
		t.Fatalf("NewCoroutine producer: %v", err)
	}

	var got []int
	var finalCallFailed bool
	_, err = NewCoroutine(m, func(c *Coroutine) {
		for i := 0; i < 3; i++ {
			got = append(got, Call[int](c, producer))
		}
		// producer's 3rd YieldValue left it suspended one resume short of
		// returning; this 4th Call drives it to completion and, per §7/§9,
		// observes InvalidState rather than a stale value.
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(*StateError); ok {
					finalCallFailed = true
				}
			}
		}()
		Call[int](c, producer)
	}, WithAutostart(true))
	if err != nil {
		t.Fatalf("NewCoroutine consumer: %v", err)
	}

	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if !finalCallFailed {
		t.Fatal("4th Call on a completing producer should raise InvalidState")
	}
	if producer.IsAlive() {
		t.Fatal("producer should have completed")
	}
}

func TestCallBeforeCalleeStarted(t *testing.T) {
	m := newTestMachine(t)

	callee, err := NewCoroutine(m, func(c *Coroutine) {
		YieldValue(c, 42)
	})
	if err != nil {
		t.Fatalf("NewCoroutine callee: %v", err)
	}

	result := -1
	caller, err := NewCoroutine(m, func(c *Coroutine) {
		result = Call[int](c, callee)
	}, WithAutostart(true))
	if err != nil {
		t.Fatalf("NewCoroutine caller: %v", err)
	}

	// callee's single YieldValue leaves it suspended one resume short of
	// returning (§9); drive ticks only until caller has what it needs
	// rather than draining to full quiescence with Run.
	for i := 0; i < 10 && caller.IsAlive(); i++ {
		if err := m.runTick(&m.pool); err != nil {
			t.Fatalf("runTick: %v", err)
		}
	}
	if caller.IsAlive() {
		t.Fatal("caller never terminated")
	}
	if result != 42 {
		t.Fatalf("result = %d, want 42", result)
	}
}

func TestCallOnDeadCalleePanicsInvalidState(t *testing.T) {
	m := newTestMachine(t)

	callee, err := NewCoroutine(m, func(c *Coroutine) {}, WithAutostart(true))
	if err != nil {
		t.Fatalf("NewCoroutine callee: %v", err)
	}

	sawStateError := false
	_, err = NewCoroutine(m, func(c *Coroutine) {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(*StateError); ok {
					sawStateError = true
				}
			}
		}()
		// A self-contained delay (a real timer, no external wake needed)
		// gives callee a chance to die first.
		c.Millisleep(1)
		Call[struct{}](c, callee)
	}, WithAutostart(true))
	if err != nil {
		t.Fatalf("NewCoroutine caller: %v", err)
	}
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if callee.IsAlive() {
		t.Fatal("callee should have completed")
	}
	if !sawStateError {
		t.Fatal("Call on a dead callee should raise InvalidState")
	}
}

func TestCallOverlappingCallerPanics(t *testing.T) {
	m := newTestMachine(t)

	// callee stays bound to firstCaller for a couple of ticks (it must run
	// once to produce a value before firstCaller's Call unbinds it), giving
	// secondCaller a window in which callee.caller is still non-nil.
	callee, err := NewCoroutine(m, func(c *Coroutine) {
		YieldValue(c, 1)
	})
	if err != nil {
		t.Fatalf("NewCoroutine callee: %v", err)
	}

	_, err = NewCoroutine(m, func(c *Coroutine) {
		Call[int](c, callee)
	}, WithAutostart(true))
	if err != nil {
		t.Fatalf("NewCoroutine first caller: %v", err)
	}

	sawOverlap := false
	_, err = NewCoroutine(m, func(c *Coroutine) {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(*CallError); ok {
					sawOverlap = true
				}
			}
		}()
		Call[int](c, callee)
	}, WithAutostart(true))
	if err != nil {
		t.Fatalf("NewCoroutine second caller: %v", err)
	}

	for i := 0; i < 20 && !sawOverlap; i++ {
		if err := m.runTick(&m.pool); err != nil {
			t.Fatalf("runTick: %v", err)
		}
	}
	if !sawOverlap {
		t.Fatal("second caller never observed CallError")
	}
}
