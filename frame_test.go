// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

import "testing"

func TestFrameRunsBodyOnlyAfterFirstSwitchTo(t *testing.T) {
	ran := false
	f := newFrame()
	f.enter(func() { ran = true })
	if ran {
		t.Fatal("body ran before first switchTo")
	}
	dead := f.switchTo()
	if !ran {
		t.Fatal("body did not run after switchTo")
	}
	if !dead {
		t.Fatal("frame should be dead: body returned without suspending")
	}
}

func TestFrameSuspendResumeRoundTrip(t *testing.T) {
	var trace []string
	f := newFrame()
	f.enter(func() {
		trace = append(trace, "a")
		f.suspend()
		trace = append(trace, "b")
		f.suspend()
		trace = append(trace, "c")
	})

	if dead := f.switchTo(); dead {
		t.Fatal("frame should not be dead after first suspend")
	}
	if got := trace; len(got) != 1 || got[0] != "a" {
		t.Fatalf("trace after first switchTo = %v", got)
	}

	if dead := f.switchTo(); dead {
		t.Fatal("frame should not be dead after second suspend")
	}
	if got := trace; len(got) != 2 || got[1] != "b" {
		t.Fatalf("trace after second switchTo = %v", got)
	}

	if dead := f.switchTo(); !dead {
		t.Fatal("frame should be dead after body returns")
	}
	if got := trace; len(got) != 3 || got[2] != "c" {
		t.Fatalf("trace after third switchTo = %v", got)
	}
}

func TestFrameManySwitches(t *testing.T) {
	const n = 1000
	count := 0
	f := newFrame()
	f.enter(func() {
		for i := 0; i < n; i++ {
			count++
			f.suspend()
		}
	})
	for i := 0; i < n; i++ {
		if dead := f.switchTo(); dead {
			t.Fatalf("frame died early at iteration %d", i)
		}
	}
	if count != n {
		t.Fatalf("count = %d, want %d", count, n)
	}
	if dead := f.switchTo(); !dead {
		t.Fatal("frame should be dead after final switchTo")
	}
}
