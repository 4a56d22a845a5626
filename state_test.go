// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co_test

import (
	"testing"

	"github.com/mikael-s-persson/co"
)

func TestStateString(t *testing.T) {
	cases := []struct {
		s    co.State
		want string
	}{
		{co.StateNew, "New"},
		{co.StateReady, "Ready"},
		{co.StateRunning, "Running"},
		{co.StateYielded, "Yielded"},
		{co.StateWaiting, "Waiting"},
		{co.StateDead, "Dead"},
		{co.State(99), "Unknown"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.s, got, c.want)
		}
	}
}
