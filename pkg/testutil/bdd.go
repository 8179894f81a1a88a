// Package testutil carries the small helpers shared across handler and
// pipeline tests.
package testutil

import "testing"

// Given, When, and Then run fn as a named subtest so test output reads as a
// scenario. They carry no extra machinery; a failing step fails its subtest
// and the later steps still run.
func Given(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Given", desc, fn) }

func When(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "When", desc, fn) }

func Then(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Then", desc, fn) }

func step(t *testing.T, prefix, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run(prefix+" "+desc, fn)
}
