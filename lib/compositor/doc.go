// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package compositor abstracts the display system the agent talks to.
//
// The agent's state machine is written against the Display interface,
// not against any particular compositor binding. A driver (the real
// Wayland layer-shell binding, or the in-tree headless simulator)
// implements Display and registers itself by name; the agent binary
// selects one with --driver.
//
// Event delivery contract: a Display queues one closure per external
// event, in arrival order, on the channel returned by Events(). The
// consumer — the agent's single loop goroutine — invokes each closure,
// which in turn calls the listener registered on the relevant object.
// This gives every external event exactly one synchronous handler
// invocation on one thread, with no wakeups lost between polling and
// dispatch: readiness and dispatch are the same channel operation.
package compositor
