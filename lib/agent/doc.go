// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the compositor-agent side of the bridge
// protocol: the process that owns the layer surface and talks to the
// display system on behalf of a rendering host.
//
// The agent is a single-owner state machine. One loop goroutine owns
// every piece of surface state and every write to the host socket; a
// reader goroutine does nothing but decode host messages into an
// ordered channel. Display events arrive as closures on the driver's
// dispatch queue and run on the loop goroutine too, so listener
// callbacks never race the protocol handlers.
//
// Lifecycle: Dial the host's socket (with retry, since the host
// listens just before spawning), then Run. Run verifies driver
// capabilities, performs the CONFIGURE handshake, and services frames
// and input until SHUTDOWN, surface closure, context cancellation, or
// a fatal error. Fatal errors are reported twice: an ERROR message
// while the socket still works, and an exit-report file for the case
// where it does not.
package agent
