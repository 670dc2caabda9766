// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "fmt"

// State is the bridge lifecycle state. Terminal states (Closed,
// Error) are sticky: once entered, no further transition happens.
type State int32

const (
	// StateIdle is the zero value before Configure does anything.
	StateIdle State = iota
	// StateStarting covers socket setup, spawn, and the CONFIGURE
	// handshake.
	StateStarting
	// StateConfigured means CFG_ACK arrived with the confirmed size.
	// Observable only briefly: Configure moves straight on to Running.
	StateConfigured
	// StateRunning means the render and receive loops are live.
	StateRunning
	// StateClosed is the clean terminal state.
	StateClosed
	// StateError is the failure terminal state. The diagnostic arrives
	// as an ErrorEvent on Events.
	StateError
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// terminal reports whether the state admits no further transitions.
func (s State) terminal() bool {
	return s == StateClosed || s == StateError
}

// Event is the closed union of asynchronous agent notifications
// delivered on Bridge.Events, in the order the agent observed them.
type Event interface {
	event()
}

// PointerEvent is a forwarded pointer interaction. Kind, Button, and
// State use the wire package's pointer constants.
type PointerEvent struct {
	Kind   int32
	X      float32
	Y      float32
	Button int32
	State  int32
}

func (PointerEvent) event() {}

// KeyEvent is a forwarded keyboard interaction. State and Modifiers
// use the wire package's key constants; Keysym is zero when the
// agent's driver has no keymap support.
type KeyEvent struct {
	Keycode   int32
	State     int32
	Modifiers int32
	Keysym    int32
}

func (KeyEvent) event() {}

// ResizeEvent reports a compositor-driven surface size change. By the
// time the host observes it, the shared buffer has already been
// rebuilt at the new size; the event is informational so the engine
// can adjust its scene.
type ResizeEvent struct {
	Width  int32
	Height int32
}

func (ResizeEvent) event() {}

// ErrorEvent reports a fatal agent-side condition. Code uses the wire
// package's ErrCode constants; zero means the failure was local to
// the host (transport, spawn) rather than reported by the agent.
type ErrorEvent struct {
	Code    int32
	Message string
}

func (ErrorEvent) event() {}
