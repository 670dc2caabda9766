// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import (
	"fmt"
	"os"
)

// Capability is a display-system feature the agent may require or
// probe for.
type Capability int

const (
	// CapabilitySurface is basic surface creation.
	CapabilitySurface Capability = iota
	// CapabilitySharedMemory is the shared-memory buffer pool.
	CapabilitySharedMemory
	// CapabilityLayerShell is layer-surface semantics (stacking
	// layer, anchoring, exclusive zones).
	CapabilityLayerShell
	// CapabilityKeymap is layout-aware key symbol resolution. Unlike
	// the other three, this one is optional: without it key events
	// carry a zero keysym.
	CapabilityKeymap
)

// String returns the capability name used in logs and error messages.
func (c Capability) String() string {
	switch c {
	case CapabilitySurface:
		return "surface"
	case CapabilitySharedMemory:
		return "shared-memory"
	case CapabilityLayerShell:
		return "layer-shell"
	case CapabilityKeymap:
		return "keymap"
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// SurfaceListener receives lifecycle events for one layer surface.
// Both callbacks run on the agent's loop goroutine via Events().
type SurfaceListener interface {
	// Configured delivers a compositor size decision. The first call
	// completes the initial handshake; later calls are resize
	// requests. Every call must eventually be answered with
	// AckConfigure(serial).
	Configured(serial uint32, width, height int32)

	// Closed reports that the compositor destroyed the surface (for
	// example the output disappeared). The surface must not be used
	// afterwards.
	Closed()
}

// PointerListener receives pointer input for the surface.
type PointerListener interface {
	PointerEnter(x, y float32)
	PointerLeave()
	PointerMotion(x, y float32)
	PointerButton(button int32, pressed bool)
}

// KeyboardListener receives keyboard input for the surface. keysym is
// zero when the driver lacks CapabilityKeymap. state is one of the
// wire package's key states (released/pressed/repeat); modifiers is
// its modifier bitmask.
type KeyboardListener interface {
	Key(keycode, state, keysym, modifiers int32)
}

// Buffer is a display-side handle onto shared pixel storage.
type Buffer interface {
	// Destroy releases the handle. The underlying storage belongs to
	// the shmbuf mapping and outlives the handle.
	Destroy()
}

// LayerSurface is one configured layer-shell surface.
type LayerSurface interface {
	// AckConfigure acknowledges a Configured callback by serial.
	AckConfigure(serial uint32)

	// Attach sets the buffer presented at the next Commit. nil
	// detaches.
	Attach(Buffer)

	// DamageAll marks the entire surface as needing redraw.
	DamageAll()

	// Frame registers a one-shot callback fired when the compositor
	// is ready for the next frame (after it has consumed the commit).
	// The callback is delivered through Events() like any other
	// event. Registration is per-commit: it must be renewed each time.
	Frame(done func())

	// Commit atomically applies pending surface state (attach,
	// damage, ack) to the compositor.
	Commit() error

	// Destroy releases the surface.
	Destroy()
}

// Display is one connection to a display system.
//
// Implementations are not required to be safe for concurrent method
// calls; the agent confines all calls to its loop goroutine.
type Display interface {
	// Supports reports whether the display system offers the
	// capability.
	Supports(Capability) bool

	// CreateLayerSurface creates a surface placed per spec, with
	// events delivered to listener. The surface is not visible until
	// a configure round-trip completes and a buffer is committed.
	CreateLayerSurface(spec SurfaceSpec, listener SurfaceListener) (LayerSurface, error)

	// NewBuffer wraps the shared pixel file in a display buffer of
	// the given dimensions. The file must hold width*height*4 bytes.
	NewBuffer(file *os.File, width, height int32) (Buffer, error)

	// SetPointerListener and SetKeyboardListener install the input
	// sinks. Events arriving before a listener is set are dropped.
	SetPointerListener(PointerListener)
	SetKeyboardListener(KeyboardListener)

	// Flush pushes buffered requests to the display system. The agent
	// calls this before every wait so the compositor never sits on an
	// unflushed request while the agent sits on an empty channel.
	Flush() error

	// Events is the ordered dispatch queue described in the package
	// comment. The channel is never closed; after Close it simply
	// stops delivering.
	Events() <-chan func()

	// Close disconnects from the display system and releases driver
	// resources. Idempotent.
	Close() error
}
