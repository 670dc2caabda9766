// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/waybridge-foundation/waybridge/lib/clock"
	"github.com/waybridge-foundation/waybridge/lib/compositor"
	"github.com/waybridge-foundation/waybridge/lib/shmbuf"
)

func init() {
	compositor.RegisterDriver("headless", func() (compositor.Display, error) {
		return New(Options{}), nil
	})
}

// eventQueueDepth bounds the dispatch queue. Deep enough that a
// consumer keeping up never sees backpressure; when the consumer is
// gone (agent torn down mid-test), further events are dropped rather
// than wedging the producer.
const eventQueueDepth = 1024

// Options configures a headless display.
type Options struct {
	// OutputWidth and OutputHeight are the simulated output
	// dimensions, used to resolve zero (compositor-fills) axes in
	// configure. Defaults: 1920x1080.
	OutputWidth  int32
	OutputHeight int32

	// FrameInterval is the simulated refresh period governing frame
	// callbacks. Default: 16ms.
	FrameInterval time.Duration

	// Clock paces frame callbacks. Default: clock.Real().
	Clock clock.Clock

	// Missing lists capabilities the display should deny. Used by
	// tests exercising the agent's capability checks.
	Missing []compositor.Capability

	// Keymap enables CapabilityKeymap: key events keep the keysym
	// supplied to EmitKey instead of having it zeroed.
	Keymap bool
}

// Display is a headless compositor.Display. The exported methods
// beyond the interface (Reconfigure, CloseSurface, EmitPointer*,
// EmitKey, and the inspection accessors) are the scripting surface
// for tests and soak tooling.
type Display struct {
	outputWidth   int32
	outputHeight  int32
	frameInterval time.Duration
	clock         clock.Clock
	missing       map[compositor.Capability]bool
	keymap        bool

	events chan func()

	mu       sync.Mutex
	closed   bool
	pointer  compositor.PointerListener
	keyboard compositor.KeyboardListener
	surface  *surface
	serial   uint32
}

// New creates a headless display with the given options.
func New(options Options) *Display {
	if options.OutputWidth <= 0 {
		options.OutputWidth = 1920
	}
	if options.OutputHeight <= 0 {
		options.OutputHeight = 1080
	}
	if options.FrameInterval <= 0 {
		options.FrameInterval = 16 * time.Millisecond
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	missing := make(map[compositor.Capability]bool, len(options.Missing))
	for _, capability := range options.Missing {
		missing[capability] = true
	}
	return &Display{
		outputWidth:   options.OutputWidth,
		outputHeight:  options.OutputHeight,
		frameInterval: options.FrameInterval,
		clock:         options.Clock,
		missing:       missing,
		keymap:        options.Keymap,
		events:        make(chan func(), eventQueueDepth),
	}
}

// Supports implements compositor.Display.
func (d *Display) Supports(capability compositor.Capability) bool {
	if d.missing[capability] {
		return false
	}
	if capability == compositor.CapabilityKeymap {
		return d.keymap
	}
	return true
}

// CreateLayerSurface implements compositor.Display. The headless
// display models a single output with a single layer surface, which
// is all the agent ever creates.
func (d *Display) CreateLayerSurface(spec compositor.SurfaceSpec, listener compositor.SurfaceListener) (compositor.LayerSurface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("headless: display closed")
	}
	if d.missing[compositor.CapabilityLayerShell] {
		return nil, fmt.Errorf("headless: layer-shell capability disabled")
	}
	if d.surface != nil && !d.surface.destroyed {
		return nil, fmt.Errorf("headless: surface already exists")
	}
	d.surface = &surface{display: d, spec: spec, listener: listener}
	return d.surface, nil
}

// NewBuffer implements compositor.Display.
func (d *Display) NewBuffer(file *os.File, width, height int32) (compositor.Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("headless: invalid buffer dimensions %dx%d", width, height)
	}
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("headless: stat buffer file: %w", err)
	}
	needed := int64(width) * int64(height) * shmbuf.BytesPerPixel
	if info.Size() < needed {
		return nil, fmt.Errorf("headless: buffer file holds %d bytes, need %d", info.Size(), needed)
	}
	return &buffer{width: width, height: height}, nil
}

// SetPointerListener implements compositor.Display.
func (d *Display) SetPointerListener(listener compositor.PointerListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pointer = listener
}

// SetKeyboardListener implements compositor.Display.
func (d *Display) SetKeyboardListener(listener compositor.KeyboardListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keyboard = listener
}

// Flush implements compositor.Display. Headless requests take effect
// immediately, so there is nothing to push.
func (d *Display) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("headless: display closed")
	}
	return nil
}

// Events implements compositor.Display.
func (d *Display) Events() <-chan func() { return d.events }

// Close implements compositor.Display.
func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// enqueue queues one event closure, dropping it if the consumer has
// stopped draining the queue.
func (d *Display) enqueue(event func()) {
	select {
	case d.events <- event:
	default:
	}
}

// nextSerialLocked returns a fresh configure serial. Caller holds d.mu.
func (d *Display) nextSerialLocked() uint32 {
	d.serial++
	return d.serial
}

// Reconfigure scripts a compositor-initiated configure with new
// dimensions, as happens when an output is rescaled or another
// exclusive surface appears. Zero axes resolve to the output size.
func (d *Display) Reconfigure(width, height int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	target := d.surface
	if target == nil || target.destroyed {
		return
	}
	if width == 0 {
		width = d.outputWidth
	}
	if height == 0 {
		height = d.outputHeight
	}
	serial := d.nextSerialLocked()
	listener := target.listener
	d.enqueue(func() { listener.Configured(serial, width, height) })
}

// CloseSurface scripts the compositor destroying the surface.
func (d *Display) CloseSurface() {
	d.mu.Lock()
	defer d.mu.Unlock()
	target := d.surface
	if target == nil || target.destroyed {
		return
	}
	listener := target.listener
	d.enqueue(func() { listener.Closed() })
}

// EmitPointerEnter scripts a pointer entering the surface.
func (d *Display) EmitPointerEnter(x, y float32) {
	d.withPointer(func(listener compositor.PointerListener) { listener.PointerEnter(x, y) })
}

// EmitPointerLeave scripts the pointer leaving the surface.
func (d *Display) EmitPointerLeave() {
	d.withPointer(func(listener compositor.PointerListener) { listener.PointerLeave() })
}

// EmitPointerMotion scripts pointer motion.
func (d *Display) EmitPointerMotion(x, y float32) {
	d.withPointer(func(listener compositor.PointerListener) { listener.PointerMotion(x, y) })
}

// EmitPointerButton scripts a button press or release.
func (d *Display) EmitPointerButton(button int32, pressed bool) {
	d.withPointer(func(listener compositor.PointerListener) { listener.PointerButton(button, pressed) })
}

func (d *Display) withPointer(deliver func(compositor.PointerListener)) {
	d.mu.Lock()
	listener := d.pointer
	d.mu.Unlock()
	if listener == nil {
		return
	}
	d.enqueue(func() { deliver(listener) })
}

// EmitKey scripts a key event. Without keymap support the keysym is
// zeroed, matching a driver that cannot resolve layouts.
func (d *Display) EmitKey(keycode, state, keysym, modifiers int32) {
	d.mu.Lock()
	listener := d.keyboard
	d.mu.Unlock()
	if listener == nil {
		return
	}
	if !d.keymap {
		keysym = 0
	}
	d.enqueue(func() { listener.Key(keycode, state, keysym, modifiers) })
}

// LastAckedSerial returns the most recent serial the surface
// acknowledged. Zero before any ack.
func (d *Display) LastAckedSerial() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.surface == nil {
		return 0
	}
	return d.surface.lastAcked
}

// CommitCount returns the number of commits the surface has made.
func (d *Display) CommitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.surface == nil {
		return 0
	}
	return d.surface.commits
}
