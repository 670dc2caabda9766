// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"fmt"

	"github.com/waybridge-foundation/waybridge/lib/compositor"
)

// buffer is a headless display buffer. The pixel storage belongs to
// the agent's shmbuf mapping; the headless driver only records the
// dimensions it was granted.
type buffer struct {
	width  int32
	height int32
}

func (b *buffer) Destroy() {}

// surface is the single layer surface a headless display hosts.
// Fields are guarded by display.mu except inside listener callbacks,
// which the consumer runs on its own goroutine.
type surface struct {
	display  *Display
	spec     compositor.SurfaceSpec
	listener compositor.SurfaceListener

	pending   *buffer // staged by Attach, applied by Commit
	attached  *buffer
	hasFrame  bool
	frameDone func()
	damaged   bool
	lastAcked uint32
	commits   int
	committed bool
	destroyed bool
}

func (s *surface) AckConfigure(serial uint32) {
	s.display.mu.Lock()
	defer s.display.mu.Unlock()
	s.lastAcked = serial
}

func (s *surface) Attach(b compositor.Buffer) {
	s.display.mu.Lock()
	defer s.display.mu.Unlock()
	if b == nil {
		s.pending = nil
		return
	}
	s.pending = b.(*buffer)
}

func (s *surface) DamageAll() {
	s.display.mu.Lock()
	defer s.display.mu.Unlock()
	s.damaged = true
}

func (s *surface) Frame(done func()) {
	s.display.mu.Lock()
	defer s.display.mu.Unlock()
	s.hasFrame = true
	s.frameDone = done
}

// Commit applies pending state. The first commit triggers the initial
// Configured callback with zero spec axes resolved to the output
// size. A registered frame callback is scheduled one refresh interval
// out and cleared, matching the one-shot registration contract.
func (s *surface) Commit() error {
	d := s.display
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.destroyed {
		return fmt.Errorf("headless: commit on destroyed surface")
	}
	if d.closed {
		return fmt.Errorf("headless: display closed")
	}

	s.attached = s.pending
	s.damaged = false
	s.commits++

	if !s.committed {
		s.committed = true
		width, height := s.spec.EffectiveSize()
		if width == 0 {
			width = d.outputWidth
		}
		if height == 0 {
			height = d.outputHeight
		}
		serial := d.nextSerialLocked()
		listener := s.listener
		d.enqueue(func() { listener.Configured(serial, width, height) })
	}

	if s.hasFrame {
		s.hasFrame = false
		done := s.frameDone
		s.frameDone = nil
		d.clock.AfterFunc(d.frameInterval, func() {
			d.enqueue(done)
		})
	}
	return nil
}

func (s *surface) Destroy() {
	s.display.mu.Lock()
	defer s.display.mu.Unlock()
	s.destroyed = true
	s.pending = nil
	s.attached = nil
	s.hasFrame = false
	s.frameDone = nil
}
