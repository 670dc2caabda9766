// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/waybridge-foundation/waybridge/lib/clock"
	"github.com/waybridge-foundation/waybridge/lib/compositor"
	"github.com/waybridge-foundation/waybridge/lib/shmbuf"
	"github.com/waybridge-foundation/waybridge/lib/wire"
)

// session is the agent's complete state. Every field is owned by the
// loop goroutine; the reader goroutine never touches it.
type session struct {
	display       compositor.Display
	conn          net.Conn
	reader        *wire.Reader
	writer        *wire.Writer
	clock         clock.Clock
	log           *slog.Logger
	configureWait time.Duration

	surface    compositor.LayerSurface
	mapping    *shmbuf.Mapping
	buffer     compositor.Buffer
	bufferPath string

	// width and height are the compositor-confirmed dimensions. The
	// mapping is rebuilt lazily on the next FRAME_READY after they
	// change, because the host resizes the shared file only after it
	// learns the confirmed size (via CFG_ACK or RESIZE).
	width  int32
	height int32

	configured    bool
	initialSerial uint32
	pending       *pendingConfigure
	stopping      bool
	sendErr       error

	// lastX and lastY track pointer position so button events carry
	// coordinates even though the display reports buttons without them.
	lastX float32
	lastY float32

	framesPresented int64
}

// pendingConfigure is a compositor size change deferred to the top of
// the loop so it never lands mid-frame.
type pendingConfigure struct {
	serial uint32
	width  int32
	height int32
}

func (s *session) run(ctx context.Context) error {
	if err := s.checkCapabilities(); err != nil {
		return err
	}

	s.display.SetPointerListener(&pointerForwarder{s: s})
	s.display.SetKeyboardListener(&keyForwarder{s: s})

	messages := make(chan wire.Message, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(messages)
		for {
			message, err := s.reader.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case messages <- message:
			case <-ctx.Done():
				return
			}
		}
	}()

	tick := s.clock.NewTicker(housekeepingInterval)
	defer tick.Stop()

	for {
		if s.pending != nil && s.configured {
			if err := s.applyResize(); err != nil {
				return err
			}
		}
		if err := s.display.Flush(); err != nil {
			return fmt.Errorf("flushing display: %w", err)
		}

		select {
		case <-ctx.Done():
			s.log.Info("context cancelled, shutting down")
			return nil
		case event := <-s.display.Events():
			event()
		case message, ok := <-messages:
			if !ok {
				err := <-readErr
				if errors.Is(err, io.EOF) {
					s.log.Info("host closed the connection")
					return nil
				}
				return fmt.Errorf("reading host message: %w", err)
			}
			if err := s.handle(message); err != nil {
				return err
			}
		case <-tick.C:
			s.log.Debug("housekeeping",
				"configured", s.configured,
				"frames_presented", s.framesPresented)
		}

		if s.sendErr != nil {
			return fmt.Errorf("writing to host: %w", s.sendErr)
		}
		if s.stopping {
			return nil
		}
	}
}

// send writes one message to the host. All calls happen on the loop
// goroutine (protocol handlers, dispatch-queue thunks, and the fatal
// path after the loop has stopped), so the writer needs no lock.
func (s *session) send(message wire.Message) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	if err := s.writer.Write(message); err != nil {
		s.sendErr = err
		return err
	}
	return nil
}

func (s *session) handle(message wire.Message) error {
	switch msg := message.(type) {
	case *wire.Configure:
		return s.handleConfigure(msg)
	case *wire.FrameReady:
		return s.handleFrameReady(msg)
	case *wire.Shutdown:
		s.log.Info("shutdown requested by host")
		s.stopping = true
		return nil
	case *wire.Unknown:
		s.log.Warn("ignoring unknown message type", "tag", uint32(msg.Tag), "payload_bytes", len(msg.Payload))
		return nil
	default:
		s.log.Warn("ignoring unexpected message", "type", message.MessageType().String())
		return nil
	}
}

// handleConfigure performs the one-time surface setup: create the
// layer surface, run the initial configure round-trip with a bounded
// wait, and report the confirmed size. The shared file is only
// stat'ed here; mapping waits for the first FRAME_READY, by which
// point the host has sized the file to the confirmed dimensions.
func (s *session) handleConfigure(msg *wire.Configure) error {
	if s.surface != nil {
		s.log.Warn("ignoring duplicate CONFIGURE")
		return nil
	}

	if _, err := os.Stat(msg.BufferPath); err != nil {
		return fatal(wire.ErrCodeSharedFileOpen, fmt.Errorf("shared pixel file: %w", err))
	}
	s.bufferPath = msg.BufferPath

	spec := compositor.SurfaceSpec{
		Layer:         compositor.Layer(msg.Layer),
		Anchor:        compositor.Anchor(msg.Anchor),
		ExclusiveZone: msg.ExclusiveZone,
		Keyboard:      compositor.KeyboardMode(msg.KeyboardMode),
		Width:         msg.Width,
		Height:        msg.Height,
		Margins: compositor.Margins{
			Top:    msg.MarginTop,
			Right:  msg.MarginRight,
			Bottom: msg.MarginBottom,
			Left:   msg.MarginLeft,
		},
		Namespace: msg.Namespace,
	}

	surface, err := s.display.CreateLayerSurface(spec, &surfaceForwarder{s: s})
	if err != nil {
		return fatal(wire.ErrCodeLayerSurfaceCreate, fmt.Errorf("creating layer surface: %w", err))
	}
	s.surface = surface

	// The empty commit starts the configure round-trip.
	if err := surface.Commit(); err != nil {
		return fatal(wire.ErrCodeSurfaceCreate, fmt.Errorf("initial commit: %w", err))
	}
	if err := s.display.Flush(); err != nil {
		return fatal(wire.ErrCodeSurfaceCreate, fmt.Errorf("flushing initial commit: %w", err))
	}

	deadline := s.clock.After(s.configureWait)
	for !s.configured {
		select {
		case event := <-s.display.Events():
			event()
		case <-deadline:
			return fatal(wire.ErrCodeConfigureTimeout,
				fmt.Errorf("compositor did not configure within %v", s.configureWait))
		}
		if s.stopping {
			// Surface closed before it was ever configured.
			return fatal(wire.ErrCodeSurfaceCreate, errors.New("surface closed during configure"))
		}
	}

	surface.AckConfigure(s.initialSerial)
	if err := surface.Commit(); err != nil {
		return fatal(wire.ErrCodeSurfaceCreate, fmt.Errorf("committing configure ack: %w", err))
	}

	s.log.Info("surface configured",
		"width", s.width, "height", s.height,
		"layer", spec.Layer.String(), "namespace", spec.Namespace)
	if err := s.send(&wire.ConfigAck{Width: s.width, Height: s.height}); err != nil {
		return fmt.Errorf("sending CFG_ACK: %w", err)
	}
	return nil
}

// handleFrameReady presents the shared buffer's current contents and
// arranges for FRAME_DONE when the compositor's frame callback fires.
func (s *session) handleFrameReady(msg *wire.FrameReady) error {
	if !s.configured {
		s.log.Warn("FRAME_READY before configure, ignoring", "seq", msg.Seq)
		return nil
	}
	if err := s.ensureMapping(); err != nil {
		return err
	}

	seq := msg.Seq
	s.surface.Attach(s.buffer)
	s.surface.DamageAll()
	s.surface.Frame(func() {
		s.framesPresented++
		if err := s.send(&wire.FrameDone{Seq: seq}); err != nil {
			s.log.Warn("sending FRAME_DONE", "seq", seq, "err", err)
		}
	})
	if err := s.surface.Commit(); err != nil {
		return fmt.Errorf("committing frame %d: %w", seq, err)
	}
	return s.display.Flush()
}

// ensureMapping (re)builds the shared-file mapping and display buffer
// at the confirmed dimensions. Called on the FRAME_READY path: the
// host never announces a frame before sizing the file to match the
// dimensions it learned from CFG_ACK or RESIZE.
func (s *session) ensureMapping() error {
	if s.mapping != nil {
		return nil
	}
	mapping, err := shmbuf.Map(s.bufferPath, s.width, s.height)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fatal(wire.ErrCodeSharedFileOpen, fmt.Errorf("shared pixel file: %w", err))
		}
		return fatal(wire.ErrCodeBufferSetup, fmt.Errorf("mapping shared pixel file: %w", err))
	}
	buffer, err := s.display.NewBuffer(mapping.File(), s.width, s.height)
	if err != nil {
		mapping.Close()
		return fatal(wire.ErrCodeBufferSetup, fmt.Errorf("creating display buffer: %w", err))
	}
	s.mapping = mapping
	s.buffer = buffer
	return nil
}

// applyResize applies a deferred compositor size change at a frame
// boundary: ack, drop the stale mapping, detach, and tell the host.
// The new mapping is built lazily once the host has resized the file
// and announced the next frame.
func (s *session) applyResize() error {
	change := s.pending
	s.pending = nil

	s.log.Info("applying resize",
		"width", change.width, "height", change.height,
		"previous_width", s.width, "previous_height", s.height)

	s.surface.AckConfigure(change.serial)
	s.width = change.width
	s.height = change.height
	s.dropMapping()

	s.surface.Attach(nil)
	if err := s.surface.Commit(); err != nil {
		return fmt.Errorf("committing resize ack: %w", err)
	}
	if err := s.send(&wire.Resize{Width: change.width, Height: change.height}); err != nil {
		return fmt.Errorf("sending RESIZE: %w", err)
	}
	return nil
}

// dropMapping releases the display buffer and the shared-file mapping.
func (s *session) dropMapping() {
	if s.buffer != nil {
		s.buffer.Destroy()
		s.buffer = nil
	}
	if s.mapping != nil {
		if err := s.mapping.Close(); err != nil {
			s.log.Warn("closing shared-file mapping", "err", err)
		}
		s.mapping = nil
	}
}

// teardown releases everything in reverse dependency order. Runs on
// every exit path; each step is independent so one failure never
// leaks the rest.
func (s *session) teardown() {
	s.dropMapping()
	if s.surface != nil {
		s.surface.Destroy()
		s.surface = nil
	}
	if err := s.display.Close(); err != nil {
		s.log.Warn("closing display", "err", err)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warn("closing host connection", "err", err)
	}
}

// surfaceForwarder routes surface lifecycle events into the session.
// Callbacks run on the loop goroutine via the dispatch queue.
type surfaceForwarder struct {
	s *session
}

func (f *surfaceForwarder) Configured(serial uint32, width, height int32) {
	s := f.s
	if !s.configured {
		s.configured = true
		s.initialSerial = serial
		s.width = width
		s.height = height
		return
	}
	if width == s.width && height == s.height {
		// Same-size reconfigure needs only an ack.
		s.surface.AckConfigure(serial)
		if err := s.surface.Commit(); err != nil {
			s.log.Warn("committing same-size configure ack", "err", err)
		}
		return
	}
	// Overwrites any earlier pending change: only the latest
	// compositor decision matters.
	s.pending = &pendingConfigure{serial: serial, width: width, height: height}
}

func (f *surfaceForwarder) Closed() {
	f.s.log.Info("surface closed by compositor")
	f.s.stopping = true
}

// pointerForwarder translates pointer callbacks into wire messages,
// preserving observation order.
type pointerForwarder struct {
	s *session
}

func (f *pointerForwarder) PointerEnter(x, y float32) {
	f.s.lastX, f.s.lastY = x, y
	f.emit(&wire.PointerEvent{Kind: wire.PointerEnter, X: x, Y: y})
}

func (f *pointerForwarder) PointerLeave() {
	f.emit(&wire.PointerEvent{Kind: wire.PointerLeave, X: f.s.lastX, Y: f.s.lastY})
}

func (f *pointerForwarder) PointerMotion(x, y float32) {
	f.s.lastX, f.s.lastY = x, y
	f.emit(&wire.PointerEvent{Kind: wire.PointerMotion, X: x, Y: y})
}

func (f *pointerForwarder) PointerButton(button int32, pressed bool) {
	state := wire.KeyReleased
	if pressed {
		state = wire.KeyPressed
	}
	f.emit(&wire.PointerEvent{
		Kind:   wire.PointerButton,
		X:      f.s.lastX,
		Y:      f.s.lastY,
		Button: button,
		State:  state,
	})
}

func (f *pointerForwarder) emit(event *wire.PointerEvent) {
	if err := f.s.send(event); err != nil {
		f.s.log.Warn("forwarding pointer event", "err", err)
	}
}

// keyForwarder translates keyboard callbacks into wire messages.
type keyForwarder struct {
	s *session
}

func (f *keyForwarder) Key(keycode, state, keysym, modifiers int32) {
	event := &wire.KeyEvent{
		Keycode:   keycode,
		State:     state,
		Modifiers: modifiers,
		Keysym:    keysym,
	}
	if err := f.s.send(event); err != nil {
		f.s.log.Warn("forwarding key event", "err", err)
	}
}
