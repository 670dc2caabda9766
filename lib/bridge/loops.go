// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"

	"github.com/waybridge-foundation/waybridge/lib/exitreport"
	"github.com/waybridge-foundation/waybridge/lib/wire"
)

// receiveLoop routes agent messages for the life of the connection.
// CFG_ACK goes to the handshake's one-shot channel and never appears
// on Events; FRAME_DONE only flips the pending flag; everything else
// becomes an Event in arrival order.
func (b *Bridge) receiveLoop() {
	defer close(b.recvDone)
	reader := wire.NewReader(b.conn)
	for {
		message, err := reader.Next()
		if err != nil {
			b.handleDisconnect(err)
			return
		}
		switch msg := message.(type) {
		case *wire.ConfigAck:
			select {
			case b.ackCh <- *msg:
			default:
				b.log.Warn("unexpected CFG_ACK", "width", msg.Width, "height", msg.Height)
			}
		case *wire.FrameDone:
			// A frame abandoned by a resize may still get its vsync
			// callback after its successor was announced; that stale
			// acknowledgment must not unlock the next frame while the
			// current one is in flight.
			if msg.Seq >= b.seq.Load() {
				b.framePending.Store(false)
			} else {
				b.log.Debug("ignoring stale FRAME_DONE", "seq", msg.Seq)
			}
		case *wire.PointerEvent:
			b.emit(PointerEvent{Kind: msg.Kind, X: msg.X, Y: msg.Y, Button: msg.Button, State: msg.State})
		case *wire.KeyEvent:
			b.emit(KeyEvent{Keycode: msg.Keycode, State: msg.State, Modifiers: msg.Modifiers, Keysym: msg.Keysym})
		case *wire.Resize:
			b.mu.Lock()
			b.pendingResize = &resizeRequest{width: msg.Width, height: msg.Height}
			b.mu.Unlock()
			b.emit(ResizeEvent{Width: msg.Width, Height: msg.Height})
		case *wire.Error:
			b.log.Error("agent reported fatal error", "code", msg.Code, "message", msg.Message)
			b.fail(msg.Code, msg.Message)
		case *wire.Unknown:
			b.log.Warn("ignoring unknown message type", "tag", uint32(msg.Tag))
		default:
			b.log.Warn("ignoring unexpected message", "type", message.MessageType().String())
		}
	}
}

// handleDisconnect classifies the end of the agent connection. During
// Close it is expected; otherwise the exit report (if fresh) turns a
// bare EOF into a cause.
func (b *Bridge) handleDisconnect(err error) {
	if b.closing.Load() {
		return
	}
	code := int32(0)
	cause := fmt.Sprintf("agent connection lost: %v", err)
	if report, found, checkErr := exitreport.Check(b.exitReportPath, exitReportMaxAge); checkErr == nil && found {
		code = report.Code
		cause = fmt.Sprintf("agent exited: %s", report.Message)
	}
	b.log.Error("agent disconnected", "cause", cause, "code", code)
	b.fail(code, cause)
}

// renderLoop produces frames on a fixed tick until Close or a fatal
// receive-side condition stops it.
func (b *Bridge) renderLoop() {
	defer close(b.renderDone)
	ticker := b.clk.NewTicker(b.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopRender:
			return
		case <-b.recvDone:
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

// tick runs one render cycle: apply any pending resize, then produce
// a frame unless one is still in flight.
func (b *Bridge) tick() {
	b.mu.Lock()
	resize := b.pendingResize
	b.pendingResize = nil
	b.mu.Unlock()

	if resize != nil {
		if err := b.buffer.Resize(resize.width, resize.height); err != nil {
			b.log.Error("resizing shared buffer", "width", resize.width, "height", resize.height, "err", err)
			b.fail(wire.ErrCodeBufferSetup, fmt.Sprintf("resizing shared buffer: %v", err))
			return
		}
		b.mu.Lock()
		b.width, b.height = resize.width, resize.height
		b.mu.Unlock()
		// A frame announced before the resize is at the old size and
		// will never be presented; waiting for its FRAME_DONE would
		// stall production.
		b.framePending.Store(false)
		b.log.Info("shared buffer resized", "width", resize.width, "height", resize.height)
	}

	if b.State() != StateRunning {
		return
	}
	if b.framePending.Load() {
		return
	}
	if b.render == nil {
		return
	}

	width, height := b.Size()
	pixels := b.render(width, height)
	if pixels == nil {
		return
	}
	if err := b.buffer.Write(pixels); err != nil {
		b.log.Warn("writing frame to shared buffer", "err", err)
		return
	}
	seq := b.seq.Add(1)
	b.framePending.Store(true)
	if err := b.send(&wire.FrameReady{Seq: seq}); err != nil {
		if !b.closing.Load() {
			b.log.Warn("sending FRAME_READY", "seq", seq, "err", err)
		}
		b.framePending.Store(false)
	}
}
