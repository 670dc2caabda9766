// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/waybridge-foundation/waybridge/lib/compositor"
	"github.com/waybridge-foundation/waybridge/lib/compositor/headless"
	"github.com/waybridge-foundation/waybridge/lib/exitreport"
	"github.com/waybridge-foundation/waybridge/lib/shmbuf"
	"github.com/waybridge-foundation/waybridge/lib/testutil"
	"github.com/waybridge-foundation/waybridge/lib/wire"
)

const testTimeout = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testHost is the host end of an in-process agent session over a
// net.Pipe. Reads run on a dedicated goroutine because pipe writes
// block until the peer reads.
type testHost struct {
	t        *testing.T
	conn     net.Conn
	writer   *wire.Writer
	incoming chan wire.Message
	runErr   chan error
	cancel   context.CancelFunc
}

func startAgent(t *testing.T, display compositor.Display, opts Options) *testHost {
	t.Helper()
	hostConn, agentConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	opts.Display = display
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}

	host := &testHost{
		t:        t,
		conn:     hostConn,
		writer:   wire.NewWriter(hostConn),
		incoming: make(chan wire.Message, 64),
		runErr:   make(chan error, 1),
		cancel:   cancel,
	}
	go func() {
		host.runErr <- Run(ctx, agentConn, opts)
	}()
	go func() {
		reader := wire.NewReader(hostConn)
		for {
			message, err := reader.Next()
			if err != nil {
				close(host.incoming)
				return
			}
			host.incoming <- message
		}
	}()
	t.Cleanup(func() { hostConn.Close() })
	return host
}

func (h *testHost) send(m wire.Message) {
	h.t.Helper()
	if err := h.writer.Write(m); err != nil {
		h.t.Fatalf("host write %s: %v", m.MessageType(), err)
	}
}

func (h *testHost) receive() wire.Message {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.incoming, testTimeout, "host receive")
}

func (h *testHost) waitExit() error {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.runErr, testTimeout, "agent exit")
}

func newFrameFile(t *testing.T, width, height int32) *shmbuf.Buffer {
	t.Helper()
	buffer, err := shmbuf.Create(t.TempDir(), width, height)
	if err != nil {
		t.Fatalf("shmbuf.Create: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func configureMessage(buffer *shmbuf.Buffer, width, height int32) *wire.Configure {
	return &wire.Configure{
		Layer:      int32(compositor.LayerTop),
		Width:      width,
		Height:     height,
		Namespace:  "agent-test",
		BufferPath: buffer.Path(),
	}
}

func TestHappyPathConfigureFrameShutdown(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond})
	host := startAgent(t, display, Options{})
	buffer := newFrameFile(t, 320, 240)

	host.send(configureMessage(buffer, 320, 240))

	ack, ok := host.receive().(*wire.ConfigAck)
	if !ok {
		t.Fatalf("expected CFG_ACK")
	}
	if ack.Width != 320 || ack.Height != 240 {
		t.Fatalf("CFG_ACK %dx%d, want 320x240", ack.Width, ack.Height)
	}

	for seq := int64(1); seq <= 3; seq++ {
		host.send(&wire.FrameReady{Seq: seq})
		done, ok := host.receive().(*wire.FrameDone)
		if !ok {
			t.Fatalf("expected FRAME_DONE for seq %d", seq)
		}
		if done.Seq != seq {
			t.Fatalf("FRAME_DONE seq %d, want %d", done.Seq, seq)
		}
	}

	host.send(&wire.Shutdown{})
	if err := host.waitExit(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestInputForwardedInOrder(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond, Keymap: true})
	host := startAgent(t, display, Options{})
	buffer := newFrameFile(t, 100, 100)

	host.send(configureMessage(buffer, 100, 100))
	if _, ok := host.receive().(*wire.ConfigAck); !ok {
		t.Fatal("expected CFG_ACK")
	}

	display.EmitPointerEnter(1, 2)
	display.EmitPointerMotion(3, 4)
	display.EmitPointerButton(272, true)
	display.EmitKey(30, wire.KeyPressed, 0x61, wire.ModShift)

	enter := host.receive().(*wire.PointerEvent)
	if enter.Kind != wire.PointerEnter || enter.X != 1 || enter.Y != 2 {
		t.Fatalf("unexpected enter event %+v", enter)
	}
	motion := host.receive().(*wire.PointerEvent)
	if motion.Kind != wire.PointerMotion || motion.X != 3 || motion.Y != 4 {
		t.Fatalf("unexpected motion event %+v", motion)
	}
	button := host.receive().(*wire.PointerEvent)
	if button.Kind != wire.PointerButton || button.Button != 272 || button.State != wire.KeyPressed {
		t.Fatalf("unexpected button event %+v", button)
	}
	if button.X != 3 || button.Y != 4 {
		t.Fatalf("button event must carry last pointer position, got %v,%v", button.X, button.Y)
	}
	key := host.receive().(*wire.KeyEvent)
	if key.Keycode != 30 || key.Keysym != 0x61 || key.Modifiers != wire.ModShift {
		t.Fatalf("unexpected key event %+v", key)
	}
}

func TestResizeRoundTrip(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond})
	host := startAgent(t, display, Options{})
	buffer := newFrameFile(t, 200, 150)

	host.send(configureMessage(buffer, 200, 150))
	if _, ok := host.receive().(*wire.ConfigAck); !ok {
		t.Fatal("expected CFG_ACK")
	}

	host.send(&wire.FrameReady{Seq: 1})
	if _, ok := host.receive().(*wire.FrameDone); !ok {
		t.Fatal("expected FRAME_DONE")
	}

	display.Reconfigure(400, 300)
	resize, ok := host.receive().(*wire.Resize)
	if !ok {
		t.Fatal("expected RESIZE")
	}
	if resize.Width != 400 || resize.Height != 300 {
		t.Fatalf("RESIZE %dx%d, want 400x300", resize.Width, resize.Height)
	}

	// Host resizes the shared file before announcing the next frame,
	// which is when the agent rebuilds its mapping.
	if err := buffer.Resize(400, 300); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	host.send(&wire.FrameReady{Seq: 2})
	done, ok := host.receive().(*wire.FrameDone)
	if !ok {
		t.Fatal("expected FRAME_DONE after resize")
	}
	if done.Seq != 2 {
		t.Fatalf("FRAME_DONE seq %d, want 2", done.Seq)
	}
}

func TestMissingCapabilityIsFatal(t *testing.T) {
	display := headless.New(headless.Options{
		Missing: []compositor.Capability{compositor.CapabilitySharedMemory},
	})
	host := startAgent(t, display, Options{})

	errorMsg, ok := host.receive().(*wire.Error)
	if !ok {
		t.Fatal("expected ERROR")
	}
	if errorMsg.Code != wire.ErrCodeNoSharedMemory {
		t.Fatalf("ERROR code %d, want %d", errorMsg.Code, wire.ErrCodeNoSharedMemory)
	}

	err := host.waitExit()
	if ExitCode(err) != int(wire.ErrCodeNoSharedMemory) {
		t.Fatalf("ExitCode(%v) = %d, want %d", err, ExitCode(err), wire.ErrCodeNoSharedMemory)
	}
}

func TestMissingSharedFileWritesExitReport(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "exit-report.cbor")
	display := headless.New(headless.Options{FrameInterval: time.Millisecond})
	host := startAgent(t, display, Options{ExitReportPath: reportPath})

	host.send(&wire.Configure{
		Width: 100, Height: 100,
		Namespace:  "gone",
		BufferPath: filepath.Join(t.TempDir(), "never-created.buf"),
	})

	errorMsg, ok := host.receive().(*wire.Error)
	if !ok {
		t.Fatal("expected ERROR")
	}
	if errorMsg.Code != wire.ErrCodeSharedFileOpen {
		t.Fatalf("ERROR code %d, want %d", errorMsg.Code, wire.ErrCodeSharedFileOpen)
	}

	err := host.waitExit()
	var fatalErr *FatalError
	if !errors.As(err, &fatalErr) || fatalErr.Code != wire.ErrCodeSharedFileOpen {
		t.Fatalf("Run = %v, want FatalError code %d", err, wire.ErrCodeSharedFileOpen)
	}

	report, found, reportErr := exitreport.Check(reportPath, time.Minute)
	if reportErr != nil || !found {
		t.Fatalf("exit report: found=%v err=%v", found, reportErr)
	}
	if report.Code != wire.ErrCodeSharedFileOpen {
		t.Fatalf("report code %d, want %d", report.Code, wire.ErrCodeSharedFileOpen)
	}
}

func TestSurfaceClosedStopsAgent(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond})
	host := startAgent(t, display, Options{})
	buffer := newFrameFile(t, 64, 64)

	host.send(configureMessage(buffer, 64, 64))
	if _, ok := host.receive().(*wire.ConfigAck); !ok {
		t.Fatal("expected CFG_ACK")
	}

	display.CloseSurface()
	if err := host.waitExit(); err != nil {
		t.Fatalf("Run after surface close: %v", err)
	}
	// The agent's side of the pipe is closed, so the host read loop ends.
	testutil.RequireClosed(t, channelDone(host.incoming), testTimeout, "host connection EOF")
}

// channelDone adapts a message channel into a close-signal channel.
func channelDone(messages chan wire.Message) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range messages {
		}
		close(done)
	}()
	return done
}

func TestHostDisconnectStopsAgentCleanly(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond})
	host := startAgent(t, display, Options{})
	buffer := newFrameFile(t, 64, 64)

	host.send(configureMessage(buffer, 64, 64))
	if _, ok := host.receive().(*wire.ConfigAck); !ok {
		t.Fatal("expected CFG_ACK")
	}

	host.conn.Close()
	err := host.waitExit()
	// A clean EOF at a frame boundary is a shutdown, not a failure;
	// net.Pipe surfaces closure as io.ErrClosedPipe mid-read, which
	// the agent reports.
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Run after host disconnect: %v", err)
	}
}

func TestDialRetriesUntilListenerAppears(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")

	listenerReady := make(chan net.Listener, 1)
	go func() {
		time.Sleep(250 * time.Millisecond)
		listener, err := net.Listen("unix", socketPath)
		if err == nil {
			listenerReady <- listener
		}
	}()

	conn, err := Dial(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
	listener := testutil.RequireReceive(t, listenerReady, testTimeout, "listener")
	listener.Close()
}

func TestDialGivesUp(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "nobody-home.sock")
	if _, err := Dial(context.Background(), socketPath); err == nil {
		t.Fatal("Dial must fail when no listener ever appears")
	}
}
