// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waybridge-foundation/waybridge/lib/agent"
	"github.com/waybridge-foundation/waybridge/lib/clock"
	"github.com/waybridge-foundation/waybridge/lib/compositor"
	"github.com/waybridge-foundation/waybridge/lib/compositor/headless"
	"github.com/waybridge-foundation/waybridge/lib/config"
	"github.com/waybridge-foundation/waybridge/lib/testutil"
	"github.com/waybridge-foundation/waybridge/lib/wire"
)

const testTimeout = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProcess is the in-process stand-in for a forked agent binary.
type fakeProcess struct {
	cancel context.CancelFunc
	done   chan error
}

func (p *fakeProcess) Done() <-chan error { return p.done }
func (p *fakeProcess) Kill() error        { p.cancel(); return nil }

// inProcessAgent returns a spawn function that runs the real agent
// loop against the given display, inside the test process, over the
// real unix socket.
func inProcessAgent(display compositor.Display) spawnFunc {
	return func(ctx context.Context, binary, socketPath, driver, exitReportPath string) (process, error) {
		runCtx, cancel := context.WithCancel(context.Background())
		proc := &fakeProcess{cancel: cancel, done: make(chan error, 1)}
		go func() {
			conn, err := agent.Dial(runCtx, socketPath)
			if err != nil {
				proc.done <- err
				return
			}
			proc.done <- agent.Run(runCtx, conn, agent.Options{
				Display:        display,
				Logger:         quietLogger(),
				ExitReportPath: exitReportPath,
			})
		}()
		return proc, nil
	}
}

// idleAgent connects and then does nothing, for timeout tests.
func idleAgent() spawnFunc {
	return func(ctx context.Context, binary, socketPath, driver, exitReportPath string) (process, error) {
		runCtx, cancel := context.WithCancel(context.Background())
		proc := &fakeProcess{cancel: cancel, done: make(chan error, 1)}
		go func() {
			conn, err := agent.Dial(runCtx, socketPath)
			if err != nil {
				proc.done <- err
				return
			}
			defer conn.Close()
			<-runCtx.Done()
			proc.done <- nil
		}()
		return proc, nil
	}
}

func dummyBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waybridge-agent")
	if err := os.WriteFile(path, []byte("#!/bin/true\n"), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func testOptions(t *testing.T, spawn spawnFunc) Options {
	t.Helper()
	return Options{
		AgentBinary:  dummyBinary(t),
		SocketDir:    testutil.SocketDir(t),
		TickInterval: time.Millisecond,
		Logger:       quietLogger(),
		spawn:        spawn,
	}
}

func solidRender(calls *atomic.Int64) RenderFunc {
	return func(width, height int32) []uint32 {
		calls.Add(1)
		pixels := make([]uint32, int(width)*int(height))
		for i := range pixels {
			pixels[i] = 0xFF336699
		}
		return pixels
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHappyPath(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond})
	var renderCalls atomic.Int64

	b, err := Configure(context.Background(),
		compositor.SurfaceSpec{Width: 320, Height: 240, Namespace: "bridge-test"},
		solidRender(&renderCalls), testOptions(t, inProcessAgent(display)))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer b.Close()

	if got := b.State(); got != StateRunning {
		t.Fatalf("State() = %s, want running", got)
	}
	width, height := b.Size()
	if width != 320 || height != 240 {
		t.Fatalf("Size() = %dx%d, want 320x240", width, height)
	}

	waitFor(t, "frames to flow", func() bool { return renderCalls.Load() >= 3 })

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after Close = %s, want closed", got)
	}
	// Events drains and closes after Close.
	for range b.Events() {
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond})
	var renderCalls atomic.Int64

	b, err := Configure(context.Background(),
		compositor.SurfaceSpec{Width: 64, Height: 64},
		solidRender(&renderCalls), testOptions(t, inProcessAgent(display)))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestInputEventsReachHost(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond, Keymap: true})
	var renderCalls atomic.Int64

	b, err := Configure(context.Background(),
		compositor.SurfaceSpec{Width: 100, Height: 100},
		solidRender(&renderCalls), testOptions(t, inProcessAgent(display)))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer b.Close()

	display.EmitPointerMotion(10, 20)
	display.EmitKey(30, wire.KeyPressed, 0x71, 0)

	pointer, ok := testutil.RequireReceive(t, b.Events(), testTimeout, "pointer event").(PointerEvent)
	if !ok {
		t.Fatal("expected PointerEvent first")
	}
	if pointer.Kind != wire.PointerMotion || pointer.X != 10 || pointer.Y != 20 {
		t.Fatalf("unexpected pointer event %+v", pointer)
	}
	key, ok := testutil.RequireReceive(t, b.Events(), testTimeout, "key event").(KeyEvent)
	if !ok {
		t.Fatal("expected KeyEvent second")
	}
	if key.Keycode != 30 || key.Keysym != 0x71 {
		t.Fatalf("unexpected key event %+v", key)
	}
}

func TestCompositorResize(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond})
	var renderCalls atomic.Int64
	var lastWidth, lastHeight atomic.Int32
	render := func(width, height int32) []uint32 {
		renderCalls.Add(1)
		lastWidth.Store(width)
		lastHeight.Store(height)
		return make([]uint32, int(width)*int(height))
	}

	b, err := Configure(context.Background(),
		compositor.SurfaceSpec{Width: 200, Height: 150},
		render, testOptions(t, inProcessAgent(display)))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer b.Close()

	waitFor(t, "first frames", func() bool { return renderCalls.Load() >= 2 })
	display.Reconfigure(400, 300)

	resize, ok := testutil.RequireReceive(t, b.Events(), testTimeout, "resize event").(ResizeEvent)
	if !ok {
		t.Fatal("expected ResizeEvent")
	}
	if resize.Width != 400 || resize.Height != 300 {
		t.Fatalf("ResizeEvent %dx%d, want 400x300", resize.Width, resize.Height)
	}

	waitFor(t, "render at new size", func() bool {
		return lastWidth.Load() == 400 && lastHeight.Load() == 300
	})
	width, height := b.Size()
	if width != 400 || height != 300 {
		t.Fatalf("Size() = %dx%d, want 400x300", width, height)
	}
}

func TestMissingCapabilityFailsConfigure(t *testing.T) {
	display := headless.New(headless.Options{
		FrameInterval: time.Millisecond,
		Missing:       []compositor.Capability{compositor.CapabilityLayerShell},
	})
	var renderCalls atomic.Int64

	b, err := Configure(context.Background(),
		compositor.SurfaceSpec{Width: 64, Height: 64},
		solidRender(&renderCalls), testOptions(t, inProcessAgent(display)))
	if err == nil {
		b.Close()
		t.Fatal("Configure must fail when the agent lacks layer-shell")
	}
}

func TestAckTimeout(t *testing.T) {
	fake := clock.Fake(time.Now())
	opts := testOptions(t, idleAgent())
	opts.Clock = fake
	opts.AckTimeout = 10 * time.Second

	result := make(chan error, 1)
	go func() {
		b, err := Configure(context.Background(),
			compositor.SurfaceSpec{Width: 64, Height: 64}, nil, opts)
		if err == nil {
			b.Close()
		}
		result <- err
	}()

	fake.WaitForTimers(1)
	fake.Advance(10 * time.Second)

	err := testutil.RequireReceive(t, result, testTimeout, "Configure result")
	if err == nil || !strings.Contains(err.Error(), "did not acknowledge") {
		t.Fatalf("Configure = %v, want ack timeout", err)
	}
}

func TestAgentDeathEntersErrorState(t *testing.T) {
	display := headless.New(headless.Options{FrameInterval: time.Millisecond})
	var renderCalls atomic.Int64

	b, err := Configure(context.Background(),
		compositor.SurfaceSpec{Width: 64, Height: 64},
		solidRender(&renderCalls), testOptions(t, inProcessAgent(display)))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer b.Close()

	// Simulate the compositor tearing the surface down: the agent
	// exits cleanly and the host loses the connection.
	display.CloseSurface()

	waitFor(t, "error state", func() bool { return b.State() == StateError })
	var sawError bool
	for !sawError {
		event := testutil.RequireReceive(t, b.Events(), testTimeout, "error event")
		if _, ok := event.(ErrorEvent); ok {
			sawError = true
		}
	}
}

// scriptedAgent speaks the raw wire protocol so tests can control
// exactly when (and whether) FRAME_DONE is sent. It acks CONFIGURE at
// the requested size, reports every FRAME_READY sequence on frameSeqs,
// requests a resize after the first frame, and after the second frame
// acknowledges the first — a vsync callback for the abandoned
// pre-resize frame firing late.
func scriptedAgent(frameSeqs chan<- int64) spawnFunc {
	return func(ctx context.Context, binary, socketPath, driver, exitReportPath string) (process, error) {
		runCtx, cancel := context.WithCancel(context.Background())
		proc := &fakeProcess{cancel: cancel, done: make(chan error, 1)}
		go func() {
			conn, err := agent.Dial(runCtx, socketPath)
			if err != nil {
				proc.done <- err
				return
			}
			defer conn.Close()
			reader := wire.NewReader(conn)
			writer := wire.NewWriter(conn)
			frames := 0
			for {
				message, err := reader.Next()
				if err != nil {
					proc.done <- nil
					return
				}
				switch msg := message.(type) {
				case *wire.Configure:
					writer.Write(&wire.ConfigAck{Width: 64, Height: 64})
				case *wire.FrameReady:
					frames++
					frameSeqs <- msg.Seq
					switch frames {
					case 1:
						writer.Write(&wire.Resize{Width: 128, Height: 96})
					case 2:
						writer.Write(&wire.FrameDone{Seq: 1})
					}
				case *wire.Shutdown:
					proc.done <- nil
					return
				}
			}
		}()
		return proc, nil
	}
}

func TestStaleFrameDoneKeepsBackpressure(t *testing.T) {
	frameSeqs := make(chan int64, 16)
	var renderCalls atomic.Int64

	b, err := Configure(context.Background(),
		compositor.SurfaceSpec{Width: 64, Height: 64},
		solidRender(&renderCalls), testOptions(t, scriptedAgent(frameSeqs)))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer b.Close()

	first := testutil.RequireReceive(t, frameSeqs, testTimeout, "first FRAME_READY")
	second := testutil.RequireReceive(t, frameSeqs, testTimeout, "FRAME_READY after resize")
	if second != first+1 {
		t.Fatalf("frame sequence jumped from %d to %d", first, second)
	}
	// Frame `second` was never completed; the stale FRAME_DONE for
	// `first` must not unlock a third frame into the shared buffer.
	testutil.RequireNoReceive(t, frameSeqs, 250*time.Millisecond,
		"FRAME_READY unlocked by a stale FRAME_DONE")
}

func TestBufferCreateFailureFailsFast(t *testing.T) {
	dir := testutil.SocketDir(t)
	spawn := func(ctx context.Context, binary, socketPath, driver, exitReportPath string) (process, error) {
		runCtx, cancel := context.WithCancel(context.Background())
		proc := &fakeProcess{cancel: cancel, done: make(chan error, 1)}
		conn, err := agent.Dial(runCtx, socketPath)
		if err != nil {
			cancel()
			return nil, err
		}
		// Yank the directory out from under the shared buffer. The
		// established connection survives; buffer creation cannot.
		os.RemoveAll(dir)
		go func() {
			defer conn.Close()
			<-runCtx.Done()
			proc.done <- nil
		}()
		return proc, nil
	}

	opts := testOptions(t, spawn)
	opts.SocketDir = dir

	result := make(chan error, 1)
	go func() {
		b, err := Configure(context.Background(),
			compositor.SurfaceSpec{Width: 64, Height: 64}, nil, opts)
		if err == nil {
			b.Close()
		}
		result <- err
	}()

	err := testutil.RequireReceive(t, result, testTimeout, "Configure result")
	if err == nil || !strings.Contains(err.Error(), "shared buffer") {
		t.Fatalf("Configure = %v, want shared buffer creation failure", err)
	}
}

func TestBinaryPinMismatchFailsFast(t *testing.T) {
	opts := testOptions(t, idleAgent())
	wrong := [32]byte{1, 2, 3}
	opts.AgentDigest = wrong

	_, err := Configure(context.Background(),
		compositor.SurfaceSpec{Width: 64, Height: 64}, nil, opts)
	if err == nil || !strings.Contains(err.Error(), "digest") {
		t.Fatalf("Configure = %v, want digest mismatch", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Binary = "/usr/lib/waybridge/waybridge-agent"
	cfg.Agent.Driver = "headless"
	cfg.Timing.TickInterval = config.Duration(8 * time.Millisecond)

	opts := OptionsFromConfig(cfg)
	if opts.AgentBinary != cfg.Agent.Binary {
		t.Errorf("AgentBinary = %q", opts.AgentBinary)
	}
	if opts.TickInterval != 8*time.Millisecond {
		t.Errorf("TickInterval = %v", opts.TickInterval)
	}
	if !opts.AgentDigest.IsZero() {
		t.Errorf("AgentDigest should be zero when unpinned")
	}
}
