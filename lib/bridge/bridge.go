// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/waybridge-foundation/waybridge/lib/binhash"
	"github.com/waybridge-foundation/waybridge/lib/clock"
	"github.com/waybridge-foundation/waybridge/lib/compositor"
	"github.com/waybridge-foundation/waybridge/lib/config"
	"github.com/waybridge-foundation/waybridge/lib/exitreport"
	"github.com/waybridge-foundation/waybridge/lib/shmbuf"
	"github.com/waybridge-foundation/waybridge/lib/wire"
)

const (
	defaultAcceptTimeout = 5 * time.Second
	defaultAckTimeout    = 10 * time.Second
	defaultTickInterval  = 16 * time.Millisecond
	defaultExitWait      = 2 * time.Second

	// defaultGuessWidth and defaultGuessHeight size the shared buffer
	// before the compositor has confirmed dimensions, for surface
	// specs that leave an axis to the compositor. The buffer is
	// resized once CFG_ACK arrives.
	defaultGuessWidth  int32 = 640
	defaultGuessHeight int32 = 480

	// exitReportMaxAge bounds how old an exit report may be and still
	// be attributed to the current agent run.
	exitReportMaxAge = time.Minute
)

// RenderFunc produces one frame for the current surface size. Called
// only from the render loop goroutine. Returning nil skips the tick
// (nothing new to show). The returned slice must hold exactly
// width*height pixels in 0xAARRGGBB form.
type RenderFunc func(width, height int32) []uint32

// Options configures a Bridge.
type Options struct {
	// AgentBinary is the path of the agent executable. Required.
	AgentBinary string

	// AgentDigest optionally pins the agent binary; spawn fails if
	// the binary's SHA256 differs. Zero disables pinning.
	AgentDigest binhash.Digest

	// Driver selects the agent's display driver. Empty uses the
	// agent's default.
	Driver string

	// SocketDir is where the per-instance control socket, shared
	// pixel file, and exit report live. Default: os.TempDir(). Unix
	// socket paths are length-limited; keep it short.
	SocketDir string

	// AcceptTimeout bounds the wait for the spawned agent to connect
	// back. Default 5s.
	AcceptTimeout time.Duration

	// AckTimeout bounds the wait for CFG_ACK, which covers the
	// agent's compositor handshake. Default 10s.
	AckTimeout time.Duration

	// TickInterval is the render loop period. Default 16ms.
	TickInterval time.Duration

	// ExitWait bounds the wait for agent exit after SHUTDOWN before
	// the process is killed. Default 2s.
	ExitWait time.Duration

	// DefaultWidth and DefaultHeight size the shared buffer for axes
	// the surface spec leaves to the compositor. Defaults 640x480.
	DefaultWidth  int32
	DefaultHeight int32

	// Clock paces the render loop and timeouts. Default clock.Real().
	Clock clock.Clock

	// Logger receives structured diagnostics. Default slog.Default().
	Logger *slog.Logger

	// spawn is the test seam for running the agent in-process.
	spawn spawnFunc
}

// OptionsFromConfig translates a loaded configuration file into
// bridge options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AgentBinary:    cfg.Agent.Binary,
		AgentDigest:    cfg.PinnedDigest(),
		Driver:         cfg.Agent.Driver,
		SocketDir:      cfg.Agent.SocketDir,
		AcceptTimeout:  cfg.Timing.AcceptTimeout.Std(),
		AckTimeout:     cfg.Timing.AckTimeout.Std(),
		TickInterval:   cfg.Timing.TickInterval.Std(),
		ExitWait:       cfg.Timing.ExitWait.Std(),
	}
}

// resizeRequest is a compositor size change waiting for the render
// loop to rebuild the shared buffer.
type resizeRequest struct {
	width  int32
	height int32
}

// Bridge is one live agent session.
type Bridge struct {
	log  *slog.Logger
	clk  clock.Clock
	opts Options

	render RenderFunc

	socketPath     string
	exitReportPath string
	listener       *net.UnixListener
	conn           net.Conn
	proc           process
	buffer         *shmbuf.Buffer

	// recvStarted records whether receiveLoop was spawned; only it
	// closes recvDone, so waiting on the channel before then would
	// hang. Written and read on the Configure goroutine alone.
	recvStarted bool

	writeMu sync.Mutex
	writer  *wire.Writer

	state        atomic.Int32
	closing      atomic.Bool
	framePending atomic.Bool

	mu            sync.Mutex
	width         int32
	height        int32
	pendingResize *resizeRequest

	// seq is advanced only by the render loop; the receive loop reads
	// it to discard FRAME_DONE acknowledgments for abandoned frames.
	seq atomic.Int64

	ackCh      chan wire.ConfigAck
	events     chan Event
	stopRender chan struct{}
	recvDone   chan struct{}
	renderDone chan struct{}
	closeOnce  sync.Once
}

// Configure starts an agent session: listen, spawn, accept, handshake.
// On success the bridge is in StateRunning with both loops live. On
// failure everything started so far is torn down and an error
// returned; no Bridge escapes half-built.
func Configure(ctx context.Context, spec compositor.SurfaceSpec, render RenderFunc, opts Options) (*Bridge, error) {
	if opts.AgentBinary == "" {
		return nil, errors.New("bridge: Options.AgentBinary is required")
	}
	if opts.SocketDir == "" {
		opts.SocketDir = os.TempDir()
	}
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = defaultAcceptTimeout
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.ExitWait <= 0 {
		opts.ExitWait = defaultExitWait
	}
	if opts.DefaultWidth <= 0 {
		opts.DefaultWidth = defaultGuessWidth
	}
	if opts.DefaultHeight <= 0 {
		opts.DefaultHeight = defaultGuessHeight
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.spawn == nil {
		opts.spawn = spawnExec
	}

	binary, err := filepath.Abs(opts.AgentBinary)
	if err != nil {
		return nil, fmt.Errorf("resolving agent binary path: %w", err)
	}
	digest, err := binhash.Verify(binary, opts.AgentDigest)
	if err != nil {
		return nil, fmt.Errorf("verifying agent binary: %w", err)
	}

	instance := uuid.New().String()[:8]
	b := &Bridge{
		log:            opts.Logger.With("instance", instance),
		clk:            opts.Clock,
		opts:           opts,
		render:         render,
		socketPath:     filepath.Join(opts.SocketDir, "wb-"+instance+".sock"),
		exitReportPath: filepath.Join(opts.SocketDir, "wb-"+instance+".exit"),
		ackCh:          make(chan wire.ConfigAck, 1),
		events:         make(chan Event, 128),
		stopRender:     make(chan struct{}),
		recvDone:       make(chan struct{}),
		renderDone:     make(chan struct{}),
	}
	b.setState(StateStarting)
	b.log.Info("starting agent", "binary", binary, "digest", digest.String(), "socket", b.socketPath)

	// Stale leftovers from an earlier run under the same (improbable)
	// instance id would poison the handshake.
	os.Remove(b.socketPath)
	exitreport.Clear(b.exitReportPath)

	// Listen before spawning: the agent's connect retry is short, so
	// the socket must exist by the time it starts dialing.
	rawListener, err := net.Listen("unix", b.socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on control socket: %w", err)
	}
	b.listener = rawListener.(*net.UnixListener)

	proc, err := opts.spawn(ctx, binary, b.socketPath, opts.Driver, b.exitReportPath)
	if err != nil {
		b.failStartup()
		return nil, err
	}
	b.proc = proc

	if err := b.listener.SetDeadline(time.Now().Add(opts.AcceptTimeout)); err != nil {
		b.failStartup()
		return nil, fmt.Errorf("arming accept deadline: %w", err)
	}
	conn, err := b.listener.Accept()
	if err != nil {
		b.failStartup()
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, fmt.Errorf("agent did not connect within %v", opts.AcceptTimeout)
		}
		return nil, fmt.Errorf("accepting agent connection: %w", err)
	}
	b.conn = conn
	b.writer = wire.NewWriter(conn)

	guessWidth, guessHeight := spec.EffectiveSize()
	if guessWidth == 0 {
		guessWidth = opts.DefaultWidth
	}
	if guessHeight == 0 {
		guessHeight = opts.DefaultHeight
	}
	buffer, err := shmbuf.Create(opts.SocketDir, guessWidth, guessHeight)
	if err != nil {
		b.failStartup()
		return nil, fmt.Errorf("creating shared buffer: %w", err)
	}
	b.buffer = buffer
	b.width, b.height = guessWidth, guessHeight

	b.recvStarted = true
	go b.receiveLoop()

	configure := &wire.Configure{
		Layer:         int32(spec.Layer),
		Anchor:        int32(spec.Anchor),
		ExclusiveZone: spec.ExclusiveZone,
		KeyboardMode:  int32(spec.Keyboard),
		Width:         spec.Width,
		Height:        spec.Height,
		MarginTop:     spec.Margins.Top,
		MarginRight:   spec.Margins.Right,
		MarginBottom:  spec.Margins.Bottom,
		MarginLeft:    spec.Margins.Left,
		Namespace:     spec.Namespace,
		BufferPath:    buffer.Path(),
	}
	if err := b.send(configure); err != nil {
		b.failStartup()
		return nil, fmt.Errorf("sending CONFIGURE: %w", err)
	}

	var ack wire.ConfigAck
	select {
	case ack = <-b.ackCh:
	case <-b.clk.After(opts.AckTimeout):
		b.failStartup()
		return nil, fmt.Errorf("agent did not acknowledge CONFIGURE within %v", opts.AckTimeout)
	case <-b.recvDone:
		b.failStartup()
		return nil, errors.New("agent disconnected during CONFIGURE handshake")
	case <-ctx.Done():
		b.failStartup()
		return nil, ctx.Err()
	}

	if ack.Width != guessWidth || ack.Height != guessHeight {
		b.log.Info("compositor adjusted surface size",
			"requested_width", guessWidth, "requested_height", guessHeight,
			"width", ack.Width, "height", ack.Height)
		if err := buffer.Resize(ack.Width, ack.Height); err != nil {
			b.failStartup()
			return nil, fmt.Errorf("resizing shared buffer to confirmed size: %w", err)
		}
	}
	b.mu.Lock()
	b.width, b.height = ack.Width, ack.Height
	b.mu.Unlock()

	b.setState(StateConfigured)
	b.setState(StateRunning)
	b.log.Info("bridge running", "width", ack.Width, "height", ack.Height)

	go b.renderLoop()
	return b, nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Size returns the current surface dimensions.
func (b *Bridge) Size() (width, height int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width, b.height
}

// Events is the ordered stream of agent notifications. Closed by
// Close after the receive loop has drained.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Close shuts the session down: stop producing frames, ask the agent
// to exit, kill it if it lingers, release the buffer and socket.
// Idempotent; cleanup failures are logged, never returned.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closing.Store(true)
		close(b.stopRender)
		<-b.renderDone

		if err := b.send(&wire.Shutdown{}); err != nil {
			b.log.Debug("sending SHUTDOWN", "err", err)
		}
		select {
		case err := <-b.proc.Done():
			if err != nil {
				b.log.Warn("agent exit status", "err", err)
			}
		case <-b.clk.After(b.opts.ExitWait):
			b.log.Warn("agent did not exit, killing", "wait", b.opts.ExitWait)
			if err := b.proc.Kill(); err != nil {
				b.log.Warn("killing agent", "err", err)
			}
			<-b.proc.Done()
		}

		if err := b.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			b.log.Warn("closing agent connection", "err", err)
		}
		<-b.recvDone
		close(b.events)

		if err := b.buffer.Close(); err != nil {
			b.log.Warn("releasing shared buffer", "err", err)
		}
		if err := b.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			b.log.Warn("closing control socket", "err", err)
		}
		os.Remove(b.socketPath)
		exitreport.Clear(b.exitReportPath)

		b.setState(StateClosed)
		b.log.Info("bridge closed")
	})
	return nil
}

// failStartup tears down a partially built session. Only called from
// Configure before the bridge escapes to the caller.
func (b *Bridge) failStartup() {
	b.closing.Store(true)
	if b.proc != nil {
		if err := b.proc.Kill(); err != nil {
			b.log.Warn("killing agent during failed startup", "err", err)
		}
		<-b.proc.Done()
	}
	if b.conn != nil {
		b.conn.Close()
		if b.recvStarted {
			<-b.recvDone
		}
	}
	if b.buffer != nil {
		b.buffer.Close()
	}
	if b.listener != nil {
		b.listener.Close()
	}
	os.Remove(b.socketPath)
	exitreport.Clear(b.exitReportPath)
	b.setState(StateError)
}

// setState advances the lifecycle state. Terminal states are sticky.
func (b *Bridge) setState(next State) {
	for {
		current := State(b.state.Load())
		if current.terminal() {
			return
		}
		if b.state.CompareAndSwap(int32(current), int32(next)) {
			return
		}
	}
}

// send writes one message to the agent. Safe for concurrent use; the
// writer is shared by Configure, the render loop, and Close.
func (b *Bridge) send(m wire.Message) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.writer.Write(m)
}

// fail records a fatal condition: diagnostic event, then ERROR state.
func (b *Bridge) fail(code int32, message string) {
	b.emit(ErrorEvent{Code: code, Message: message})
	b.setState(StateError)
}

// emit delivers an event without ever blocking the receive loop. A
// consumer that stops draining loses events, not the session.
func (b *Bridge) emit(e Event) {
	select {
	case b.events <- e:
	default:
		b.log.Warn("event queue full, dropping", "type", fmt.Sprintf("%T", e))
	}
}
