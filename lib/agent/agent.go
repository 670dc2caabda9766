// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/waybridge-foundation/waybridge/lib/clock"
	"github.com/waybridge-foundation/waybridge/lib/compositor"
	"github.com/waybridge-foundation/waybridge/lib/exitreport"
	"github.com/waybridge-foundation/waybridge/lib/wire"
)

const (
	// dialAttempts and dialInterval bound the connect retry. The host
	// listens immediately before spawning the agent, so the socket is
	// normally there on the first attempt; the retry covers a host
	// that is slow to reach Listen under load.
	dialAttempts = 10
	dialInterval = 100 * time.Millisecond

	// defaultConfigureWait bounds the initial configure round-trip
	// with the compositor.
	defaultConfigureWait = 5 * time.Second

	// housekeepingInterval paces the loop's periodic flush and debug
	// accounting when nothing else is happening.
	housekeepingInterval = 5 * time.Second
)

// FatalError is an agent failure with a protocol diagnostic code. The
// code is sent to the host in an ERROR message, recorded in the exit
// report, and used as the process exit status.
type FatalError struct {
	Code int32
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("agent fatal (code %d): %v", e.Code, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// fatal wraps err with a diagnostic code.
func fatal(code int32, err error) *FatalError {
	return &FatalError{Code: code, Err: err}
}

// ExitCode maps a Run result to a process exit status: 0 for nil,
// the diagnostic code for a FatalError, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var fatalErr *FatalError
	if errors.As(err, &fatalErr) {
		return int(fatalErr.Code)
	}
	return 1
}

// Options configures Run.
type Options struct {
	// Display is the driver connection the agent works against.
	// Required.
	Display compositor.Display

	// Clock paces the configure wait and the housekeeping tick.
	// Default: clock.Real().
	Clock clock.Clock

	// Logger receives structured progress and diagnostics. Default:
	// slog.Default().
	Logger *slog.Logger

	// ConfigureWait bounds the initial configure round-trip. Default
	// 5s.
	ConfigureWait time.Duration

	// ExitReportPath, when non-empty, is where fatal errors are
	// recorded for the host to read after a bare disconnect.
	ExitReportPath string
}

// Dial connects to the host's control socket. The host listens before
// spawning the agent, so a missing socket is retried briefly rather
// than treated as fatal.
func Dial(ctx context.Context, socketPath string) (net.Conn, error) {
	var dialer net.Dialer
	var lastErr error
	for attempt := 0; attempt < dialAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(dialInterval):
			}
		}
		conn, err := dialer.DialContext(ctx, "unix", socketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("connecting to host socket %s: %w", socketPath, lastErr)
}

// Run drives the agent until shutdown or failure. It takes ownership
// of conn and the display: both are closed before Run returns. A nil
// return means a clean shutdown (SHUTDOWN message, surface closed by
// the compositor, or context cancellation).
func Run(ctx context.Context, conn net.Conn, opts Options) error {
	if opts.Display == nil {
		return errors.New("agent: Options.Display is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ConfigureWait <= 0 {
		opts.ConfigureWait = defaultConfigureWait
	}

	s := &session{
		display:       opts.Display,
		conn:          conn,
		reader:        wire.NewReader(conn),
		writer:        wire.NewWriter(conn),
		clock:         opts.Clock,
		log:           opts.Logger,
		configureWait: opts.ConfigureWait,
	}

	err := s.run(ctx)

	var fatalErr *FatalError
	if errors.As(err, &fatalErr) {
		// Best-effort: the transport may already be down, which is
		// exactly what the exit report exists for.
		if sendErr := s.send(&wire.Error{Code: fatalErr.Code, Message: fatalErr.Err.Error()}); sendErr != nil {
			s.log.Debug("error message not delivered", "err", sendErr)
		}
		if opts.ExitReportPath != "" {
			report := exitreport.Report{
				Code:      fatalErr.Code,
				Message:   fatalErr.Err.Error(),
				Timestamp: time.Now(),
			}
			if writeErr := exitreport.Write(opts.ExitReportPath, report); writeErr != nil {
				s.log.Warn("writing exit report", "err", writeErr)
			}
		}
	}

	s.teardown()
	return err
}

// checkCapabilities verifies the driver offers everything the
// protocol cannot work without. Each missing capability has its own
// diagnostic code so the host can tell the operator exactly what the
// environment lacks.
func (s *session) checkCapabilities() error {
	checks := []struct {
		capability compositor.Capability
		code       int32
	}{
		{compositor.CapabilitySurface, wire.ErrCodeNoSurface},
		{compositor.CapabilitySharedMemory, wire.ErrCodeNoSharedMemory},
		{compositor.CapabilityLayerShell, wire.ErrCodeNoLayerShell},
	}
	for _, check := range checks {
		if !s.display.Supports(check.capability) {
			return fatal(check.code, fmt.Errorf("display lacks %s capability", check.capability))
		}
	}
	// Keymap support is optional: key events carry keysym 0 without it.
	if !s.display.Supports(compositor.CapabilityKeymap) {
		s.log.Debug("driver has no keymap support, key symbols will be zero")
	}
	return nil
}
