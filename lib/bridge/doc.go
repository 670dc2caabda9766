// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the host side of the rendering bridge:
// it spawns the compositor agent, hands it a surface description,
// feeds it frames through a shared pixel file, and surfaces input and
// lifecycle events back to the embedding application.
//
// A Bridge is built by Configure, which runs the whole startup
// sequence: listen on a per-instance control socket, spawn the agent,
// accept its connection, send CONFIGURE, and wait for the
// compositor-confirmed size. After that two goroutines do the work: a
// receive loop that routes agent messages, and a render loop that
// calls the host's render callback on a fixed tick and publishes
// frames with FRAME_READY.
//
// Frame flow is self-pacing. The render loop skips ticks while a
// FRAME_READY is unacknowledged, so at most one frame is ever in
// flight and the shared buffer is never rewritten while the
// compositor may still be reading it. No lock guards the pixel data;
// the FRAME_READY/FRAME_DONE turn-taking is the entire mechanism.
package bridge
