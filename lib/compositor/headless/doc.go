// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package headless implements a compositor.Display with no display
// system behind it. It simulates the parts of a layer-shell
// compositor the agent's state machine depends on: the initial
// configure round-trip (resolving zero axes to a fixed output size),
// per-commit one-shot frame callbacks on a vsync-like interval,
// mid-session reconfigures, and surface closure.
//
// It serves two audiences. Tests drive it directly through the Emit,
// Reconfigure, and CloseSurface hooks to script compositor behavior
// deterministically. Hosts without a real compositor (CI, soak runs)
// select it with --driver headless on the agent binary, where it
// paces the bridge at a steady simulated refresh rate.
//
// It registers itself as driver "headless" with default options.
package headless
