// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash identifies agent binaries by content digest.
//
// The host spawns the agent binary with full display and input
// access, so the bridge records the SHA256 of what it actually
// executed and can optionally pin the binary to an expected digest
// from configuration. A pinned digest catches a half-finished install
// or a substituted binary before it ever touches the compositor.
package binhash
