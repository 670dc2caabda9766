// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package shmbuf manages the shared pixel file through which frames
// travel from the host to the compositor agent.
//
// The file holds exactly width*height*4 bytes: one frame, 32-bit
// pixels in B,G,R,A byte order, row-major, no row padding. The byte
// order is a wire-level contract — it holds on every host regardless
// of CPU endianness, which is why Write performs an explicit per-byte
// swizzle instead of a bulk copy.
//
// The host side (Buffer) owns the file: it creates it, writes frames
// into it, resizes it, and removes it on close. The agent side
// (Mapping) only ever maps an existing file at a path the host handed
// over, and maps it fresh after every acknowledged configure or
// resize — a mapping from before a resize refers to dead storage.
//
// There is deliberately no locking on the region. Exactly one process
// writes and one reads, and the FRAME_READY/FRAME_DONE turn-taking in
// the wire protocol is the entire synchronization mechanism.
package shmbuf
