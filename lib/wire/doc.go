// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the binary protocol spoken between the host
// bridge and the compositor agent over their Unix socket.
//
// Every message is framed as a fixed 12-byte header (magic, type tag,
// payload length, all little-endian) followed by the payload. Variable
// length fields inside payloads are u32 length-prefixed UTF-8. The
// framing is deliberately dumb: no versioning handshake, no
// compression, no self-description. Both endpoints are shipped
// together, so the only compatibility concern is the handful of
// optional trailing fields (CONFIGURE margins, POINTER_EVENT state,
// KEY_EVENT keysym) that older peers omit.
//
// Encode and Decode are pure functions over byte slices. Reader and
// Writer add stream framing on top for io.Reader/io.Writer transports.
// A mismatched magic or a header that declares an oversized payload is
// a protocol violation: the stream cannot be trusted to recover
// mid-message, so both are fatal to the connection. An unknown type
// tag is not — the payload length is still honored, the bytes are
// consumed, and the message surfaces as *Unknown for the caller to
// log.
package wire
