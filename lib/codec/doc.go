// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides waybridge's standard CBOR encoding
// configuration.
//
// The framed protocol between host and agent has its own hand-rolled
// binary layout (lib/wire); CBOR is used for everything structured
// around it: the agent's on-disk exit report and configuration
// snapshots embedded in diagnostics. This package holds the shared
// encoding and decoding modes so every package encodes identically
// without duplicating configuration. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. Same logical data
// always produces identical bytes.
//
// For buffer-oriented operations (files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec
