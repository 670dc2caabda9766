// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so the bridge's render cadence and the
// agent's timeouts are deterministic under test. Production code
// injects Real(); tests inject Fake() and drive it with Advance.
//
// Code in this module never calls time.Now, time.After, time.Sleep,
// or time.NewTicker directly on a code path a test needs to control —
// it takes a Clock instead.
package clock
