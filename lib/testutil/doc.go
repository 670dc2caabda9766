// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for waybridge
// packages.
package testutil
