// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package exitreport provides the agent's last-gasp failure record.
//
// The protocol's ERROR message only works while the socket does: a
// compositor failure that takes the connection down with it leaves the
// host with a bare EOF and no cause. Before exiting on a fatal error,
// the agent writes a small CBOR report to a well-known path; when the
// host sees the connection drop without a preceding ERROR or SHUTDOWN,
// it checks for a fresh report to recover the exit code and message.
//
// The report is written atomically (write to a temporary file, fsync,
// rename) so the host never sees a partial record. Staleness checking
// via Check prevents acting on a report left behind by an earlier
// agent run.
package exitreport

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/waybridge-foundation/waybridge/lib/codec"
)

// Report records why an agent process exited.
type Report struct {
	// Code is the protocol error code the agent exited with, matching
	// the wire package's ErrCode values and the process exit status.
	Code int32 `cbor:"code"`

	// Message is a human-readable description of the failure.
	Message string `cbor:"message"`

	// Timestamp is when the report was written. Used by Check to
	// discard reports from earlier runs.
	Timestamp time.Time `cbor:"timestamp"`
}

// Write atomically writes a report file. The file is written to a
// temporary location in the same directory, fsynced for durability,
// and renamed into place. Readers never see a partial write.
//
// The file is created with mode 0600. The parent directory must
// already exist.
func Write(path string, report Report) error {
	data, err := codec.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling exit report: %w", err)
	}

	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary exit report: %w", err)
	}

	// Write, sync, close, in that order. If any step fails, remove the
	// temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary exit report: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary exit report: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary exit report: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming exit report into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss
	// between rename and the OS flushing directory metadata.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}

// Read reads and parses a report file. When the file does not exist,
// the returned error wraps os.ErrNotExist (testable with errors.Is).
func Read(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}

	var report Report
	if err := codec.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("parsing exit report %s: %w", path, err)
	}
	return report, nil
}

// Check reads a report file and verifies it was written recently
// enough to belong to the current agent run. Returns the report and
// true when the file exists and its Timestamp is within maxAge of
// now. Returns a zero Report and false when the file does not exist
// or is older than maxAge.
//
// Any other error (permission denied, corrupt data) is returned as-is
// so the caller can distinguish "no report" from "report exists but
// unreadable".
func Check(path string, maxAge time.Duration) (Report, bool, error) {
	report, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, false, nil
		}
		return Report{}, false, err
	}

	if time.Since(report.Timestamp) > maxAge {
		return Report{}, false, nil
	}

	return report, true, nil
}

// Clear removes a report file. Idempotent: returns nil when the file
// does not exist.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing exit report: %w", err)
	}
	return nil
}
