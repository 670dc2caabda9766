// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package shmbuf

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is the agent-side view of the shared pixel file. The agent
// never allocates the file; it maps what the host created, at the
// dimensions the compositor confirmed. After a resize notification the
// old Mapping is garbage — close it and map fresh.
type Mapping struct {
	file   *os.File
	data   []byte
	width  int32
	height int32
	closed bool
}

// Map opens the pixel file at path and maps one frame at the given
// dimensions, shared and read-write (the display driver's buffer pool
// requires a writable fd even though the agent itself never writes
// pixels). The file must be at least one frame large; the host
// truncates it to exactly that, so a shortfall means host and agent
// disagree about the current size and mapping would fault.
func Map(path string, width, height int32) (*Mapping, error) {
	if err := validateDimensions(width, height); err != nil {
		return nil, err
	}
	size := frameBytes(width, height)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shmbuf: opening pixel file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shmbuf: stat %s: %w", path, err)
	}
	if info.Size() < int64(size) {
		file.Close()
		return nil, fmt.Errorf("shmbuf: %s is %d bytes, need %d for %dx%d", path, info.Size(), size, width, height)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shmbuf: mapping %s: %w", path, err)
	}
	return &Mapping{file: file, data: data, width: width, height: height}, nil
}

// Bytes returns the mapped frame bytes.
func (m *Mapping) Bytes() []byte { return m.data }

// File returns the underlying file, for handing to the display
// driver's shared-memory buffer pool.
func (m *Mapping) File() *os.File { return m.file }

// Size returns the mapped frame dimensions.
func (m *Mapping) Size() (width, height int32) { return m.width, m.height }

// Close unmaps the region and then closes the file descriptor, in
// that order. Idempotent.
func (m *Mapping) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var firstError error
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			firstError = fmt.Errorf("shmbuf: unmap: %w", err)
		}
		m.data = nil
	}
	if err := m.file.Close(); err != nil && firstError == nil {
		firstError = fmt.Errorf("shmbuf: close: %w", err)
	}
	return firstError
}
