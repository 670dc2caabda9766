// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package shmbuf

import (
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// BytesPerPixel is the fixed pixel stride: 32-bit B,G,R,A.
const BytesPerPixel = 4

// frameBytes returns the byte size of one frame at the given
// dimensions.
func frameBytes(width, height int32) int {
	return int(width) * int(height) * BytesPerPixel
}

// validateDimensions rejects non-positive sizes and sizes whose frame
// would not fit in an int on this platform.
func validateDimensions(width, height int32) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("shmbuf: invalid dimensions %dx%d", width, height)
	}
	if pixels := int64(width) * int64(height); pixels > math.MaxInt/BytesPerPixel {
		return fmt.Errorf("shmbuf: frame %dx%d does not fit in memory", width, height)
	}
	return nil
}

// Buffer is the host-owned shared frame buffer. Created once per
// bridge session, resized in place when the compositor changes the
// surface dimensions, and removed from disk on Close.
//
// Buffer is not safe for concurrent use. The bridge's render loop is
// the single writer; it alone calls Write, and Resize only runs when
// no Write is in flight.
type Buffer struct {
	file   *os.File
	path   string
	data   []byte
	width  int32
	height int32
	closed bool
}

// Create allocates the shared pixel file in dir, truncates it to one
// frame at the given dimensions, and maps it read-write.
func Create(dir string, width, height int32) (*Buffer, error) {
	if err := validateDimensions(width, height); err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(dir, "frame-*.buf")
	if err != nil {
		return nil, fmt.Errorf("shmbuf: creating pixel file: %w", err)
	}

	buffer := &Buffer{file: file, path: file.Name()}
	if err := buffer.remap(width, height); err != nil {
		file.Close()
		os.Remove(buffer.path)
		return nil, err
	}
	return buffer, nil
}

// remap truncates the file to the new frame size and maps it. Any
// existing mapping must already be released.
func (b *Buffer) remap(width, height int32) error {
	size := frameBytes(width, height)
	if err := b.file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("shmbuf: truncating %s to %d bytes: %w", b.path, size, err)
	}
	data, err := unix.Mmap(int(b.file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shmbuf: mapping %s: %w", b.path, err)
	}
	b.data = data
	b.width = width
	b.height = height
	return nil
}

// Path returns the filesystem path of the pixel file. This is what
// the host sends in CONFIGURE for the agent to map.
func (b *Buffer) Path() string { return b.path }

// Size returns the current frame dimensions.
func (b *Buffer) Size() (width, height int32) { return b.width, b.height }

// Write copies one frame into the shared region. pixels must hold
// exactly width*height values; anything else is a caller error and
// nothing is written. Each pixel is a 0xAARRGGBB word in the engine's
// native packing; the swizzle to B,G,R,A bytes happens here so the
// boundary contract is identical on every host.
func (b *Buffer) Write(pixels []uint32) error {
	if b.closed {
		return fmt.Errorf("shmbuf: write on closed buffer")
	}
	expected := int(b.width) * int(b.height)
	if len(pixels) != expected {
		return fmt.Errorf("shmbuf: frame is %d pixels, buffer is %dx%d (%d)", len(pixels), b.width, b.height, expected)
	}
	data := b.data
	for i, pixel := range pixels {
		offset := i * BytesPerPixel
		data[offset] = byte(pixel)         // blue
		data[offset+1] = byte(pixel >> 8)  // green
		data[offset+2] = byte(pixel >> 16) // red
		data[offset+3] = byte(pixel >> 24) // alpha
	}
	return nil
}

// Resize releases the current mapping and rebuilds the file and
// mapping at the new dimensions. The old mapping is fully unmapped
// before the new one is created — two live mappings of different
// sizes over the same file must never coexist. The caller guarantees
// no Write is in flight.
func (b *Buffer) Resize(width, height int32) error {
	if b.closed {
		return fmt.Errorf("shmbuf: resize on closed buffer")
	}
	if err := validateDimensions(width, height); err != nil {
		return err
	}
	if width == b.width && height == b.height {
		return nil
	}
	if err := unix.Munmap(b.data); err != nil {
		return fmt.Errorf("shmbuf: unmapping before resize: %w", err)
	}
	b.data = nil
	if err := b.remap(width, height); err != nil {
		b.closed = true
		b.file.Close()
		os.Remove(b.path)
		return err
	}
	return nil
}

// Close unmaps the region, closes the file, and removes it from disk.
// Idempotent. The first error encountered is returned, but cleanup
// continues past failures.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	var firstError error
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil && firstError == nil {
			firstError = fmt.Errorf("shmbuf: unmap: %w", err)
		}
		b.data = nil
	}
	if err := b.file.Close(); err != nil && firstError == nil {
		firstError = fmt.Errorf("shmbuf: close: %w", err)
	}
	if err := os.Remove(b.path); err != nil && firstError == nil {
		firstError = fmt.Errorf("shmbuf: remove: %w", err)
	}
	return firstError
}
