// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"io"
)

// Reader decodes framed messages from a byte stream. Not safe for
// concurrent use; each connection end owns exactly one Reader.
type Reader struct {
	source *bufio.Reader
	header [HeaderSize]byte
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{source: bufio.NewReader(r)}
}

// Next reads one complete frame and decodes it. io.EOF is returned
// only at a clean frame boundary; a stream that ends mid-frame yields
// io.ErrUnexpectedEOF. Header validation failures (ErrBadMagic,
// ErrOversized) and decode failures are fatal to the stream — the
// framing can no longer be trusted.
func (r *Reader) Next() (Message, error) {
	if _, err := io.ReadFull(r.source, r.header[:]); err != nil {
		return nil, err
	}
	header, err := ParseHeader(r.header[:])
	if err != nil {
		return nil, err
	}
	var payload []byte
	if header.Length > 0 {
		payload = make([]byte, header.Length)
		if _, err := io.ReadFull(r.source, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return Decode(header, payload)
}

// Writer encodes framed messages onto a byte stream. Not safe for
// concurrent use; callers that write from multiple goroutines must
// serialize externally.
type Writer struct {
	sink *bufio.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{sink: bufio.NewWriter(w)}
}

// Write encodes m and flushes it to the underlying stream. Each
// message is flushed individually: the protocol is interactive and a
// buffered FRAME_READY or FRAME_DONE would stall both loops.
func (w *Writer) Write(m Message) error {
	if _, err := w.sink.Write(Encode(m)); err != nil {
		return err
	}
	return w.sink.Flush()
}
