// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrBadMagic reports a header whose magic field is not Magic. The
// stream is desynchronized or foreign; the connection must be closed.
var ErrBadMagic = errors.New("wire: bad magic")

// ErrOversized reports a header declaring a payload larger than
// MaxPayload.
var ErrOversized = errors.New("wire: payload length exceeds limit")

// ErrTruncated reports a payload shorter than its fields require: a
// declared length would read past the supplied bytes.
var ErrTruncated = errors.New("wire: truncated payload")

// Encode serializes a message into a complete frame: 12-byte header
// followed by the payload.
func Encode(m Message) []byte {
	payload := m.appendPayload(nil)
	frame := make([]byte, 0, HeaderSize+len(payload))
	frame = binary.LittleEndian.AppendUint32(frame, Magic)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(m.MessageType()))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	return append(frame, payload...)
}

// ParseHeader decodes the 12-byte frame header and validates the magic
// and the declared payload length. buf must be at least HeaderSize
// bytes.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: header needs %d bytes, have %d", HeaderSize, len(buf))
	}
	header := Header{
		Magic:  binary.LittleEndian.Uint32(buf[0:4]),
		Type:   Type(binary.LittleEndian.Uint32(buf[4:8])),
		Length: binary.LittleEndian.Uint32(buf[8:12]),
	}
	if header.Magic != Magic {
		return header, fmt.Errorf("%w: 0x%08x", ErrBadMagic, header.Magic)
	}
	if header.Length > MaxPayload {
		return header, fmt.Errorf("%w: %d bytes", ErrOversized, header.Length)
	}
	return header, nil
}

// Decode turns a validated header and its complete payload into a
// typed message. Unknown type tags decode to *Unknown rather than an
// error — the caller consumed the payload, so the stream is intact.
func Decode(header Header, payload []byte) (Message, error) {
	if uint32(len(payload)) != header.Length {
		return nil, fmt.Errorf("wire: payload is %d bytes, header declared %d", len(payload), header.Length)
	}
	switch header.Type {
	case TypeConfigure:
		return decodeConfigure(payload)
	case TypeConfigAck:
		r := payloadReader{data: payload}
		m := &ConfigAck{Width: r.i32(), Height: r.i32()}
		return m, r.finish()
	case TypeFrameReady:
		r := payloadReader{data: payload}
		m := &FrameReady{Seq: r.i64()}
		return m, r.finish()
	case TypeFrameDone:
		r := payloadReader{data: payload}
		m := &FrameDone{Seq: r.i64()}
		return m, r.finish()
	case TypePointerEvent:
		return decodePointerEvent(payload)
	case TypeKeyEvent:
		return decodeKeyEvent(payload)
	case TypeResize:
		r := payloadReader{data: payload}
		m := &Resize{Width: r.i32(), Height: r.i32()}
		return m, r.finish()
	case TypeShutdown:
		if len(payload) != 0 {
			return nil, fmt.Errorf("wire: SHUTDOWN carries %d payload bytes, want 0", len(payload))
		}
		return &Shutdown{}, nil
	case TypeError:
		r := payloadReader{data: payload}
		m := &Error{Code: r.i32(), Message: r.str()}
		return m, r.finish()
	}
	return &Unknown{Tag: header.Type, Payload: payload}, nil
}

// appendPayload implementations.

func (m *Configure) appendPayload(dst []byte) []byte {
	for _, v := range []int32{
		m.Layer, m.Anchor, m.ExclusiveZone, m.KeyboardMode,
		m.Width, m.Height,
		m.MarginTop, m.MarginRight, m.MarginBottom, m.MarginLeft,
	} {
		dst = appendInt32(dst, v)
	}
	dst = appendString(dst, m.Namespace)
	return appendString(dst, m.BufferPath)
}

func (m *ConfigAck) appendPayload(dst []byte) []byte {
	return appendInt32(appendInt32(dst, m.Width), m.Height)
}

func (m *FrameReady) appendPayload(dst []byte) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(m.Seq))
}

func (m *FrameDone) appendPayload(dst []byte) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(m.Seq))
}

func (m *PointerEvent) appendPayload(dst []byte) []byte {
	dst = appendInt32(dst, m.Kind)
	dst = appendFloat32(dst, m.X)
	dst = appendFloat32(dst, m.Y)
	dst = appendInt32(dst, m.Button)
	// The state field is only on the wire for button events; other
	// kinds use the short 16-byte form.
	if m.Kind == PointerButton {
		dst = appendInt32(dst, m.State)
	}
	return dst
}

func (m *KeyEvent) appendPayload(dst []byte) []byte {
	dst = appendInt32(dst, m.Keycode)
	dst = appendInt32(dst, m.State)
	dst = appendInt32(dst, m.Modifiers)
	return appendInt32(dst, m.Keysym)
}

func (m *Resize) appendPayload(dst []byte) []byte {
	return appendInt32(appendInt32(dst, m.Width), m.Height)
}

func (*Shutdown) appendPayload(dst []byte) []byte { return dst }

func (m *Error) appendPayload(dst []byte) []byte {
	return appendString(appendInt32(dst, m.Code), m.Message)
}

func (u *Unknown) appendPayload(dst []byte) []byte {
	return append(dst, u.Payload...)
}

// decodeConfigure handles both wire layouts: the current one with the
// four-margin block and the legacy one without. The margin layout is
// tried first; a payload only decodes under a layout when its string
// length prefixes consume the payload exactly, which disambiguates
// the two in practice.
func decodeConfigure(payload []byte) (*Configure, error) {
	if m, err := decodeConfigureLayout(payload, true); err == nil {
		return m, nil
	}
	return decodeConfigureLayout(payload, false)
}

func decodeConfigureLayout(payload []byte, withMargins bool) (*Configure, error) {
	r := payloadReader{data: payload}
	m := &Configure{
		Layer:         r.i32(),
		Anchor:        r.i32(),
		ExclusiveZone: r.i32(),
		KeyboardMode:  r.i32(),
		Width:         r.i32(),
		Height:        r.i32(),
	}
	if withMargins {
		m.MarginTop = r.i32()
		m.MarginRight = r.i32()
		m.MarginBottom = r.i32()
		m.MarginLeft = r.i32()
	}
	m.Namespace = r.str()
	m.BufferPath = r.str()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodePointerEvent(payload []byte) (*PointerEvent, error) {
	r := payloadReader{data: payload}
	m := &PointerEvent{
		Kind:   r.i32(),
		X:      r.f32(),
		Y:      r.f32(),
		Button: r.i32(),
	}
	if r.remaining() >= 4 {
		m.State = r.i32()
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeKeyEvent(payload []byte) (*KeyEvent, error) {
	r := payloadReader{data: payload}
	m := &KeyEvent{
		Keycode:   r.i32(),
		State:     r.i32(),
		Modifiers: r.i32(),
	}
	if r.remaining() >= 4 {
		m.Keysym = r.i32()
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return m, nil
}

// appendInt32 appends v in little-endian byte order.
func appendInt32(dst []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(v))
}

// appendFloat32 appends the IEEE 754 bits of v in little-endian order.
func appendFloat32(dst []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
}

// appendString appends a u32 length prefix followed by the UTF-8
// bytes of s.
func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// payloadReader is a cursor over a payload. The first overrun latches
// an error; subsequent reads return zero values so decoders can run
// straight through and check finish() once at the end.
type payloadReader struct {
	data []byte
	off  int
	err  error
}

func (r *payloadReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrTruncated, n, r.off, len(r.data))
		return nil
	}
	chunk := r.data[r.off : r.off+n]
	r.off += n
	return chunk
}

func (r *payloadReader) i32() int32 {
	chunk := r.take(4)
	if chunk == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(chunk))
}

func (r *payloadReader) i64() int64 {
	chunk := r.take(8)
	if chunk == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(chunk))
}

func (r *payloadReader) f32() float32 {
	chunk := r.take(4)
	if chunk == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(chunk))
}

func (r *payloadReader) str() string {
	length := r.i32()
	if r.err != nil {
		return ""
	}
	if length < 0 {
		r.err = fmt.Errorf("%w: negative string length %d", ErrTruncated, length)
		return ""
	}
	chunk := r.take(int(length))
	if chunk == nil {
		return ""
	}
	return string(chunk)
}

func (r *payloadReader) remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.data) - r.off
}

// finish returns the latched error, or an error if payload bytes were
// left unconsumed — a length mismatch either way.
func (r *payloadReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("wire: %d trailing payload bytes", len(r.data)-r.off)
	}
	return nil
}
