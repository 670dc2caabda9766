// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "fmt"

// Magic identifies waybridge protocol frames. A header carrying any
// other value means the stream is not speaking this protocol (or has
// desynchronized) and the connection must be torn down.
const Magic uint32 = 0x56495244

// HeaderSize is the fixed size of the message header in bytes:
// magic (4) + type (4) + payload length (4).
const HeaderSize = 12

// MaxPayload caps the declared payload length a peer may send.
// The largest legitimate message is a CONFIGURE carrying a namespace
// and a filesystem path; 1 MiB is orders of magnitude above that and
// exists purely to stop a corrupt or hostile header from driving a
// huge allocation.
const MaxPayload = 1 << 20

// Type is the message type tag carried in the header.
type Type uint32

// Message type tags. Host→agent: CONFIGURE, FRAME_READY, SHUTDOWN.
// Agent→host: everything else.
const (
	TypeConfigure    Type = 0x01
	TypeConfigAck    Type = 0x02
	TypeFrameReady   Type = 0x03
	TypeFrameDone    Type = 0x04
	TypePointerEvent Type = 0x05
	TypeKeyEvent     Type = 0x06
	TypeResize       Type = 0x07
	TypeShutdown     Type = 0x08
	TypeError        Type = 0x09
)

// String returns the protocol name of the type tag, or a hex rendering
// for tags this build does not know.
func (t Type) String() string {
	switch t {
	case TypeConfigure:
		return "CONFIGURE"
	case TypeConfigAck:
		return "CFG_ACK"
	case TypeFrameReady:
		return "FRAME_READY"
	case TypeFrameDone:
		return "FRAME_DONE"
	case TypePointerEvent:
		return "POINTER_EVENT"
	case TypeKeyEvent:
		return "KEY_EVENT"
	case TypeResize:
		return "RESIZE"
	case TypeShutdown:
		return "SHUTDOWN"
	case TypeError:
		return "ERROR"
	}
	return fmt.Sprintf("UNKNOWN(0x%x)", uint32(t))
}

// Header is the fixed-size frame header preceding every payload.
type Header struct {
	Magic  uint32
	Type   Type
	Length uint32
}

// Message is the closed union of decoded protocol messages. The
// unexported method keeps the set of implementations inside this
// package; consumers switch on the concrete type.
type Message interface {
	// MessageType returns the wire type tag for this message.
	MessageType() Type

	// appendPayload serializes the payload (header excluded) onto dst.
	appendPayload(dst []byte) []byte
}

// Pointer event kinds carried in PointerEvent.Kind.
const (
	PointerEnter  int32 = 0
	PointerLeave  int32 = 1
	PointerMotion int32 = 2
	PointerButton int32 = 3
	PointerAxis   int32 = 4
)

// Key states carried in KeyEvent.State.
const (
	KeyReleased int32 = 0
	KeyPressed  int32 = 1
	KeyRepeat   int32 = 2
)

// Modifier bits carried in KeyEvent.Modifiers.
const (
	ModShift int32 = 1 << 0
	ModCtrl  int32 = 1 << 1
	ModAlt   int32 = 1 << 2
	ModSuper int32 = 1 << 3
)

// Diagnostic codes carried in Error.Code. Codes below 10 are runtime
// failures after the agent reached its main loop; codes 10 and up are
// startup failures (the agent exits with the code as its process exit
// status when the transport cannot carry the ERROR message).
const (
	ErrCodeSharedFileOpen     int32 = 1
	ErrCodeSurfaceCreate      int32 = 2
	ErrCodeLayerSurfaceCreate int32 = 3
	ErrCodeConfigureTimeout   int32 = 4
	ErrCodeBufferSetup        int32 = 5
	ErrCodeDisplayConnect     int32 = 10
	ErrCodeNoSurface          int32 = 11
	ErrCodeNoSharedMemory     int32 = 12
	ErrCodeNoLayerShell       int32 = 13
)

// Configure asks the agent to create and configure its layer surface.
// Host→agent, sent exactly once per session.
type Configure struct {
	// Layer, Anchor, ExclusiveZone, and KeyboardMode use the
	// compositor package's enum values, carried as raw i32 on the
	// wire.
	Layer         int32
	Anchor        int32
	ExclusiveZone int32
	KeyboardMode  int32

	// Width and Height are the requested surface dimensions. Zero on
	// an axis whose opposing anchors are both set means "compositor
	// fills this axis"; the agent recomputes the effective size from
	// the anchor bits rather than trusting these raw values.
	Width  int32
	Height int32

	// Margins in CSS order: top, right, bottom, left. Optional on the
	// wire — older peers omit the block and the decoder tolerates it.
	MarginTop    int32
	MarginRight  int32
	MarginBottom int32
	MarginLeft   int32

	// Namespace is the layer-surface debug label.
	Namespace string

	// BufferPath is the filesystem path of the shared pixel file the
	// host has created. The agent maps it, never allocates it.
	BufferPath string
}

// MessageType implements Message.
func (*Configure) MessageType() Type { return TypeConfigure }

// ConfigAck reports the compositor-confirmed surface dimensions, which
// may differ from the requested ones. Agent→host, exactly once, after
// the initial configure round-trip.
type ConfigAck struct {
	Width  int32
	Height int32
}

// MessageType implements Message.
func (*ConfigAck) MessageType() Type { return TypeConfigAck }

// FrameReady announces that the shared buffer holds a complete frame.
// Host→agent. Seq increases monotonically per session.
type FrameReady struct {
	Seq int64
}

// MessageType implements Message.
func (*FrameReady) MessageType() Type { return TypeFrameReady }

// FrameDone acknowledges presentation of a frame. Agent→host, sent
// when the compositor's frame callback fires. Seq echoes the
// FRAME_READY being acknowledged and is informational only — the
// host's pending flag, not sequence matching, gates production.
type FrameDone struct {
	Seq int64
}

// MessageType implements Message.
func (*FrameDone) MessageType() Type { return TypeFrameDone }

// PointerEvent forwards one pointer interaction. Agent→host. State is
// meaningful only for PointerButton (0 released, 1 pressed) and is
// omitted on the wire for other kinds.
type PointerEvent struct {
	Kind   int32
	X      float32
	Y      float32
	Button int32
	State  int32
}

// MessageType implements Message.
func (*PointerEvent) MessageType() Type { return TypePointerEvent }

// KeyEvent forwards one keyboard interaction. Agent→host. Keysym is
// the layout-resolved symbol when the agent's display driver has
// keymap support, zero otherwise; decoding tolerates its absence on
// the wire.
type KeyEvent struct {
	Keycode   int32
	State     int32
	Modifiers int32
	Keysym    int32
}

// MessageType implements Message.
func (*KeyEvent) MessageType() Type { return TypeKeyEvent }

// Resize notifies the host that the compositor changed the surface
// dimensions mid-session. Agent→host, sent after the agent has rebuilt
// its mapping at the new size. The host must resize its buffer before
// producing further frames.
type Resize struct {
	Width  int32
	Height int32
}

// MessageType implements Message.
func (*Resize) MessageType() Type { return TypeResize }

// Shutdown asks the agent to stop cleanly. Host→agent. Empty payload.
type Shutdown struct{}

// MessageType implements Message.
func (*Shutdown) MessageType() Type { return TypeShutdown }

// Error reports a fatal agent-side condition. Agent→host, sent before
// the agent exits so the host never has to infer cause from a bare
// disconnect.
type Error struct {
	Code    int32
	Message string
}

// MessageType implements Message.
func (*Error) MessageType() Type { return TypeError }

// Unknown carries a message whose type tag this build does not
// recognize. The payload was fully consumed, so the stream remains
// synchronized; callers should log and continue.
type Unknown struct {
	Tag     Type
	Payload []byte
}

// MessageType implements Message.
func (u *Unknown) MessageType() Type { return u.Tag }
