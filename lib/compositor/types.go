// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import "fmt"

// Layer selects the stacking layer a surface is placed on. Values
// match the layer-shell protocol and the wire encoding.
type Layer int32

const (
	LayerBackground Layer = 0
	LayerBottom     Layer = 1
	LayerTop        Layer = 2
	LayerOverlay    Layer = 3
)

// String returns the layer-shell name of the layer.
func (l Layer) String() string {
	switch l {
	case LayerBackground:
		return "background"
	case LayerBottom:
		return "bottom"
	case LayerTop:
		return "top"
	case LayerOverlay:
		return "overlay"
	}
	return fmt.Sprintf("layer(%d)", int32(l))
}

// Anchor is a bitset of screen edges a surface is pinned to. Values
// match the layer-shell protocol and the wire encoding.
type Anchor int32

const (
	AnchorTop    Anchor = 1 << 0
	AnchorBottom Anchor = 1 << 1
	AnchorLeft   Anchor = 1 << 2
	AnchorRight  Anchor = 1 << 3
)

// Has reports whether every bit in bits is set.
func (a Anchor) Has(bits Anchor) bool { return a&bits == bits }

// KeyboardMode controls keyboard focus for a layer surface. Values
// match the layer-shell protocol and the wire encoding.
type KeyboardMode int32

const (
	KeyboardNone      KeyboardMode = 0
	KeyboardExclusive KeyboardMode = 1
	KeyboardOnDemand  KeyboardMode = 2
)

// Margins are per-edge offsets from the anchored screen edges.
type Margins struct {
	Top    int32
	Right  int32
	Bottom int32
	Left   int32
}

// SurfaceSpec describes the desired placement of a layer surface.
type SurfaceSpec struct {
	Layer         Layer
	Anchor        Anchor
	ExclusiveZone int32
	Keyboard      KeyboardMode

	// Width and Height are the requested dimensions. Zero on an axis
	// is only meaningful when both opposing anchors for that axis are
	// set (the compositor fills the axis). EffectiveSize applies the
	// rule; raw zeroes are never passed downstream blindly.
	Width  int32
	Height int32

	Margins Margins

	// Namespace is the layer-surface debug label compositors show in
	// their surface listings.
	Namespace string
}

// EffectiveSize returns the dimensions actually requested from the
// compositor. An axis whose opposing anchors are both set is stretched
// by the compositor, so the request for it is forced to zero no
// matter what the raw width/height fields say.
func (s SurfaceSpec) EffectiveSize() (width, height int32) {
	width = s.Width
	height = s.Height
	if s.Anchor.Has(AnchorLeft | AnchorRight) {
		width = 0
	}
	if s.Anchor.Has(AnchorTop | AnchorBottom) {
		height = 0
	}
	return width, height
}
