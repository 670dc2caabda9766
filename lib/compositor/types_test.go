// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import "testing"

func TestEffectiveSize(t *testing.T) {
	tests := []struct {
		name       string
		spec       SurfaceSpec
		width      int32
		height     int32
	}{
		{
			name:  "no anchors keeps raw size",
			spec:  SurfaceSpec{Width: 800, Height: 600},
			width: 800, height: 600,
		},
		{
			name:  "left and right zero the width regardless of raw value",
			spec:  SurfaceSpec{Anchor: AnchorLeft | AnchorRight, Width: 800, Height: 32},
			width: 0, height: 32,
		},
		{
			name:  "top and bottom zero the height",
			spec:  SurfaceSpec{Anchor: AnchorTop | AnchorBottom, Width: 48, Height: 600},
			width: 48, height: 0,
		},
		{
			name:  "all four edges zero both axes",
			spec:  SurfaceSpec{Anchor: AnchorTop | AnchorBottom | AnchorLeft | AnchorRight, Width: 1, Height: 1},
			width: 0, height: 0,
		},
		{
			name:  "single edge keeps both axes",
			spec:  SurfaceSpec{Anchor: AnchorTop, Width: 300, Height: 40},
			width: 300, height: 40,
		},
		{
			name:  "top bar: three edges",
			spec:  SurfaceSpec{Anchor: AnchorTop | AnchorLeft | AnchorRight, Width: 0, Height: 32},
			width: 0, height: 32,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			width, height := test.spec.EffectiveSize()
			if width != test.width || height != test.height {
				t.Fatalf("EffectiveSize() = %dx%d, want %dx%d", width, height, test.width, test.height)
			}
		})
	}
}

func TestAnchorHas(t *testing.T) {
	anchor := AnchorTop | AnchorLeft
	if !anchor.Has(AnchorTop) {
		t.Fatal("AnchorTop should be set")
	}
	if anchor.Has(AnchorTop | AnchorRight) {
		t.Fatal("Has must require every bit")
	}
}

func TestDriverRegistry(t *testing.T) {
	RegisterDriver("registry-test", func() (Display, error) { return nil, nil })

	if _, err := OpenDriver("registry-test"); err != nil {
		t.Fatalf("OpenDriver: %v", err)
	}
	if _, err := OpenDriver("no-such-driver"); err == nil {
		t.Fatal("expected error for unknown driver")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration must panic")
		}
	}()
	RegisterDriver("registry-test", func() (Display, error) { return nil, nil })
}
