package model

import (
	"testing"
	"time"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name string
		dir  string
		elem []string
		want string
	}{
		{"plain", "models/wolf", []string{"wolf.mtl"}, "models/wolf/wolf.mtl"},
		{"root", "", []string{"wolf.mtl"}, "wolf.mtl"},
		{"leading slash kept", "/models", []string{"a.png"}, "/models/a.png"},
		{"backslashes", "models", []string{`textures\a.png`}, "models/textures/a.png"},
		{"nested", "m", []string{"textures", "a.png"}, "m/textures/a.png"},
		{"trailing slash", "m/", []string{"a.png"}, "m/a.png"},
		{"empty", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinPath(tt.dir, tt.elem...); got != tt.want {
				t.Errorf("JoinPath(%q, %v) = %q, want %q", tt.dir, tt.elem, got, tt.want)
			}
		})
	}
}

func TestBaseNameAndExt(t *testing.T) {
	if got := BaseName(`C:\art\wolf\Wolf_Body.JPG`); got != "Wolf_Body.JPG" {
		t.Errorf("BaseName = %q", got)
	}
	if got := BaseName("textures/a b.png"); got != "a b.png" {
		t.Errorf("BaseName = %q", got)
	}
	if got := Ext("textures/Wolf_Body.JPG"); got != ".jpg" {
		t.Errorf("Ext = %q", got)
	}
}

func TestFormatFromName(t *testing.T) {
	cases := map[string]Format{
		"wolf.obj":   FormatOBJ,
		"WOLF.OBJ":   FormatOBJ,
		"scene.gltf": FormatGLTF,
		"scene.glb":  FormatGLB,
		"rig.fbx":    FormatFBX,
		"old.3ds":    Format3DS,
		"part.stl":   FormatSTL,
		"notes.txt":  FormatUnknown,
	}
	for name, want := range cases {
		if got := FormatFromName(name); got != want {
			t.Errorf("FormatFromName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestFormatMode(t *testing.T) {
	if FormatOBJ.Mode() != ModeDeclared || FormatGLB.Mode() != ModeDeclared {
		t.Error("obj and glb should declare dependencies")
	}
	if FormatFBX.Mode() != ModeHarvest || Format3DS.Mode() != ModeHarvest {
		t.Error("fbx and 3ds should harvest")
	}
	if FormatSTL.Mode() != ModeNone || FormatUnknown.Mode() != ModeNone {
		t.Error("stl and unknown should not resolve dependencies")
	}
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Now()
	e := CacheEntry{ExpiresAt: now.Add(time.Minute)}
	if e.Expired(now) {
		t.Error("entry should be valid before expiry")
	}
	if !e.Expired(now.Add(time.Minute)) {
		t.Error("entry should be expired at expiresAt")
	}
}
