package model

// Format identifies a supported model file format.
type Format string

const (
	FormatOBJ     Format = "obj"
	FormatMTL     Format = "mtl"
	FormatGLTF    Format = "gltf"
	FormatGLB     Format = "glb"
	FormatFBX     Format = "fbx"
	Format3DS     Format = "3ds"
	FormatSTL     Format = "stl"
	FormatPLY     Format = "ply"
	FormatUnknown Format = "unknown"
)

// Mode describes how a format's dependencies are discovered.
type Mode int

const (
	// ModeNone means the format embeds everything; nothing is resolved.
	ModeNone Mode = iota
	// ModeDeclared means the model names its dependencies explicitly.
	ModeDeclared
	// ModeHarvest means image files are collected from the model's directory tree.
	ModeHarvest
)

func (m Mode) String() string {
	switch m {
	case ModeDeclared:
		return "declared"
	case ModeHarvest:
		return "harvest"
	default:
		return "none"
	}
}

var formatsByExt = map[string]Format{
	".obj":  FormatOBJ,
	".mtl":  FormatMTL,
	".gltf": FormatGLTF,
	".glb":  FormatGLB,
	".fbx":  FormatFBX,
	".3ds":  Format3DS,
	".stl":  FormatSTL,
	".ply":  FormatPLY,
}

// FormatFromName picks the format from a filename's extension.
func FormatFromName(name string) Format {
	if f, ok := formatsByExt[Ext(name)]; ok {
		return f
	}
	return FormatUnknown
}

// Mode returns the dependency discovery mode for the format.
func (f Format) Mode() Mode {
	switch f {
	case FormatOBJ, FormatMTL, FormatGLTF, FormatGLB:
		return ModeDeclared
	case FormatFBX, Format3DS:
		return ModeHarvest
	default:
		return ModeNone
	}
}

// MIMEType returns the conventional MIME type for the format.
func (f Format) MIMEType() string {
	switch f {
	case FormatOBJ, FormatMTL:
		return "text/plain"
	case FormatGLTF:
		return "model/gltf+json"
	case FormatGLB:
		return "model/gltf-binary"
	case FormatSTL:
		return "model/stl"
	default:
		return "application/octet-stream"
	}
}
