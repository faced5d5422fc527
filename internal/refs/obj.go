package refs

import (
	"strconv"
	"strings"

	"github.com/rcliao/modeldeps/internal/model"
)

// MaterialLibraries returns the material library files named by mtllib
// directives in OBJ text.
func MaterialLibraries(data []byte) []model.ModelReference {
	var d dedupe
	eachLine(data, func(line []byte) {
		kw, rest := splitDirective(line)
		if kw != "mtllib" || rest == "" {
			return
		}
		for _, name := range splitLibraries(rest) {
			d.add(name)
		}
	})
	return d.names
}

// splitLibraries separates several whitespace-delimited libraries on one
// mtllib line. A name containing spaces is kept whole unless every field
// carries the .mtl extension.
func splitLibraries(rest string) []string {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return []string{rest}
	}
	for _, f := range fields {
		if model.Ext(f) != ".mtl" {
			return []string{rest}
		}
	}
	return fields
}

var textureKeywords = map[string]bool{
	"bump":  true,
	"disp":  true,
	"decal": true,
	"refl":  true,
	"norm":  true,
}

// optionArgs is the maximum number of arguments each texture option takes.
var optionArgs = map[string]int{
	"-blendu":  1,
	"-blendv":  1,
	"-bm":      1,
	"-boost":   1,
	"-cc":      1,
	"-clamp":   1,
	"-imfchan": 1,
	"-mm":      2,
	"-o":       3,
	"-s":       3,
	"-t":       3,
	"-texres":  1,
	"-type":    1,
}

// TextureMaps returns the bare texture filenames referenced by an MTL file,
// across every map channel. Embedded directories are stripped.
func TextureMaps(data []byte) []model.ModelReference {
	var d dedupe
	eachLine(data, func(line []byte) {
		kw, rest := splitDirective(line)
		if !strings.HasPrefix(kw, "map_") && !textureKeywords[kw] {
			return
		}
		if name := stripOptions(rest); name != "" {
			d.add(model.BaseName(name))
		}
	})
	return d.names
}

// stripOptions drops leading texture options and returns the filename.
func stripOptions(rest string) string {
	fields := strings.Fields(rest)
	i := 0
	for i < len(fields) {
		n, ok := optionArgs[strings.ToLower(fields[i])]
		if !ok {
			break
		}
		i++
		for taken := 0; taken < n && i < len(fields); taken++ {
			if !isOptionValue(fields[i]) {
				break
			}
			i++
		}
	}
	if i >= len(fields) {
		return ""
	}
	// Rejoin so filenames with spaces survive.
	return strings.Join(fields[i:], " ")
}

func isOptionValue(s string) bool {
	switch strings.ToLower(s) {
	case "on", "off", "r", "g", "b", "m", "l", "z",
		"sphere", "cube_top", "cube_bottom", "cube_front", "cube_back", "cube_left", "cube_right":
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
