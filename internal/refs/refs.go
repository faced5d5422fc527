// Package refs extracts the dependency filenames a model declares.
//
// Every function here is pure and tolerant: malformed input yields fewer
// references, never an error or a panic.
package refs

import (
	"bytes"
	"strings"

	"github.com/rcliao/modeldeps/internal/model"
)

// Extract returns the references declared by data for the given format.
// Formats without explicit declarations return nil.
func Extract(format model.Format, data []byte) []model.ModelReference {
	switch format {
	case model.FormatOBJ:
		return MaterialLibraries(data)
	case model.FormatMTL:
		return TextureMaps(data)
	case model.FormatGLTF:
		return GLTFURIs(data)
	case model.FormatGLB:
		return GLBURIs(data)
	default:
		return nil
	}
}

// eachLine calls fn for every line of data with surrounding whitespace
// trimmed. \n, \r\n and \r all terminate a line.
func eachLine(data []byte, fn func(line []byte)) {
	for len(data) > 0 {
		i := bytes.IndexAny(data, "\r\n")
		var line []byte
		if i < 0 {
			line, data = data, nil
		} else {
			line = data[:i]
			if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			data = data[i+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		fn(line)
	}
}

// splitDirective splits a line into its lower-cased keyword and the rest.
func splitDirective(line []byte) (string, string) {
	i := bytes.IndexAny(line, " \t")
	if i < 0 {
		return strings.ToLower(string(line)), ""
	}
	return strings.ToLower(string(line[:i])), strings.TrimSpace(string(line[i+1:]))
}

// dedupe removes duplicates and empty names, keeping the first spelling
// seen. Names compare case-insensitively unless exact is set.
type dedupe struct {
	exact bool
	seen  map[string]bool
	names []string
}

func (d *dedupe) add(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	k := name
	if !d.exact {
		k = strings.ToLower(name)
	}
	if d.seen[k] {
		return
	}
	d.seen[k] = true
	d.names = append(d.names, name)
}
