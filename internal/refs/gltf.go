package refs

import (
	"encoding/binary"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rcliao/modeldeps/internal/model"
)

type gltfDocument struct {
	Buffers []struct {
		URI string `json:"uri"`
	} `json:"buffers"`
	Images []struct {
		URI string `json:"uri"`
	} `json:"images"`
}

// GLTFURIs returns the external buffer and image URIs of a glTF JSON
// document. Embedded data: URIs and bufferView-backed images are skipped;
// the rest are percent-decoded and otherwise kept verbatim, including any
// path segments and case.
func GLTFURIs(data []byte) []model.ModelReference {
	var doc gltfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}

	d := dedupe{exact: true}
	add := func(uri string) {
		uri = strings.TrimSpace(uri)
		if uri == "" || strings.HasPrefix(strings.ToLower(uri), "data:") {
			return
		}
		if dec, err := url.PathUnescape(uri); err == nil {
			uri = dec
		}
		d.add(uri)
	}
	for _, b := range doc.Buffers {
		add(b.URI)
	}
	for _, img := range doc.Images {
		add(img.URI)
	}
	return d.names
}

const (
	glbMagic     = 0x46546C67 // "glTF"
	glbChunkJSON = 0x4E4F534A // "JSON"
	glbHeaderLen = 12
)

// GLBURIs reads the JSON chunk of a binary glTF container and returns its
// external URIs. Most GLB files embed everything and yield nil.
func GLBURIs(data []byte) []model.ModelReference {
	if len(data) < glbHeaderLen+8 {
		return nil
	}
	if binary.LittleEndian.Uint32(data[0:4]) != glbMagic {
		return nil
	}
	if binary.LittleEndian.Uint32(data[4:8]) != 2 {
		return nil
	}
	chunkLen := binary.LittleEndian.Uint32(data[12:16])
	chunkType := binary.LittleEndian.Uint32(data[16:20])
	start := uint64(glbHeaderLen + 8)
	end := start + uint64(chunkLen)
	if chunkType != glbChunkJSON || end > uint64(len(data)) {
		return nil
	}
	return GLTFURIs(data[start:end])
}
