package resolve

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/modeldeps/internal/model"
)

// Heuristics holds the tunable constants used by fuzzy matching, probing
// and harvesting. Call Compile after changing fields.
type Heuristics struct {
	TextureExtensions []string `yaml:"texture_extensions"`
	VersionTokens     []string `yaml:"version_tokens"`
	VersionPattern    string   `yaml:"version_pattern"`
	GeneralRatio      float64  `yaml:"general_ratio"`
	TextureRatio      float64  `yaml:"texture_ratio"`
	ColorTerms        []string `yaml:"color_terms"`
	BodyTerms         []string `yaml:"body_terms"`
	ProbeFolders      []string `yaml:"probe_folders"`

	textureExt map[string]bool
	colorSet   map[string]bool
	bodySet    map[string]bool
	versionRE  *regexp.Regexp
}

// DefaultHeuristics returns the compiled default tuning.
func DefaultHeuristics() *Heuristics {
	h := &Heuristics{
		TextureExtensions: []string{
			".png", ".jpg", ".jpeg", ".bmp", ".tga", ".tif", ".tiff", ".gif",
			".webp", ".dds", ".exr", ".hdr", ".ktx", ".ktx2", ".psd",
		},
		VersionTokens:  []string{"_done", "_final", "_old", "_backup", "_copy", "_new", "_latest", "_v1"},
		VersionPattern: `[_ -]v\d+$`,
		GeneralRatio:   0.5,
		TextureRatio:   0.3,
		ColorTerms:     []string{"col", "color", "colour", "diffuse", "diff", "albedo", "basecolor"},
		BodyTerms:      []string{"body", "base", "main", "skin"},
		ProbeFolders: []string{
			"textures", "Textures", "TEXTURES", "texture", "Texture",
			"images", "Images", "image", "Image",
			"tex", "Tex", "maps", "Maps", "map", "Map",
		},
	}
	if err := h.Compile(); err != nil {
		panic(err)
	}
	return h
}

// Compile validates the pattern and builds lookup sets.
func (h *Heuristics) Compile() error {
	re, err := regexp.Compile(h.VersionPattern)
	if err != nil {
		return fmt.Errorf("version pattern %q: %w", h.VersionPattern, err)
	}
	h.versionRE = re
	h.textureExt = lowerSet(h.TextureExtensions)
	h.colorSet = lowerSet(h.ColorTerms)
	h.bodySet = lowerSet(h.BodyTerms)
	return nil
}

func (h *Heuristics) compiled() bool { return h.versionRE != nil }

func lowerSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[strings.ToLower(s)] = true
	}
	return m
}

// IsTexture reports whether name has an image-like extension.
func (h *Heuristics) IsTexture(name string) bool {
	return h.textureExt[model.Ext(name)]
}

// stripVersion removes trailing revision tokens until none remain.
func (h *Heuristics) stripVersion(stem string) string {
	for {
		prev := stem
		for _, tok := range h.VersionTokens {
			stem = strings.TrimSuffix(stem, strings.ToLower(tok))
		}
		if h.versionRE != nil {
			stem = h.versionRE.ReplaceAllString(stem, "")
		}
		if stem == prev {
			return stem
		}
	}
}

// LengthRatio is the absolute length difference of a and b divided by
// their average length.
func LengthRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la+lb == 0 {
		return 0
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / (float64(la+lb) / 2)
}

// stem returns the lower-cased base name without its extension.
func stem(name string) string {
	base := strings.ToLower(model.BaseName(name))
	return strings.TrimSuffix(base, model.Ext(base))
}
