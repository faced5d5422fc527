package resolve

import (
	"regexp"
	"strings"

	"github.com/rcliao/modeldeps/internal/model"
)

// Rule names the fuzzy rule that accepted a candidate.
type Rule string

const (
	RuleNone       Rule = ""
	RuleContains   Rule = "contains"
	RuleVersion    Rule = "version"
	RuleNormalized Rule = "normalized"
	RulePrefix     Rule = "prefix"
	RulePartial    Rule = "partial"
	RuleColorBody  Rule = "color_body"
)

type rule struct {
	name  Rule
	match func(h *Heuristics, search, candidate string) bool
}

// Sub-tiers run in this order; the first rule any candidate satisfies wins.
var (
	generalRules = []rule{
		{RuleContains, matchContains},
		{RuleVersion, matchVersion},
	}
	textureRules = []rule{
		{RuleNormalized, matchNormalized},
		{RulePrefix, matchPrefix},
		{RulePartial, matchPartial},
		{RuleColorBody, matchColorBody},
	}
)

func (h *Heuristics) rulesFor(search string) []rule {
	if h.IsTexture(search) {
		return textureRules
	}
	return generalRules
}

// eligible reports whether candidate may be compared with search at all.
// Textures match any texture; other files need the same extension.
func (h *Heuristics) eligible(search, candidate string) bool {
	if h.IsTexture(search) {
		return h.IsTexture(candidate)
	}
	return model.Ext(search) == model.Ext(candidate)
}

// MatchFuzzy reports the first rule under which candidate is an acceptable
// stand-in for search. Both are file names; directories are ignored.
func MatchFuzzy(h *Heuristics, search, candidate string) (Rule, bool) {
	if !h.eligible(search, candidate) {
		return RuleNone, false
	}
	for _, r := range h.rulesFor(search) {
		if r.match(h, search, candidate) {
			return r.name, true
		}
	}
	return RuleNone, false
}

// FindFuzzy scans files for a stand-in for search. Rules are the outer
// loop, so an earlier rule matching a later file beats a later rule
// matching an earlier file. Within a rule, listing order decides.
func FindFuzzy(h *Heuristics, search string, files []model.FileEntry) (model.FileEntry, Rule, bool) {
	search = model.BaseName(search)
	for _, r := range h.rulesFor(search) {
		for _, f := range files {
			if !h.eligible(search, f.Name) {
				continue
			}
			if r.match(h, search, f.Name) {
				return f, r.name, true
			}
		}
	}
	return model.FileEntry{}, RuleNone, false
}

// General rules.

func matchContains(h *Heuristics, search, candidate string) bool {
	s, c := stem(search), stem(candidate)
	if s == "" || c == "" {
		return false
	}
	if !strings.Contains(s, c) && !strings.Contains(c, s) {
		return false
	}
	return LengthRatio(strings.ToLower(search), strings.ToLower(candidate)) < h.GeneralRatio
}

func matchVersion(h *Heuristics, search, candidate string) bool {
	s, c := h.stripVersion(stem(search)), h.stripVersion(stem(candidate))
	return s != "" && s == c
}

// Texture rules.

var (
	separatorRun = regexp.MustCompile(`[ _]+`)
	pluralSuffix = regexp.MustCompile(`s(\d*)$`)
)

// normalizeTexture lower-cases the stem and folds runs of spaces and
// underscores into one underscore.
func normalizeTexture(name string) string {
	return strings.Trim(separatorRun.ReplaceAllString(stem(name), "_"), "_")
}

// stripLeadingWord drops one leading "word_" prefix when something remains.
func stripLeadingWord(s string) string {
	i := strings.Index(s, "_")
	if i <= 0 || i == len(s)-1 {
		return s
	}
	return s[i+1:]
}

// singular drops a trailing "s" that sits before an optional number.
func singular(s string) string {
	if len(s) < 3 {
		return s
	}
	return pluralSuffix.ReplaceAllString(s, "$1")
}

// combos returns the four prefix-stripped pairings of s and c with plural
// forms folded.
func combos(s, c string) [][2]string {
	ps, pc := stripLeadingWord(s), stripLeadingWord(c)
	pairs := [][2]string{{s, c}, {ps, c}, {s, pc}, {ps, pc}}
	for i := range pairs {
		pairs[i][0] = singular(pairs[i][0])
		pairs[i][1] = singular(pairs[i][1])
	}
	return pairs
}

func matchNormalized(_ *Heuristics, search, candidate string) bool {
	s, c := normalizeTexture(search), normalizeTexture(candidate)
	return s != "" && s == c
}

func matchPrefix(_ *Heuristics, search, candidate string) bool {
	for _, p := range combos(normalizeTexture(search), normalizeTexture(candidate)) {
		if p[0] != "" && p[0] == p[1] {
			return true
		}
	}
	return false
}

func matchPartial(h *Heuristics, search, candidate string) bool {
	for _, p := range combos(normalizeTexture(search), normalizeTexture(candidate)) {
		a, b := p[0], p[1]
		if a == "" || b == "" {
			continue
		}
		if (strings.Contains(a, b) || strings.Contains(b, a)) && LengthRatio(a, b) < h.TextureRatio {
			return true
		}
	}
	return false
}

// matchColorBody pairs a color-role search name with a body-role candidate
// when the words left after removing the role terms agree, or one side has
// none left.
func matchColorBody(h *Heuristics, search, candidate string) bool {
	sRest, sHas := splitRole(normalizeTexture(search), h.colorSet)
	cRest, cHas := splitRole(normalizeTexture(candidate), h.bodySet)
	if !sHas || !cHas {
		return false
	}
	return sRest == "" || cRest == "" || sRest == cRest
}

func splitRole(s string, terms map[string]bool) (string, bool) {
	var rest []string
	found := false
	for _, w := range strings.Split(s, "_") {
		if w == "" {
			continue
		}
		if terms[w] {
			found = true
			continue
		}
		rest = append(rest, w)
	}
	return strings.Join(rest, "_"), found
}
