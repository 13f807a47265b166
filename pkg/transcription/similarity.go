package transcription

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// NormalizeConfig controls text normalization before similarity and
// length checks (spec §4.G step 2).
type NormalizeConfig struct {
	Trim             bool
	Lowercase        bool
	StripPunctuation bool
}

// Normalize applies the configured transformations to s.
func Normalize(s string, cfg NormalizeConfig) string {
	if cfg.Trim {
		s = strings.TrimSpace(s)
	}
	if cfg.Lowercase {
		s = strings.ToLower(s)
	}
	if cfg.StripPunctuation {
		var b strings.Builder
		for _, r := range s {
			if unicode.IsPunct(r) {
				continue
			}
			b.WriteRune(r)
		}
		s = b.String()
	}
	return s
}

// Similarity returns a normalized edit-distance ratio in [0, 1]:
// 1 - levenshtein(a, b) / max(len(a), len(b)). Resolves the coordinator's
// text-similarity Open Question using
// github.com/antzucaro/matchr.Levenshtein. Two empty strings are
// considered identical (similarity 1).
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len([]rune(a))
	if bl := len([]rune(b)); bl > maxLen {
		maxLen = bl
	}
	if maxLen == 0 {
		return 1
	}
	dist := matchr.Levenshtein(a, b)
	sim := 1 - float64(dist)/float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	return sim
}
