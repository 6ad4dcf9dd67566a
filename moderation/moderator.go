// Package moderation masks blacklisted words in relayed message text.
// Matching is resilient to casing, leet speak and inserted punctuation;
// masking preserves the original length and spacing.
package moderation

import (
	"fmt"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

var ErrEmptyBlacklist = fmt.Errorf("blacklist contains no usable words")

type Masker struct {
	matcher  *goahocorasick.Machine
	maskChar rune
}

// textMapping links the normalized searchable runes back to their position
// in the original text, so masking can target the exact original characters.
type textMapping struct {
	normalized []rune
	origIdx    []int
}

// NewMasker builds the Aho-Corasick automaton from a normalized copy of the
// blacklist. Construction is the expensive part and happens once at startup.
// Entries made of nothing but noise runes normalize to an empty pattern,
// which the automaton cannot hold; they are skipped.
func NewMasker(blacklist []string, maskChar rune) (*Masker, error) {
	patterns := make([][]rune, 0, len(blacklist))
	for _, word := range blacklist {
		norm := normalizeRunes([]rune(word))
		if len(norm) == 0 {
			continue
		}
		patterns = append(patterns, norm)
	}
	if len(patterns) == 0 {
		return nil, ErrEmptyBlacklist
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Masker{matcher: m, maskChar: maskChar}, nil
}

// Mask replaces every blacklisted span with the mask character and returns
// the masked text together with the normalized words that matched.
func (m *Masker) Mask(original string) (string, []string) {
	mapping := m.normalize(original)
	if len(mapping.normalized) == 0 {
		return original, nil
	}

	spans := m.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(spans) == 0 {
		return original, nil
	}

	origRunes := []rune(original)
	var matched []string
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)
		if normStart < 0 || normEnd > len(mapping.origIdx) {
			continue
		}

		matched = append(matched, string(span.Word))

		origStart := mapping.origIdx[normStart]
		origEnd := mapping.origIdx[normEnd-1] + 1
		for i := origStart; i < origEnd; i++ {
			origRunes[i] = m.maskChar
		}
	}

	return string(origRunes), matched
}

// normalize produces the searchable form of the input while tracking where
// each searchable rune came from in the original.
func (m *Masker) normalize(input string) textMapping {
	origRunes := []rune(input)
	norm := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	return textMapping{normalized: norm, origIdx: origIdx}
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet speak characters back to their standard
// alphabet counterparts.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters ignored during the matching phase.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
