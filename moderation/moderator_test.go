package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const maskChar = '*'

// TestMasker_Mask
// The dictionary uses specific words to avoid partial collisions (e.g., "he" inside "The")
func TestMasker_Mask(t *testing.T) {
	req := require.New(t)
	dictionary := []string{"charlatan", "swindle", "hoax"}
	masker, err := NewMasker(dictionary, maskChar)
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "Simple word and space preservation",
			input:    "That reader is a charlatan honestly",
			expected: "That reader is a ********* honestly",
			words:    []string{"charlatan"},
		},
		{
			name:     "Multiple occurrences and preserved spacing",
			input:    "hoax hoax hoax",
			expected: "**** **** ****",
			words:    []string{"hoax", "hoax", "hoax"},
		},
		{
			name: "Leet speak and internal punctuation",
			// h (index 7) . 0 . 4 . x (index 13) -> 7 characters
			input:    "What a h.0.4.x !",
			expected: "What a ******* !",
			words:    []string{"hoax"},
		},
		{
			name:     "Uppercase and extreme noise",
			input:    "S-W-1-N-D-L-E is a H.O.A.X",
			expected: "************* is a *******",
			words:    []string{"swindle", "hoax"},
		},
		{
			name:     "Accents and special characters (UTF-8)",
			input:    "Un été avec un charlatan",
			expected: "Un été avec un *********",
			words:    []string{"charlatan"},
		},
		{
			name:     "Word adjacent to trailing punctuation",
			input:    "pure hoax!",
			expected: "pure ****!",
			words:    []string{"hoax"},
		},
		{
			name:     "Nothing to mask",
			input:    "The cards look favorable",
			expected: "The cards look favorable",
			words:    nil,
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
			words:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, words := masker.Mask(tt.input)
			req.Equal(tt.expected, content, "test=%s,", tt.name)
			req.Equal(tt.words, words, "expected=%s,words=%s", tt.expected, words)
		})
	}
}

func TestMasker_CornerCases(t *testing.T) {
	req := require.New(t)

	// Given real noise and not Leet Speak associated
	dictionary := []string{"...", ",,,", "", "charlatan"}

	masker, err := NewMasker(dictionary, maskChar)
	req.NoError(err)

	// Then the sentence is masked
	input := "The charlatan is here"
	expected := "The ********* is here"
	content, words := masker.Mask(input)
	req.Equal(expected, content)
	req.Equal([]string{"charlatan"}, words)

	// Then real noise is untouched
	input = "Hello ..."
	expected = "Hello ..."
	content, words = masker.Mask(input)
	req.Equal(expected, content)
	req.Nil(words)

	// Given a dictionary made of noise only, construction refuses it
	_, err = NewMasker([]string{"...", ""}, maskChar)
	req.ErrorIs(err, ErrEmptyBlacklist)
}

func TestLoadBlacklist(t *testing.T) {
	req := require.New(t)

	// When the embedded wordlists are loaded
	blacklist, err := LoadBlacklist()

	// Then both languages contribute words
	req.NoError(err)
	req.NotEmpty(blacklist.Words)
	req.Contains(blacklist.Languages, "en")
	req.Contains(blacklist.Languages, "fr")
}
