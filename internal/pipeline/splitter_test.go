package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"no terminal punctuation", "no terminal punctuation here", []string{"no terminal punctuation here"}},
		{"basic", "ML is great. It learns from data. Deep learning uses networks.",
			[]string{"ML is great.", "It learns from data.", "Deep learning uses networks."}},
		{"mixed terminals", "Wait... what?! Yes.", []string{"Wait...", "what?!", "Yes."}},
		{"punctuation without whitespace does not split", "e.g.something. Next", []string{"e.g.something.", "Next"}},
		{"single sentence", "End.", []string{"End."}},
		{"multiple whitespace consumed", "One.   Two!\n\nThree?", []string{"One.", "Two!", "Three?"}},
		{"trailing whitespace", "Done. ", []string{"Done."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.in))
		})
	}
}

func TestSplitSentences_ReconstructsNormalizedText(t *testing.T) {
	inputs := []string{
		"Machine learning is a branch of AI. It uses statistics!   Does it work? Yes",
		"Deep learning uses networks. It is effective for images.",
		"one",
	}
	for _, in := range inputs {
		normalized := Normalize(in)
		sentences := SplitSentences(normalized)
		for _, s := range sentences {
			assert.NotEmpty(t, s)
		}
		assert.Equal(t, normalized, strings.Join(sentences, " "))
	}
}
