package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func segmentAll(tokens []string) []string {
	var s Segmenter
	var out []string
	for _, tok := range tokens {
		out = append(out, s.Push(tok)...)
	}
	if rest := s.Flush(); rest != "" {
		out = append(out, rest)
	}
	return out
}

func TestSegmenter_TwoSentences(t *testing.T) {
	var s Segmenter
	assert.Empty(t, s.Push("Hello"))
	assert.Empty(t, s.Push(" there."))
	assert.Equal(t, []string{"Hello there."}, s.Push(" How can I help?"))
	assert.Equal(t, "How can I help?", s.Flush())
	assert.Equal(t, "", s.Flush())
}

func TestSegmenter_Cases(t *testing.T) {
	cases := []struct {
		name   string
		tokens []string
		want   []string
	}{
		{"several in one token", []string{"One. Two! Three? Four"}, []string{"One.", "Two!", "Three?", "Four"}},
		{"terminator without space is kept", []string{"Version 3.5 is out."}, []string{"Version 3.5 is out."}},
		{"newline counts as whitespace", []string{"Line one.\nLine two."}, []string{"Line one.", "Line two."}},
		{"leading whitespace trimmed", []string{"  Hi.  ", "Bye"}, []string{"Hi.", "Bye"}},
		{"empty stream", nil, nil},
		{"whitespace only", []string{"   "}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, segmentAll(tc.tokens))
		})
	}
}

// Replaying a token stream, or splitting the same text differently, yields
// the same sentences.
func TestSegmenter_Property_IndependentOfTokenization(t *testing.T) {
	alphabet := rapid.SampledFrom([]string{"a", "b", " ", ".", "!", "?", "\n", "ok", "Hi. "})
	rapid.Check(t, func(rt *rapid.T) {
		pieces := rapid.SliceOf(alphabet).Draw(rt, "pieces")
		text := strings.Join(pieces, "")

		whole := segmentAll([]string{text})
		again := segmentAll(pieces)
		if !equalStrings(whole, again) {
			rt.Fatalf("tokenized %q gave %q, whole text gave %q", pieces, again, whole)
		}
		if replay := segmentAll(pieces); !equalStrings(again, replay) {
			rt.Fatalf("replay differs: %q vs %q", again, replay)
		}

		cuts := rapid.SliceOfN(rapid.IntRange(0, len(text)), 0, 8).Draw(rt, "cuts")
		if rechunked := segmentAll(splitAt(text, cuts)); !equalStrings(whole, rechunked) {
			rt.Fatalf("rechunked %q gave %q, want %q", splitAt(text, cuts), rechunked, whole)
		}
	})
}

func splitAt(text string, cuts []int) []string {
	var out []string
	prev := 0
	for _, c := range cuts {
		if c < prev {
			continue
		}
		out = append(out, text[prev:c])
		prev = c
	}
	return append(out, text[prev:])
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
