package agent

import (
	"regexp"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`[.!?]\s`)

// Segmenter cuts a token stream into sentences. A sentence ends at '.', '!'
// or '?' followed by whitespace; the terminator is kept.
type Segmenter struct {
	buf string
}

// Push appends tok and returns every sentence it completed, in order.
func (s *Segmenter) Push(tok string) []string {
	s.buf += tok
	var out []string
	for {
		loc := sentenceEnd.FindStringIndex(s.buf)
		if loc == nil {
			return out
		}
		sentence := strings.TrimSpace(s.buf[:loc[0]+1])
		s.buf = s.buf[loc[1]:]
		if sentence != "" {
			out = append(out, sentence)
		}
	}
}

// Flush returns the trimmed remainder and empties the buffer.
func (s *Segmenter) Flush() string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	return rest
}
