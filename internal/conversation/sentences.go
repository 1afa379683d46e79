package conversation

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentences yields the trimmed sentences of text in order. A sentence ends
// at '.', '!' or '?' followed by whitespace; empty fragments are dropped.
// The sequence is lazy and can be ranged over any number of times.
func Sentences(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := 0
		for i := 0; i < len(text); {
			r, size := utf8.DecodeRuneInString(text[i:])
			i += size
			if r != '.' && r != '!' && r != '?' {
				continue
			}

			j := i
			for j < len(text) {
				w, wsize := utf8.DecodeRuneInString(text[j:])
				if !unicode.IsSpace(w) {
					break
				}
				j += wsize
			}
			if j == i {
				continue
			}

			if s := strings.TrimSpace(text[start:i]); s != "" {
				if !yield(s) {
					return
				}
			}
			start, i = j, j
		}
		if s := strings.TrimSpace(text[start:]); s != "" {
			yield(s)
		}
	}
}

// SplitSentences collects Sentences(text) into a slice.
func SplitSentences(text string) []string {
	var out []string
	for s := range Sentences(text) {
		out = append(out, s)
	}
	return out
}
