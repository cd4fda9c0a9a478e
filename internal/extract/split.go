package extract

import (
	"strings"
	"unicode"
)

// maxSplitWords bounds the fallback word list of a single reply.
const maxSplitWords = 200

// SplitWords is the best-effort tokenizer used when no structured payload exists.
// Runs of letters and digits form words; runs of ideographic script stay together
// since they cannot be segmented without a dictionary. Duplicates are dropped and
// the first-seen order is kept.
func SplitWords(text string) []string {
	var (
		words   []string
		seen    = make(map[string]bool)
		current strings.Builder
		curCJK  bool
	)

	flush := func() {
		if current.Len() == 0 {
			return
		}
		w := strings.TrimRight(current.String(), "'")
		current.Reset()
		if w != "" && !seen[w] && len(words) < maxSplitWords {
			seen[w] = true
			words = append(words, w)
		}
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			if !curCJK {
				flush()
			}
			curCJK = true
			current.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || (r == '\'' && current.Len() > 0 && !curCJK):
			if curCJK {
				flush()
			}
			curCJK = false
			current.WriteRune(r)
		default:
			flush()
			curCJK = false
		}
	}
	flush()
	return words
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
