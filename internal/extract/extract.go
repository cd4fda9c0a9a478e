// Package extract recovers the structured translation payload that trails a model reply.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Level reports how much of the trailing payload could be recovered.
type Level int

const (
	// LevelNone means no usable payload; words come from SplitWords.
	LevelNone Level = iota
	// LevelWordsOnly means a words array was found without a full translation.
	LevelWordsOnly
	// LevelFull means both words and the full translation were recovered.
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelWordsOnly:
		return "words_only"
	default:
		return "none"
	}
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Word pairs a word of the reply with its translation.
type Word struct {
	OriginalWord string `json:"originalWord"`
	Translation  string `json:"translation"`
}

// Result is the outcome of Extract.
type Result struct {
	CleanedText        string `json:"cleanedText"`
	FullTranslation    string `json:"fullTranslation,omitempty"`
	HasFullTranslation bool   `json:"hasFullTranslation"`
	Words              []Word `json:"words"`
	Succeeded          bool   `json:"succeeded"`
	Level              Level  `json:"level"`
}

var blockPattern = regexp.MustCompile(`^\{[\s\S]*"words"[\s\S]*\}\s*$`)

// Extract splits raw into the reply text and its trailing JSON block. Only a block
// holding both "words" and "fullTranslation" succeeds; in every other case
// CleanedText is raw unchanged.
func Extract(raw string) Result {
	res := Result{CleanedText: raw, Level: LevelNone}

	prefix := raw
	for _, start := range blockStarts(raw) {
		block := raw[start+1:]
		if !blockPattern.MatchString(block) {
			continue
		}
		if prefix == raw {
			prefix = raw[:start]
		}

		payload, ok := decodePayload(block)
		if !ok {
			continue
		}

		if payload.hasFull {
			res.CleanedText = strings.TrimSpace(raw[:start])
			res.FullTranslation = payload.fullTranslation
			res.HasFullTranslation = true
			res.Words = orEmpty(payload.fullWords)
			res.Succeeded = true
			res.Level = LevelFull
			return res
		}

		res.Words = orEmpty(payload.partialWords)
		res.Level = LevelWordsOnly
		return res
	}

	res.Words = orEmpty(wordsFromSplit(prefix))
	return res
}

func orEmpty(words []Word) []Word {
	if words == nil {
		return []Word{}
	}
	return words
}

// blockStarts returns the index of every "\n{" in s, earliest first.
func blockStarts(s string) []int {
	var starts []int
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '\n' && s[i+1] == '{' {
			starts = append(starts, i)
		}
	}
	return starts
}

type payload struct {
	hasFull         bool
	fullTranslation string
	fullWords       []Word
	partialWords    []Word
}

func decodePayload(block string) (payload, bool) {
	var p payload

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &fields); err != nil {
		return p, false
	}

	wordsRaw, ok := fields["words"]
	if !ok || len(wordsRaw) == 0 || wordsRaw[0] != '[' {
		return p, false
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(wordsRaw, &entries); err != nil {
		return p, false
	}

	if raw, ok := fields["fullTranslation"]; ok {
		if err := json.Unmarshal(raw, &p.fullTranslation); err == nil && string(raw) != "null" {
			p.hasFull = true
		}
	}

	for _, entry := range entries {
		var w map[string]any
		if err := json.Unmarshal(entry, &w); err != nil {
			continue
		}
		original, ok := w["originalWord"].(string)
		if !ok {
			continue
		}
		translation, hasTranslation := w["translation"].(string)
		if hasTranslation {
			p.fullWords = append(p.fullWords, Word{OriginalWord: original, Translation: translation})
		}
		p.partialWords = append(p.partialWords, Word{OriginalWord: original, Translation: translation})
	}
	return p, true
}

func wordsFromSplit(text string) []Word {
	split := SplitWords(text)
	if len(split) == 0 {
		return nil
	}
	words := make([]Word, len(split))
	for i, w := range split {
		words[i] = Word{OriginalWord: w}
	}
	return words
}
