package translation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/aiox-platform/mnemo/internal/extract"
	"github.com/aiox-platform/mnemo/internal/metrics"
)

// Recorder persists extraction results according to how much was recovered.
type Recorder struct {
	repo Repository
}

// NewRecorder creates a new translation recorder.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

// Record stores res for messageID. Full results keep their translations; words-only
// results keep words with empty translations for on-demand fill; results with no
// payload store the fallback split and never return an error.
func (r *Recorder) Record(ctx context.Context, messageID uuid.UUID, res extract.Result) error {
	metrics.ExtractionsTotal.WithLabelValues(res.Level.String()).Inc()

	switch res.Level {
	case extract.LevelFull:
		return r.save(ctx, messageID, res.FullTranslation, res.Level, buildWords(res.CleanedText, res.Words, true))
	case extract.LevelWordsOnly:
		return r.save(ctx, messageID, "", res.Level, buildWords(res.CleanedText, res.Words, false))
	default:
		if err := r.save(ctx, messageID, "", res.Level, buildWords(res.CleanedText, res.Words, false)); err != nil {
			slog.Warn("translation: saving fallback words failed", "error", err, "message_id", messageID)
		}
		return nil
	}
}

func (r *Recorder) save(ctx context.Context, messageID uuid.UUID, full string, level extract.Level, words []WordTranslation) error {
	mt := &MessageTranslation{MessageID: messageID, FullTranslation: full, Level: level.String()}
	if err := r.repo.SaveMessage(ctx, mt); err != nil {
		return err
	}
	if err := r.repo.SaveWords(ctx, messageID, words); err != nil {
		return fmt.Errorf("saving %s words: %w", level, err)
	}
	return nil
}

func buildWords(text string, words []extract.Word, keepTranslation bool) []WordTranslation {
	sentences := Sentences(text)
	out := make([]WordTranslation, 0, len(words))
	for i, w := range words {
		wt := WordTranslation{
			Position:     i,
			OriginalWord: w.OriginalWord,
			Sentence:     SentenceContaining(sentences, w.OriginalWord),
		}
		if keepTranslation {
			wt.Translation = w.Translation
		}
		out = append(out, wt)
	}
	return out
}

// Sentences splits text on sentence terminators, keeping each terminator.
func Sentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}
	for _, r := range text {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？', '；':
			flush()
		}
	}
	flush()
	return out
}

// SentenceContaining returns the first sentence holding word, or "" if none does.
func SentenceContaining(sentences []string, word string) string {
	if word == "" {
		return ""
	}
	for _, s := range sentences {
		if strings.Contains(s, word) {
			return s
		}
	}
	return ""
}
