package translation

import (
	"time"

	"github.com/google/uuid"
)

// MessageTranslation is a row in the message_translations table.
type MessageTranslation struct {
	MessageID       uuid.UUID         `json:"message_id"`
	FullTranslation string            `json:"full_translation"`
	Level           string            `json:"level"`
	Words           []WordTranslation `json:"words"`
	CreatedAt       time.Time         `json:"created_at"`
}

// WordTranslation is a row in the word_translations table.
type WordTranslation struct {
	Position     int    `json:"position"`
	OriginalWord string `json:"original_word"`
	Translation  string `json:"translation"`
	Sentence     string `json:"sentence"`
}
