package translation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/mnemo/internal/extract"
)

type memRepo struct {
	messages map[uuid.UUID]*MessageTranslation
	saveErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{messages: make(map[uuid.UUID]*MessageTranslation)}
}

func (m *memRepo) SaveMessage(_ context.Context, mt *MessageTranslation) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *mt
	m.messages[mt.MessageID] = &cp
	return nil
}

func (m *memRepo) SaveWords(_ context.Context, id uuid.UUID, words []WordTranslation) error {
	m.messages[id].Words = words
	return nil
}

func (m *memRepo) FindByMessageIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*MessageTranslation, error) {
	out := make(map[uuid.UUID]*MessageTranslation)
	for _, id := range ids {
		if mt, ok := m.messages[id]; ok {
			out[id] = mt
		}
	}
	return out, nil
}

func TestRecorder_Full(t *testing.T) {
	repo := newMemRepo()
	rec := NewRecorder(repo)
	id := uuid.New()

	res := extract.Extract("你好。我很好！\n{\"words\":[{\"originalWord\":\"很好\",\"translation\":\"very well\"}],\"fullTranslation\":\"Hello. I am fine!\"}")
	require.NoError(t, rec.Record(context.Background(), id, res))

	got, err := repo.FindByMessageIDs(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	mt := got[id]
	require.NotNil(t, mt)
	assert.Equal(t, "full", mt.Level)
	assert.Equal(t, "Hello. I am fine!", mt.FullTranslation)
	require.Len(t, mt.Words, 1)
	assert.Equal(t, WordTranslation{Position: 0, OriginalWord: "很好", Translation: "very well", Sentence: "我很好！"}, mt.Words[0])
}

func TestRecorder_WordsOnlyLeavesTranslationsEmpty(t *testing.T) {
	repo := newMemRepo()
	rec := NewRecorder(repo)
	id := uuid.New()

	res := extract.Extract("Hola amigo. Que tal?\n{\"words\":[{\"originalWord\":\"tal\",\"translation\":\"such\"}]}")
	require.Equal(t, extract.LevelWordsOnly, res.Level)
	require.NoError(t, rec.Record(context.Background(), id, res))

	mt := repo.messages[id]
	assert.Equal(t, "words_only", mt.Level)
	assert.Empty(t, mt.FullTranslation)
	require.Len(t, mt.Words, 1)
	assert.Equal(t, "tal", mt.Words[0].OriginalWord)
	assert.Empty(t, mt.Words[0].Translation)
	assert.Equal(t, "Que tal?", mt.Words[0].Sentence)
}

func TestRecorder_NoneSavesFallbackWords(t *testing.T) {
	repo := newMemRepo()
	rec := NewRecorder(repo)
	id := uuid.New()

	require.NoError(t, rec.Record(context.Background(), id, extract.Extract("good morning")))
	mt := repo.messages[id]
	assert.Equal(t, "none", mt.Level)
	require.Len(t, mt.Words, 2)
	assert.Equal(t, "good", mt.Words[0].OriginalWord)
	assert.Equal(t, "good morning", mt.Words[0].Sentence)
}

func TestRecorder_NoneSwallowsErrors(t *testing.T) {
	repo := newMemRepo()
	repo.saveErr = errors.New("db down")
	rec := NewRecorder(repo)

	assert.NoError(t, rec.Record(context.Background(), uuid.New(), extract.Extract("plain text")))
}

func TestRecorder_FullReturnsErrors(t *testing.T) {
	repo := newMemRepo()
	repo.saveErr = errors.New("db down")
	rec := NewRecorder(repo)

	res := extract.Extract("hi\n{\"words\":[],\"fullTranslation\":\"hi\"}")
	require.True(t, res.Succeeded)
	assert.Error(t, rec.Record(context.Background(), uuid.New(), res))
}

func TestSentences(t *testing.T) {
	assert.Equal(t, []string{"One.", "Two!", "Three"}, Sentences("One. Two!\nThree"))
	assert.Equal(t, []string{"你好。", "再见"}, Sentences("你好。再见"))
	assert.Empty(t, Sentences("  \n "))
}

func TestSentenceContaining(t *testing.T) {
	s := []string{"I like tea.", "You like coffee."}
	assert.Equal(t, "You like coffee.", SentenceContaining(s, "coffee"))
	assert.Equal(t, "I like tea.", SentenceContaining(s, "like"))
	assert.Equal(t, "", SentenceContaining(s, "juice"))
	assert.Equal(t, "", SentenceContaining(s, ""))
}
