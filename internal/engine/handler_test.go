package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/mnemo/internal/memory"
)

func newTestRouter(e *Engine) http.Handler {
	h := NewHandler(e)
	r := chi.NewRouter()
	r.Post("/agents/{agentID}/users/{userID}/context", h.PreviewContext)
	r.Post("/agents/{agentID}/users/{userID}/respond", h.Respond)
	return r
}

func post(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_PreviewContext(t *testing.T) {
	router := newTestRouter(New(Deps{Defaults: memory.DefaultConfig()}))
	path := "/agents/" + uuid.NewString() + "/users/" + uuid.NewString() + "/context"

	rec := post(t, router, path, `{"message":"hi","system_prompt":"P","agent_rules":{"rules":["be brief"]},"history":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Messages, 3)
	assert.Equal(t, "P", resp.Data.Messages[0].Content)
	assert.Contains(t, resp.Data.Messages[1].Content, "1. be brief")
	assert.Equal(t, "hi", resp.Data.Messages[2].Content)
}

func TestHandler_PreviewContextValidation(t *testing.T) {
	router := newTestRouter(New(Deps{Defaults: memory.DefaultConfig()}))

	rec := post(t, router, "/agents/nope/users/"+uuid.NewString()+"/context", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/agents/" + uuid.NewString() + "/users/" + uuid.NewString() + "/context"
	assert.Equal(t, http.StatusBadRequest, post(t, router, path, `{"message":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, router, path, `not json`).Code)
}

func TestHandler_Respond(t *testing.T) {
	router := newTestRouter(New(Deps{
		Completer: &fakeCompleter{reply: "hello\n{\"words\":[{\"originalWord\":\"hello\",\"translation\":\"olá\"}],\"fullTranslation\":\"olá\"}"},
		Defaults:  memory.DefaultConfig(),
	}))
	path := "/agents/" + uuid.NewString() + "/users/" + uuid.NewString() + "/respond"

	rec := post(t, router, path, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"text":"hello"`)
	assert.Contains(t, body, `"level":"full"`)
}

func TestHandler_RespondCompletionFailure(t *testing.T) {
	router := newTestRouter(New(Deps{
		Completer: &fakeCompleter{err: errors.New("overloaded")},
		Defaults:  memory.DefaultConfig(),
	}))
	path := "/agents/" + uuid.NewString() + "/users/" + uuid.NewString() + "/respond"

	assert.Equal(t, http.StatusBadGateway, post(t, router, path, `{"message":"hi"}`).Code)
}

func TestHandler_RespondWithoutCompleter(t *testing.T) {
	router := newTestRouter(New(Deps{Defaults: memory.DefaultConfig()}))
	path := "/agents/" + uuid.NewString() + "/users/" + uuid.NewString() + "/respond"

	assert.Equal(t, http.StatusServiceUnavailable, post(t, router, path, `{"message":"hi"}`).Code)
}
