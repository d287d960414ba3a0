package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verita-ai/verita/internal/chat"
	"github.com/verita-ai/verita/internal/log"
	"github.com/verita-ai/verita/internal/promptcfg"
)

type fakeRunner struct {
	req chat.Request
	res *chat.Result
	err error
}

func (r *fakeRunner) Run(_ context.Context, req chat.Request) (*chat.Result, error) {
	r.req = req
	return r.res, r.err
}

type fakePrompts struct {
	texts map[string]string
	err   error
}

func (p *fakePrompts) PromptText(_ context.Context, key string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.texts[key], nil
}

func defaultPrompts() *fakePrompts {
	return &fakePrompts{texts: map[string]string{
		promptcfg.KeySystemInstruction:  "be careful",
		promptcfg.KeyVerificationPrompt: "check {input_claim}",
	}}
}

func postChat(t *testing.T, h *ChatHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleChat(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{res: &chat.Result{
		FinalText: "All clear.",
		SessionID: "s-1",
		Claims:    []chat.VerifiedClaim{{ID: "c-1", Claim: "x"}},
		Instances: []chat.ImpreciseInstance{
			{ID: "i-1", Details: map[string]any{"text": "many"}},
		},
	}}
	h := NewChatHandler(runner, defaultPrompts(), log.NewNop())

	rec := postChat(t, h, `{
		"userId": "u1",
		"text": "review\n\n  this",
		"engageWorkflow": true,
		"styleMode": "clinical",
		"saveHistory": true,
		"attachments": [{"uri": "gs://b/o.pdf", "mimeType": "application/pdf"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// The handler resolves prompts from configuration and forwards the
	// full request to the engine.
	assert.Equal(t, "be careful", runner.req.SystemInstruction)
	assert.Equal(t, "check {input_claim}", runner.req.VerificationPrompt)
	assert.True(t, runner.req.EngageWorkflow)
	assert.Equal(t, "review this", runner.req.Text, "inbound text is whitespace-normalized")
	require.Len(t, runner.req.Attachments, 1)
	assert.Equal(t, "gs://b/o.pdf", runner.req.Attachments[0].URI)

	var out ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "All clear.", out.Response)
	assert.Equal(t, "s-1", out.SessionID)
	require.Len(t, out.Claims, 1)
	require.Len(t, out.Instances, 1)
	assert.Equal(t, "i-1", out.Instances[0]["id"])
	assert.Empty(t, out.Errors)
}

func TestHandleChatToolErrors(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{res: &chat.Result{
		FinalText:  "Partially done.",
		SessionID:  "s-2",
		ToolErrors: []error{errors.New("verification backend down")},
	}}
	h := NewChatHandler(runner, defaultPrompts(), log.NewNop())

	rec := postChat(t, h, `{"userId": "u1", "text": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code, "tool failures do not fail the request")

	var out ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.Errors, "verification backend down")
}

func TestHandleChatValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed body", `{`, "INVALID_REQUEST"},
		{"missing user", `{"text": "hi"}`, "MISSING_USER_ID"},
		{"missing text", `{"userId": "u1"}`, "MISSING_TEXT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewChatHandler(&fakeRunner{}, defaultPrompts(), log.NewNop())
			rec := postChat(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var out ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.Equal(t, tt.code, out.Error)
		})
	}
}

func TestHandleChatConfigurationError(t *testing.T) {
	t.Parallel()

	h := NewChatHandler(&fakeRunner{}, &fakePrompts{err: promptcfg.ErrConfigurationMissing}, log.NewNop())
	rec := postChat(t, h, `{"userId": "u1", "text": "hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "CONFIGURATION_ERROR", out.Error)
}

func TestHandleChatRunnerError(t *testing.T) {
	t.Parallel()

	h := NewChatHandler(&fakeRunner{err: errors.New("history unavailable")}, defaultPrompts(), log.NewNop())
	rec := postChat(t, h, `{"userId": "u1", "text": "hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "CHAT_ERROR", out.Error)
	assert.Contains(t, out.Message, "history unavailable")
}
