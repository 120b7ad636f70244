package assist

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
)

type recordingServer struct {
	*httptest.Server
	last oaiChatRequest
	auth string
}

func newLLMServer(t *testing.T, status int, body string) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		rs.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&rs.last)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func chatBody(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(raw)
}

func newTestService(srv *recordingServer) *Service {
	client := NewClient(srv.URL+"/v1/", "sk-test")
	return NewService(client, client.Configured(), Options{})
}

func TestAssistImproveSendsPromptAndTrimsResult(t *testing.T) {
	srv := newLLMServer(t, http.StatusOK, chatBody("  Polished text.\n"))
	svc := newTestService(srv)

	out, err := svc.Assist(context.Background(), Request{Action: ActionImprove, Text: "some txt"})
	require.NoError(t, err)
	assert.Equal(t, "Polished text.", out)

	assert.Equal(t, "Bearer sk-test", srv.auth)
	assert.Equal(t, "gpt-3.5-turbo", srv.last.Model)
	assert.Equal(t, 0.7, srv.last.Temperature)
	assert.Equal(t, 500, srv.last.MaxTokens)
	require.Len(t, srv.last.Messages, 2)
	assert.Equal(t, "system", srv.last.Messages[0].Role)
	assert.Equal(t, defaultSystemPrompt, srv.last.Messages[0].Content)
	assert.True(t, strings.HasSuffix(srv.last.Messages[1].Content, ":\n\nsome txt"))
}

func TestAssistUpstreamErrorCarriesBody(t *testing.T) {
	srv := newLLMServer(t, http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`)
	svc := newTestService(srv)

	_, err := svc.Assist(context.Background(), Request{Action: ActionGrammar, Text: "x"})
	require.Error(t, err)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.Status)
	assert.Equal(t, `OpenAI API error: {"error":{"message":"rate limited"}}`, err.Error())
}

func TestAssistEmptyChoicesIsEmptyResult(t *testing.T) {
	srv := newLLMServer(t, http.StatusOK, `{"choices":[]}`)
	out, err := newTestService(srv).Assist(context.Background(), Request{Action: ActionSummarize, Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestAssistWithoutKeyFailsBeforeValidation(t *testing.T) {
	client := NewClient("https://api.openai.com/v1", "")
	svc := NewService(client, client.Configured(), Options{})

	_, err := svc.Assist(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBuildPromptValidationOrder(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		msg  string
	}{
		{"missing action", Request{Text: "x"}, "Missing required field: action"},
		{"missing text", Request{Action: ActionImprove}, "Missing required field: text"},
		{"unknown action", Request{Action: "poetry", Text: "x"}, "Invalid action"},
		{"custom without prompt", Request{Action: ActionCustom, Text: "x"}, "Custom prompt is required for custom action"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildPrompt(tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, tc.msg, err.Error())
		})
	}
}

func TestBuildPromptParameters(t *testing.T) {
	for _, action := range []Action{ActionImprove, ActionGrammar, ActionShorter, ActionLonger, ActionTranslate, ActionSummarize, ActionContinue} {
		p, err := BuildPrompt(Request{Action: action, Text: "body"})
		require.NoError(t, err, action)
		wantTemp := 0.7
		if action == ActionGrammar {
			wantTemp = 0.3
		}
		wantTokens := 500
		if action == ActionLonger || action == ActionSummarize {
			wantTokens = 1000
		}
		assert.Equal(t, wantTemp, p.Temperature, action)
		assert.Equal(t, wantTokens, p.MaxTokens, action)
		assert.True(t, strings.HasSuffix(p.User, "body"), action)
	}

	custom, err := BuildPrompt(Request{Action: ActionCustom, Text: "body", CustomPrompt: "Rhyme it"})
	require.NoError(t, err)
	assert.Equal(t, "Rhyme it\n\nText: body\n\nRespond in English only.", custom.User)
}

func TestBuildPromptChat(t *testing.T) {
	p, err := BuildPrompt(Request{Action: ActionChat, Text: "Is my intro clear?"})
	require.NoError(t, err)
	assert.Contains(t, p.System, `titled "Untitled"`)
	assert.Contains(t, p.User, "Document Context:\nNo document content available\n\nUser Question: Is my intro clear?")
	assert.Equal(t, 1000, p.MaxTokens)

	long := strings.Repeat("a", 4100)
	p, err = BuildPrompt(Request{Action: ActionChat, Text: "q", DocumentContext: long, DocumentTitle: "Thesis"})
	require.NoError(t, err)
	assert.Contains(t, p.System, `titled "Thesis"`)
	assert.Contains(t, p.User, strings.Repeat("a", 4000)+"...\n\n")
	assert.NotContains(t, p.User, strings.Repeat("a", 4001))
}

func TestContextPreviewKeepsShortContext(t *testing.T) {
	assert.Equal(t, "short", contextPreview("short"))
	exact := strings.Repeat("b", 4000)
	assert.Equal(t, exact, contextPreview(exact))
}
