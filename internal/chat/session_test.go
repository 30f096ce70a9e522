package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holasoymalva/deepseek-cli/internal/config"
	"github.com/holasoymalva/deepseek-cli/internal/instructions"
	"github.com/holasoymalva/deepseek-cli/internal/llm"
	"github.com/holasoymalva/deepseek-cli/internal/models"
	"github.com/holasoymalva/deepseek-cli/internal/prompts"
	"github.com/holasoymalva/deepseek-cli/internal/render"
	"github.com/holasoymalva/deepseek-cli/internal/tokens"
)

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

// fakeServer answers chat completions with "Hi there" and records requests.
// Requests whose last message is "fail" get a 500.
func fakeServer(t *testing.T, seen *[]wireRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if seen != nil {
			*seen = append(*seen, req)
		}
		if last := req.Messages[len(req.Messages)-1]; last.Content == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"upstream exploded"}}`)
			return
		}
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			if last := req.Messages[len(req.Messages)-1]; last.Content == "fail mid-stream" {
				fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi \"}}]}\n\n")
				fmt.Fprint(w, "data: {\"error\":{\"message\":\"Internal server error\"}}\n\n")
				return
			}
			if req.Model == llm.ReasonerModel {
				fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"thinking\"}}]}\n\n")
			}
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi \"}}]}\n\n")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"there\"}}]}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		reasoning := ""
		if req.Model == llm.ReasonerModel {
			reasoning = "step by step"
		}
		fmt.Fprintf(w, `{"id":"1","model":%q,"choices":[{"message":{"role":"assistant","content":"Hi there","reasoning_content":%q}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
			req.Model, reasoning)
	}))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Model = "deepseek-chat"
	cfg.APIKey = "sk-test"
	return cfg
}

func newTestSession(t *testing.T, cfg *config.Config, url string, buf *bytes.Buffer) *Session {
	t.Helper()
	r, err := render.NewRenderer(buf, render.Options{NoColor: true})
	require.NoError(t, err)
	est := tokens.NewEstimator(nil, tokens.PeriodStandard, nil)
	client := llm.NewCloudClient(llm.Settings{Model: cfg.Model, APIKey: cfg.APIKey, APIURL: url, MaxTokens: cfg.MaxTokens}, est)
	s, err := NewSession(cfg, Deps{Client: client, Renderer: r, Estimator: est})
	require.NoError(t, err)
	return s
}

func lines(inputs ...string) InputReader {
	idx := 0
	return func(_ string) (string, error) {
		if idx >= len(inputs) {
			return "", io.EOF
		}
		line := inputs[idx]
		idx++
		return line, nil
	}
}

func TestConversationPreamble(t *testing.T) {
	c := NewConversation("be brief")
	require.Equal(t, 1, c.Len())
	assert.Equal(t, llm.Message{Role: llm.RoleSystem, Content: "be brief"}, c.Snapshot()[0])

	require.NoError(t, c.Append(llm.RoleUser, "q"))
	require.NoError(t, c.Append(llm.RoleAssistant, "a"))
	assert.Equal(t, 3, c.Len())

	c.Reset()
	assert.Equal(t, []llm.Message{{Role: llm.RoleSystem, Content: "be brief"}}, c.Snapshot())
}

func TestConversationEmptyPreamble(t *testing.T) {
	c := NewConversation("")
	assert.Equal(t, 0, c.Len())
	require.NoError(t, c.Append(llm.RoleUser, "q"))
	c.Reset()
	assert.Empty(t, c.Snapshot())
}

func TestConversationRejectsSystemAppend(t *testing.T) {
	c := NewConversation("p")
	assert.Error(t, c.Append(llm.RoleSystem, "second preamble"))
	assert.Error(t, c.Append("tool", "x"))
	assert.Equal(t, 1, c.Len())
}

func TestConversationSnapshotIsCopy(t *testing.T) {
	c := NewConversation("p")
	require.NoError(t, c.Append(llm.RoleUser, "q"))
	snap := c.Snapshot()
	snap[1].Content = "changed"
	_ = append(snap, llm.Message{Role: llm.RoleUser, Content: "extra"})
	assert.Equal(t, "q", c.Snapshot()[1].Content)
	assert.Equal(t, 2, c.Len())
}

func TestNewSessionRequiresDeps(t *testing.T) {
	_, err := NewSession(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestAskAppendsOnSuccess(t *testing.T) {
	var seen []wireRequest
	srv := fakeServer(t, &seen)
	defer srv.Close()

	var buf bytes.Buffer
	s := newTestSession(t, testConfig(), srv.URL, &buf)

	res, err := s.Ask(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Content)
	assert.Equal(t, 3, res.Usage.PromptTokens)
	assert.Equal(t, 2, res.Usage.CompletionTokens)
	assert.Equal(t, 5, res.Usage.TotalTokens)
	assert.Greater(t, res.Usage.EstimatedCost, 0.0)

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, prompts.Preamble, msgs[0].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "Hello"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "Hi there"}, msgs[2])

	require.Len(t, seen, 1)
	assert.Len(t, seen[0].Messages, 2, "preamble + prompt")

	assert.Contains(t, buf.String(), "Hi there")
	assert.Contains(t, buf.String(), "Tokens: 5 (prompt 3, completion 2)")

	totals := s.Totals()
	assert.Equal(t, 1, totals.RequestCount)
	assert.Equal(t, 5, totals.Usage.TotalTokens)
}

func TestAskSendsHistory(t *testing.T) {
	var seen []wireRequest
	srv := fakeServer(t, &seen)
	defer srv.Close()

	s := newTestSession(t, testConfig(), srv.URL, &bytes.Buffer{})
	_, err := s.Ask(context.Background(), "first")
	require.NoError(t, err)
	_, err = s.Ask(context.Background(), "second")
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Len(t, seen[1].Messages, 4)
	assert.Equal(t, "first", seen[1].Messages[1].Content)
	assert.Equal(t, "Hi there", seen[1].Messages[2].Content)
	assert.Equal(t, "second", seen[1].Messages[3].Content)
}

func TestAskLeavesConversationOnError(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	s := newTestSession(t, testConfig(), srv.URL, &bytes.Buffer{})
	before := s.Messages()

	_, err := s.Ask(context.Background(), "fail")
	require.Error(t, err)
	assert.Equal(t, before, s.Messages())
	assert.Equal(t, 0, s.Totals().RequestCount)
}

func TestAskStreaming(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	cfg := testConfig()
	cfg.Stream = true
	var buf bytes.Buffer
	s := newTestSession(t, cfg, srv.URL, &buf)

	res, err := s.Ask(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Content)
	assert.Contains(t, buf.String(), "Hi there\n")

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hi there", msgs[2].Content)

	u := s.Totals().Usage
	assert.Equal(t, u.PromptTokens+u.CompletionTokens, u.TotalTokens)
	assert.Greater(t, u.TotalTokens, 0)
}

func TestAskStreamingProviderError(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	cfg := testConfig()
	cfg.Stream = true
	s := newTestSession(t, cfg, srv.URL, &bytes.Buffer{})
	before := s.Messages()

	_, err := s.Ask(context.Background(), "fail mid-stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Internal server error")
	assert.Equal(t, before, s.Messages())
	assert.Equal(t, 0, s.Totals().RequestCount)
}

func TestReasonShowsReasoning(t *testing.T) {
	var seen []wireRequest
	srv := fakeServer(t, &seen)
	defer srv.Close()

	var buf bytes.Buffer
	s := newTestSession(t, testConfig(), srv.URL, &buf)

	res, err := s.Reason(context.Background(), "solve x")
	require.NoError(t, err)
	assert.Equal(t, "step by step", res.ReasoningContent)
	assert.Contains(t, buf.String(), "Reasoning:\nstep by step\nAnswer:")

	require.Len(t, seen, 1)
	assert.Equal(t, llm.ReasonerModel, seen[0].Model)
	for _, m := range seen[0].Messages {
		assert.NotEqual(t, llm.RoleSystem, m.Role)
	}
	// The preamble stays in the session's own history.
	assert.Equal(t, llm.RoleSystem, s.Messages()[0].Role)
	assert.Equal(t, 1, s.Totals().ModelsUsed[llm.ReasonerModel])
}

func TestReasonStreamingWithShowReasoning(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	cfg := testConfig()
	cfg.Stream = true
	cfg.ShowReasoning = true
	var buf bytes.Buffer
	s := newTestSession(t, cfg, srv.URL, &buf)

	_, err := s.Reason(context.Background(), "solve")
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Reasoning:\nthinking\nAnswer:\nHi there")
}

func TestReasonStreamingShowsReasoning(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	cfg := testConfig()
	cfg.Stream = true
	var buf bytes.Buffer
	s := newTestSession(t, cfg, srv.URL, &buf)

	_, err := s.Reason(context.Background(), "solve")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Reasoning:\nthinking\nAnswer:\nHi there")
}

func TestAskStreamingHidesReasoning(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	cfg := testConfig()
	cfg.Stream = true
	cfg.Model = llm.ReasonerModel
	var buf bytes.Buffer
	s := newTestSession(t, cfg, srv.URL, &buf)

	_, err := s.Ask(context.Background(), "solve")
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "thinking")
	assert.Contains(t, buf.String(), "Hi there")
}

func TestRunQuit(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	s := newTestSession(t, testConfig(), srv.URL, &bytes.Buffer{})
	require.NoError(t, s.Run(context.Background(), lines("/quit", "never read")))
}

func TestRunExitWord(t *testing.T) {
	var seen []wireRequest
	srv := fakeServer(t, &seen)
	defer srv.Close()

	s := newTestSession(t, testConfig(), srv.URL, &bytes.Buffer{})
	require.NoError(t, s.Run(context.Background(), lines("exit", "Hello")))
	assert.Empty(t, seen)
}

func TestRunEOF(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	s := newTestSession(t, testConfig(), srv.URL, &bytes.Buffer{})
	require.NoError(t, s.Run(context.Background(), lines()))
}

func TestRunChatAndClear(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	var buf bytes.Buffer
	s := newTestSession(t, testConfig(), srv.URL, &buf)

	require.NoError(t, s.Run(context.Background(), lines("Hello", "/clear", "/quit")))
	assert.Contains(t, buf.String(), "Conversation cleared.")
	assert.Equal(t, []llm.Message{{Role: llm.RoleSystem, Content: prompts.Preamble}}, s.Messages())
	assert.Equal(t, 1, s.Totals().RequestCount, "totals survive a clear")
}

func TestRunContinuesAfterError(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	var buf bytes.Buffer
	s := newTestSession(t, testConfig(), srv.URL, &buf)

	require.NoError(t, s.Run(context.Background(), lines("fail", "Hello", "quit")))
	assert.Contains(t, buf.String(), "Error: API error: status 500")
	assert.Len(t, s.Messages(), 3)
}

func TestRunCancelledTurn(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	var buf bytes.Buffer
	r, err := render.NewRenderer(&buf, render.Options{NoColor: true})
	require.NoError(t, err)

	client := llm.NewCloudClient(llm.Settings{APIKey: "k", APIURL: srv.URL}, tokens.NewEstimator(nil, "", nil))
	s, err := NewSession(testConfig(), Deps{
		Client:   client,
		Renderer: r,
		TurnContext: func(ctx context.Context) (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(ctx)
			cancel()
			return ctx, cancel
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background(), lines("Hello", "/quit")))
	assert.Contains(t, buf.String(), "Request cancelled.")
	assert.Len(t, s.Messages(), 1)
}

func TestRunStopsWhenContextDone(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	s := newTestSession(t, testConfig(), srv.URL, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var reads atomic.Int32
	err := s.Run(ctx, func(string) (string, error) {
		reads.Add(1)
		return "Hello", nil
	})
	require.NoError(t, err)
	assert.Zero(t, reads.Load())
}

func TestEmptyInput(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	s := newTestSession(t, testConfig(), srv.URL, &bytes.Buffer{})
	require.NoError(t, s.Run(context.Background(), lines("", "  ", "/quit")))
	assert.Len(t, s.Messages(), 1)
}

func TestUsageCommand(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	var buf bytes.Buffer
	s := newTestSession(t, testConfig(), srv.URL, &buf)
	require.NoError(t, s.Run(context.Background(), lines("Hello", "Hello again", "/usage", "/quit")))
	assert.Contains(t, buf.String(), "Requests: 2")
	assert.Contains(t, buf.String(), "Tokens: 10 (prompt 6, completion 4)")
}

func TestReasonCommand(t *testing.T) {
	var seen []wireRequest
	srv := fakeServer(t, &seen)
	defer srv.Close()

	s := newTestSession(t, testConfig(), srv.URL, &bytes.Buffer{})
	require.NoError(t, s.Run(context.Background(), lines("/reason why", "/quit")))
	require.Len(t, seen, 1)
	assert.Equal(t, llm.ReasonerModel, seen[0].Model)
}

func TestTokensCommand(t *testing.T) {
	srv := fakeServer(t, nil)
	defer srv.Close()

	var buf bytes.Buffer
	s := newTestSession(t, testConfig(), srv.URL, &buf)
	require.NoError(t, s.Run(context.Background(), lines("/tokens one two three", "/quit")))
	assert.Contains(t, buf.String(), "Tokens: ~4 (approximate)")
}

func TestSwitchModel(t *testing.T) {
	var seen []wireRequest
	srv := fakeServer(t, &seen)
	defer srv.Close()

	var buf bytes.Buffer
	cfg := testConfig()
	s := newTestSession(t, cfg, srv.URL, &buf)
	require.NoError(t, s.Run(context.Background(), lines("/model deepseek-reasoner", "Hello", "/config", "/quit")))
	assert.Contains(t, buf.String(), "Switched to model: deepseek-reasoner")
	assert.Contains(t, buf.String(), "Model: deepseek-reasoner")
	require.Len(t, seen, 1)
	assert.Equal(t, "deepseek-reasoner", seen[0].Model)
	assert.Equal(t, "deepseek-chat", cfg.Model)
}

func TestListModels(t *testing.T) {
	tags := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"deepseek-coder:6.7b"},{"name":"llama3:latest"}]}`)
	}))
	defer tags.Close()

	r, err := render.NewRenderer(&bytes.Buffer{}, render.Options{NoColor: true})
	require.NoError(t, err)
	cfg := testConfig()
	cfg.UseLocal = true
	cfg.Model = "deepseek-coder:6.7b"
	client := llm.NewLocalClient(llm.Settings{UseLocal: true, Model: cfg.Model, OllamaHost: tags.URL}, nil)
	s, err := NewSession(cfg, Deps{Client: client, Renderer: r, Models: models.NewLocalManager(tags.URL)})
	require.NoError(t, err)

	out := s.switchModel("")
	assert.Equal(t, "Available models:\n* deepseek-coder:6.7b\n  llama3:latest", out)
}

func TestShowConfigMasksKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "sk-0123456789test"
	s := newTestSession(t, cfg, "http://unused", &bytes.Buffer{})
	out := s.showConfig()
	assert.Contains(t, out, "deepseek-chat")
	assert.Contains(t, out, "sk-...test")
	assert.NotContains(t, out, cfg.APIKey)
}

func TestInstructionsExtendPreamble(t *testing.T) {
	path := filepath.Join(t.TempDir(), instructions.FileName)
	require.NoError(t, os.WriteFile(path, []byte("Prefer table-driven tests."), 0o644))
	set, err := instructions.Load(path)
	require.NoError(t, err)

	r, err := render.NewRenderer(&bytes.Buffer{}, render.Options{NoColor: true})
	require.NoError(t, err)
	client := llm.NewCloudClient(llm.Settings{APIKey: "k"}, nil)
	s, err := NewSession(testConfig(), Deps{Client: client, Renderer: r, Instructions: set})
	require.NoError(t, err)

	preamble := s.Messages()[0].Content
	assert.Contains(t, preamble, prompts.Preamble)
	assert.Contains(t, preamble, "Prefer table-driven tests.")
	assert.Contains(t, s.instr.String(), path)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "(not set)", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "sk-...cdef", maskKey("sk-0123456789abcdef"))
}
