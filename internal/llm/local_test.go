package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localSettings(host string) Settings {
	return Settings{
		UseLocal:    true,
		Model:       "deepseek-coder:6.7b",
		OllamaHost:  host,
		MaxTokens:   4096,
		Temperature: 0.1,
	}
}

func TestLocalComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req localRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-coder:6.7b", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, 4096, req.Options.NumPredict)
		assert.InDelta(t, 0.1, req.Options.Temperature, 1e-9)

		fmt.Fprint(w, `{"model":"deepseek-coder:6.7b","message":{"role":"assistant","content":"local answer"},"done":true}`)
	}))
	defer srv.Close()

	est := &fakeEstimator{}
	res, err := NewLocalClient(localSettings(srv.URL), est).Complete(context.Background(), []Message{{Role: RoleUser, Content: "write hello world"}})
	require.NoError(t, err)
	assert.Equal(t, "local answer", res.Content)
	assert.Equal(t, 3, res.Usage.PromptTokens)
	assert.Equal(t, 2, res.Usage.CompletionTokens)
	assert.Equal(t, 5, res.Usage.TotalTokens)
	assert.Len(t, est.counted, 2)
}

func TestLocalCompleteUsesReportedCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"content":"x"},"done":true,"prompt_eval_count":20,"eval_count":7}`)
	}))
	defer srv.Close()

	est := &fakeEstimator{}
	res, err := NewLocalClient(localSettings(srv.URL), est).Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 27, res.Usage.TotalTokens)
	assert.Empty(t, est.counted)
}

func TestLocalCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req localRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"content":"fn "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"main()"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"prompt_eval_count":9,"eval_count":2}`)
	}))
	defer srv.Close()

	var deltas []string
	res, err := NewLocalClient(localSettings(srv.URL), &fakeEstimator{}).CompleteStream(context.Background(), nil,
		func(d Delta) { deltas = append(deltas, d.Content) })
	require.NoError(t, err)
	assert.Equal(t, []string{"fn ", "main()"}, deltas)
	assert.Equal(t, "fn main()", res.Content)
	assert.Equal(t, 11, res.Usage.TotalTokens)
}

func TestLocalConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	host := srv.URL
	srv.Close()

	_, err := NewLocalClient(localSettings(host), &fakeEstimator{}).Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.Contains(t, err.Error(), host)
	assert.Contains(t, err.Error(), "ollama serve")
	assert.Contains(t, err.Error(), "ollama pull deepseek-coder:6.7b")

	_, err = NewLocalClient(localSettings(host), &fakeEstimator{}).CompleteStream(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrConnectivity)
}

func TestLocalModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"deepseek-coder:6.7b\" not found, try pulling it first"}`)
	}))
	defer srv.Close()

	_, err := NewLocalClient(localSettings(srv.URL), &fakeEstimator{}).Complete(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingModel)
	assert.Contains(t, err.Error(), "deepseek-coder:6.7b")
	assert.Contains(t, err.Error(), "ollama pull")
}

func TestLocalServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"out of memory"}`)
	}))
	defer srv.Close()

	client := NewLocalClient(localSettings(srv.URL), &fakeEstimator{})
	client.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := client.Complete(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Contains(t, err.Error(), "out of memory")

	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, http.StatusInternalServerError, llmErr.Status)
}

func TestLocalStreamErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model runner has unexpectedly stopped"}`)
	}))
	defer srv.Close()

	res, err := NewLocalClient(localSettings(srv.URL), &fakeEstimator{}).CompleteStream(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Contains(t, err.Error(), "model runner has unexpectedly stopped")
}

func TestLocalCompleteErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"context length exceeded"}`)
	}))
	defer srv.Close()

	_, err := NewLocalClient(localSettings(srv.URL), &fakeEstimator{}).Complete(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context length exceeded")
}
