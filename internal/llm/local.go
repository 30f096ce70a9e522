package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// LocalClient talks to an Ollama server's /api/chat endpoint.
type LocalClient struct {
	HTTPClient *http.Client
	Logger     *slog.Logger

	settings Settings
	est      Estimator
}

// NewLocalClient creates a LocalClient for s.OllamaHost.
func NewLocalClient(s Settings, est Estimator) *LocalClient {
	return &LocalClient{
		HTTPClient: &http.Client{},
		Logger:     slog.Default(),
		settings:   s.withDefaults(),
		est:        defaultEstimator(est),
	}
}

// Name returns the backend name.
func (c *LocalClient) Name() string { return "ollama" }

// Model returns the configured model id.
func (c *LocalClient) Model() string { return c.settings.Model }

// SetModel switches the model for subsequent calls.
func (c *LocalClient) SetModel(model string) { c.settings.Model = model }

// Complete sends a chat request with streaming disabled.
func (c *LocalClient) Complete(ctx context.Context, messages []Message) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.settings.LocalTimeout)
	defer cancel()

	messages = copyMessages(messages)
	resp, err := c.post(callCtx, messages, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out localResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, transportError("Ollama API error: decode response", resp.StatusCode, err)
	}
	if out.Error != "" {
		return nil, transportError("Ollama API error", resp.StatusCode, errors.New(out.Error))
	}

	res := &Result{
		Content: out.Message.Content,
		Model:   firstNonEmpty(out.Model, c.settings.Model),
	}
	var reported *Usage
	if out.PromptEvalCount > 0 || out.EvalCount > 0 {
		reported = &Usage{PromptTokens: out.PromptEvalCount, CompletionTokens: out.EvalCount}
	}
	res.Usage = resolveUsage(ctx, c.est, reported, messages, res.Content, c.settings.Model)
	return res, nil
}

// CompleteStream sends a chat request with streaming enabled and calls cb for
// each content delta.
func (c *LocalClient) CompleteStream(ctx context.Context, messages []Message, cb StreamCallback) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.settings.LocalTimeout)
	defer cancel()

	messages = copyMessages(messages)
	resp, err := c.post(callCtx, messages, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dec := NewNDJSONDecoder(resp.Body)
	for d := range dec.Deltas() {
		if cb != nil {
			cb(d)
		}
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Content: dec.Text(),
		Model:   firstNonEmpty(dec.Model(), c.settings.Model),
	}
	res.Usage = resolveUsage(ctx, c.est, dec.Usage(), messages, res.Content, c.settings.Model)
	return res, nil
}

func (c *LocalClient) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	body := localRequest{
		Model:    c.settings.Model,
		Messages: messages,
		Stream:   stream,
		Options: localOptions{
			Temperature: c.settings.Temperature,
			NumPredict:  c.settings.MaxTokens,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, transportError("Ollama API error: marshal request", 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.OllamaHost+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, transportError("Ollama API error: create request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.Logger.Debug("sending local chat", "host", c.settings.OllamaHost, "model", c.settings.Model, "stream", stream)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isUnreachable(err) {
			return nil, connectivityError(c.settings.OllamaHost, c.settings.Model, err)
		}
		return nil, transportError("Ollama API error", 0, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, missingModelError(c.settings.Model)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body := readErrorBody(resp)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			c.Logger.Warn("Ollama API error details", "status", resp.StatusCode, "body", string(body))
		}
		detail := strings.TrimSpace(string(body))
		var out localResponse
		if json.Unmarshal(body, &out) == nil && out.Error != "" {
			detail = out.Error
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, transportError(fmt.Sprintf("Ollama API error: status %d", resp.StatusCode), resp.StatusCode, errors.New(detail))
	}
	return resp, nil
}

// isUnreachable reports whether err is a refused or failed dial.
func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
