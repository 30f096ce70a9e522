package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// CloudClient talks to the DeepSeek chat-completions API.
type CloudClient struct {
	HTTPClient *http.Client
	Logger     *slog.Logger

	settings Settings
	est      Estimator
	limiter  *rate.Limiter
}

// NewCloudClient creates a CloudClient. Timeouts are applied per call via
// context, so the shared HTTP client carries none.
func NewCloudClient(s Settings, est Estimator) *CloudClient {
	s = s.withDefaults()
	c := &CloudClient{
		HTTPClient: &http.Client{},
		Logger:     slog.Default(),
		settings:   s,
		est:        defaultEstimator(est),
	}
	if s.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.RequestsPerMinute)), 1)
	}
	return c
}

// Name returns the backend name.
func (c *CloudClient) Name() string { return "deepseek" }

// Model returns the configured model id.
func (c *CloudClient) Model() string { return c.settings.Model }

// SetModel switches the model for subsequent calls.
func (c *CloudClient) SetModel(model string) { c.settings.Model = model }

// Complete sends a non-streaming chat completion request.
func (c *CloudClient) Complete(ctx context.Context, messages []Message) (*Result, error) {
	return c.complete(ctx, c.settings.Model, copyMessages(messages))
}

// CompleteStream sends a streaming request and calls cb for each delta.
func (c *CloudClient) CompleteStream(ctx context.Context, messages []Message, cb StreamCallback) (*Result, error) {
	return c.stream(ctx, c.settings.Model, copyMessages(messages), cb)
}

// Reason sends the conversation to the reasoning model. System messages are
// dropped because the reasoning model does not accept them.
func (c *CloudClient) Reason(ctx context.Context, messages []Message) (*Result, error) {
	return c.complete(ctx, ReasonerModel, withoutSystem(messages))
}

// ReasonStream is the streaming form of Reason. Reasoning deltas arrive in
// Delta.Reasoning before the answer content.
func (c *CloudClient) ReasonStream(ctx context.Context, messages []Message, cb StreamCallback) (*Result, error) {
	return c.stream(ctx, ReasonerModel, withoutSystem(messages), cb)
}

func (c *CloudClient) complete(ctx context.Context, model string, messages []Message) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.settings.CloudTimeout)
	defer cancel()

	resp, err := c.post(callCtx, c.newRequest(model, messages, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, transportError("API error: decode response", resp.StatusCode, err)
	}
	if len(out.Choices) == 0 {
		return nil, transportError("API error: response contained no choices", resp.StatusCode, nil)
	}

	msg := out.Choices[0].Message
	res := &Result{
		Content:          msg.Content,
		ReasoningContent: msg.ReasoningContent,
		Model:            firstNonEmpty(out.Model, model),
	}
	res.Usage = resolveUsage(ctx, c.est, out.Usage, messages, res.Content, model)
	return res, nil
}

func (c *CloudClient) stream(ctx context.Context, model string, messages []Message, cb StreamCallback) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.settings.CloudStreamTimeout)
	defer cancel()

	resp, err := c.post(callCtx, c.newRequest(model, messages, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dec := NewSSEDecoder(resp.Body)
	for d := range dec.Deltas() {
		if cb != nil {
			cb(d)
		}
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Content:          dec.Text(),
		ReasoningContent: dec.Reasoning(),
		Model:            firstNonEmpty(dec.Model(), model),
	}
	res.Usage = resolveUsage(ctx, c.est, dec.Usage(), messages, res.Content, model)
	return res, nil
}

func (c *CloudClient) newRequest(model string, messages []Message, stream bool) cloudRequest {
	req := cloudRequest{
		chatRequest: chatRequest{
			Model:       model,
			Messages:    messages,
			Temperature: c.settings.Temperature,
			MaxTokens:   c.settings.MaxTokens,
			Stream:      stream,
		},
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return req
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type cloudRequest struct {
	chatRequest
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

// wait blocks until the pacing limiter admits a request. It runs on the
// caller's context so the wait does not eat into the request timeout.
func (c *CloudClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return transportError("API error: pacing", 0, err)
	}
	return nil
}

func (c *CloudClient) post(ctx context.Context, body cloudRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, transportError("API error: marshal request", 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.APIURL, bytes.NewReader(data))
	if err != nil {
		return nil, transportError("API error: create request", 0, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.settings.APIKey)
	req.Header.Set("X-Request-ID", requestID)
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	c.Logger.Debug("sending chat completion",
		"request_id", requestID, "model", body.Model, "messages", len(body.Messages), "stream", body.Stream)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError("API error", 0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.statusError(requestID, resp.StatusCode, readErrorBody(resp))
	}
	return resp, nil
}

func (c *CloudClient) statusError(requestID string, status int, body []byte) error {
	if status >= 400 && status < 500 {
		c.Logger.Warn("API error details", "request_id", requestID, "status", status, "body", string(body))
	}
	switch status {
	case http.StatusUnauthorized:
		return authError()
	case http.StatusTooManyRequests:
		return rateLimitError()
	case http.StatusBadRequest:
		var apiErr apiErrorBody
		_ = json.Unmarshal(body, &apiErr)
		return badRequestError(apiErr.Error.Message)
	}

	detail := strings.TrimSpace(string(body))
	var apiErr apiErrorBody
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		detail = apiErr.Error.Message
	}
	if detail == "" {
		detail = http.StatusText(status)
	}
	return transportError(fmt.Sprintf("API error: status %d", status), status, errors.New(detail))
}

func withoutSystem(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
