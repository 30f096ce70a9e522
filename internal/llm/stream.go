package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
)

const (
	ssePrefix   = "data:"
	sseSentinel = "[DONE]"
)

// lineParser turns one raw line into a delta. done reports end of stream.
type lineParser func(line []byte) (d Delta, usage *Usage, done bool)

// Decoder incrementally parses a streamed response body into deltas.
//
// Lines are read whole, so a JSON object split across network chunks is
// reassembled before it is parsed.
type Decoder struct {
	r     *bufio.Reader
	parse lineParser

	text      strings.Builder
	reasoning strings.Builder
	usage     *Usage
	model     string
	err       error
	done      bool
}

// NewSSEDecoder returns a Decoder for OpenAI-style server-sent events.
func NewSSEDecoder(r io.Reader) *Decoder {
	d := &Decoder{r: bufio.NewReader(r)}
	d.parse = d.parseSSE
	return d
}

// NewNDJSONDecoder returns a Decoder for Ollama's newline-delimited JSON stream.
func NewNDJSONDecoder(r io.Reader) *Decoder {
	d := &Decoder{r: bufio.NewReader(r)}
	d.parse = d.parseNDJSON
	return d
}

// Deltas returns a single-use sequence of non-empty deltas in arrival order.
// Breaking out of the range stops reading from the body.
func (d *Decoder) Deltas() iter.Seq[Delta] {
	return func(yield func(Delta) bool) {
		for !d.done {
			line, err := d.r.ReadBytes('\n')
			if len(line) > 0 {
				delta, usage, done := d.parse(bytes.TrimSpace(line))
				if usage != nil {
					d.usage = usage
				}
				if delta.Content != "" || delta.Reasoning != "" {
					d.text.WriteString(delta.Content)
					d.reasoning.WriteString(delta.Reasoning)
					if !yield(delta) {
						return
					}
				}
				if done {
					d.done = true
					return
				}
			}
			if err != nil {
				d.done = true
				if !errors.Is(err, io.EOF) {
					d.err = decodeError(err)
				}
				return
			}
		}
	}
}

// Text returns all content accumulated so far.
func (d *Decoder) Text() string { return d.text.String() }

// Reasoning returns all reasoning content accumulated so far.
func (d *Decoder) Reasoning() string { return d.reasoning.String() }

// Usage returns usage reported inside the stream, or nil.
func (d *Decoder) Usage() *Usage { return d.usage }

// Model returns the model name reported by the stream, if any.
func (d *Decoder) Model() string { return d.model }

// Err returns the first non-EOF read error, or the error the provider
// reported inside the stream.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) parseSSE(line []byte) (Delta, *Usage, bool) {
	if !bytes.HasPrefix(line, []byte(ssePrefix)) {
		return Delta{}, nil, false
	}
	data := bytes.TrimSpace(line[len(ssePrefix):])
	if string(data) == sseSentinel {
		return Delta{}, nil, true
	}
	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return Delta{}, nil, false
	}
	if chunk.Error != nil {
		d.err = streamFailureError("API error", chunk.Error.Message, chunk.Error.Type)
		return Delta{}, nil, true
	}
	if chunk.Model != "" {
		d.model = chunk.Model
	}
	if len(chunk.Choices) == 0 {
		return Delta{}, chunk.Usage, false
	}
	c := chunk.Choices[0].Delta
	return Delta{Content: c.Content, Reasoning: c.ReasoningContent}, chunk.Usage, false
}

func (d *Decoder) parseNDJSON(line []byte) (Delta, *Usage, bool) {
	if len(line) == 0 {
		return Delta{}, nil, false
	}
	var resp localResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Delta{}, nil, false
	}
	if resp.Error != "" {
		d.err = streamFailureError("Ollama API error", resp.Error, "")
		return Delta{}, nil, true
	}
	if resp.Model != "" {
		d.model = resp.Model
	}
	var usage *Usage
	if resp.Done && (resp.PromptEvalCount > 0 || resp.EvalCount > 0) {
		usage = &Usage{PromptTokens: resp.PromptEvalCount, CompletionTokens: resp.EvalCount}
	}
	return Delta{Content: resp.Message.Content}, usage, resp.Done
}

func streamFailureError(prefix, message, kind string) *Error {
	if message == "" {
		message = "stream failed"
		if kind != "" {
			message += " (" + kind + ")"
		}
	}
	return transportError(prefix, 0, errors.New(message))
}
