package chat

import (
	"fmt"

	"github.com/holasoymalva/deepseek-cli/internal/llm"
)

// Conversation is the ordered message list of one session. The preamble, if
// any, is always the first message and is never duplicated.
type Conversation struct {
	preamble string
	messages []llm.Message
}

// NewConversation starts a conversation holding only the preamble.
// An empty preamble yields an empty conversation.
func NewConversation(preamble string) *Conversation {
	c := &Conversation{preamble: preamble}
	c.Reset()
	return c
}

// Append adds a user or assistant turn.
func (c *Conversation) Append(role, content string) error {
	switch role {
	case llm.RoleUser, llm.RoleAssistant:
	default:
		return fmt.Errorf("append message: invalid role %q", role)
	}
	c.messages = append(c.messages, llm.Message{Role: role, Content: content})
	return nil
}

// Snapshot returns a copy of the messages. Mutating it does not affect c.
func (c *Conversation) Snapshot() []llm.Message {
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Reset drops every turn, leaving exactly the preamble.
func (c *Conversation) Reset() {
	c.messages = c.messages[:0:0]
	if c.preamble != "" {
		c.messages = append(c.messages, llm.Message{Role: llm.RoleSystem, Content: c.preamble})
	}
}

// Len returns the number of messages, including the preamble.
func (c *Conversation) Len() int { return len(c.messages) }
