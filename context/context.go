// Package context maintains a bounded conversation window for multi-turn
// sessions. System messages survive trimming so instructions are never lost.
package context

import (
	"github.com/streamloop/toolstream/message"
)

const defaultMaxSize = 100

// Context holds the message history of one conversation.
type Context struct {
	messages []*message.Message
	maxSize  int
}

// New creates a conversation window with the default size.
func New() *Context {
	return NewWithMaxSize(defaultMaxSize)
}

// NewWithMaxSize creates a conversation window keeping at most maxSize
// messages.
func NewWithMaxSize(maxSize int) *Context {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Context{
		messages: make([]*message.Message, 0),
		maxSize:  maxSize,
	}
}

// AddMessage appends a message, trimming the oldest non-system messages
// once the window overflows.
func (c *Context) AddMessage(msg *message.Message) {
	c.messages = append(c.messages, msg)
	if len(c.messages) <= c.maxSize {
		return
	}

	systemMsgs := make([]*message.Message, 0)
	for _, m := range c.messages {
		if m.Role == message.RoleSystem {
			systemMsgs = append(systemMsgs, m)
		}
	}

	keepCount := c.maxSize - len(systemMsgs)
	if keepCount < 0 {
		keepCount = 0
	}
	recentMsgs := c.messages[len(c.messages)-keepCount:]

	newMessages := make([]*message.Message, 0, c.maxSize)
	newMessages = append(newMessages, systemMsgs...)
	for _, m := range recentMsgs {
		if m.Role != message.RoleSystem {
			newMessages = append(newMessages, m)
		}
	}
	c.messages = newMessages
}

// GetMessages returns all messages in the window.
func (c *Context) GetMessages() []*message.Message {
	return c.messages
}

// GetLastMessage returns the newest message or nil if the window is empty.
func (c *Context) GetLastMessage() *message.Message {
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

// GetMessagesByRole returns all messages with the given role.
func (c *Context) GetMessagesByRole(role message.Role) []*message.Message {
	result := make([]*message.Message, 0)
	for _, msg := range c.messages {
		if msg.Role == role {
			result = append(result, msg)
		}
	}
	return result
}

// Clear removes all messages.
func (c *Context) Clear() {
	c.messages = make([]*message.Message, 0)
}

// Size returns the current number of messages.
func (c *Context) Size() int {
	return len(c.messages)
}
