package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// ChatRequest represents the incoming chat completion request.
// Fields the gateway does not interpret are kept in Extra and forwarded untouched.
type ChatRequest struct {
	Model    string
	Messages []Message
	Stream   bool
	Extra    map[string]json.RawMessage
}

// Message represents a single message in the chat.
// Content is kept as raw JSON because clients may send structured (non-string) content.
type Message struct {
	Role    string
	Content json.RawMessage
	Extra   map[string]json.RawMessage
}

var errNotObject = errors.New("expected a JSON object")

// UnmarshalJSON decodes a message while preserving unknown fields.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errNotObject
	}

	*m = Message{}
	if raw, ok := fields["role"]; ok {
		if err := json.Unmarshal(raw, &m.Role); err != nil {
			return fmt.Errorf("role: %w", err)
		}
		delete(fields, "role")
	}
	if raw, ok := fields["content"]; ok {
		m.Content = append(json.RawMessage(nil), raw...)
		delete(fields, "content")
	}
	if len(fields) > 0 {
		m.Extra = fields
	}
	return nil
}

// MarshalJSON encodes the message with its passthrough fields.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+2)
	maps.Copy(out, m.Extra)

	role, err := json.Marshal(m.Role)
	if err != nil {
		return nil, err
	}
	out["role"] = role
	if m.Content != nil {
		out["content"] = m.Content
	}
	return json.Marshal(out)
}

// Text returns the content as a string when it is a JSON string.
// The second result is false for structured, null or missing content.
func (m Message) Text() (string, bool) {
	trimmed := bytes.TrimSpace(m.Content)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

// WithText returns a copy of the message whose content is replaced by text.
// The copy shares no mutable state with the receiver.
func (m Message) WithText(text string) Message {
	content, _ := json.Marshal(text) //nolint:errcheck // strings always marshal
	return Message{
		Role:    m.Role,
		Content: content,
		Extra:   maps.Clone(m.Extra),
	}
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	var content json.RawMessage
	if m.Content != nil {
		content = append(json.RawMessage(nil), m.Content...)
	}
	return Message{
		Role:    m.Role,
		Content: content,
		Extra:   maps.Clone(m.Extra),
	}
}

// UnmarshalJSON decodes a chat request while preserving unknown fields.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errNotObject
	}

	*r = ChatRequest{}
	if raw, ok := fields["model"]; ok {
		if err := json.Unmarshal(raw, &r.Model); err != nil {
			return fmt.Errorf("model: %w", err)
		}
		delete(fields, "model")
	}
	if raw, ok := fields["messages"]; ok {
		if err := json.Unmarshal(raw, &r.Messages); err != nil {
			return fmt.Errorf("messages: %w", err)
		}
		delete(fields, "messages")
	}
	if raw, ok := fields["stream"]; ok {
		var stream *bool
		if err := json.Unmarshal(raw, &stream); err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		r.Stream = stream != nil && *stream
		delete(fields, "stream")
	}
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

// MarshalJSON encodes the request with its passthrough fields.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+3)
	maps.Copy(out, r.Extra)

	model, err := json.Marshal(r.Model)
	if err != nil {
		return nil, err
	}
	out["model"] = model

	msgs := r.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	messages, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	out["messages"] = messages

	stream, err := json.Marshal(r.Stream)
	if err != nil {
		return nil, err
	}
	out["stream"] = stream
	return json.Marshal(out)
}

// Validate checks the fields the gateway relies on.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return NewInvalidRequestError("model is required", nil)
	}
	if r.Messages == nil {
		return NewInvalidRequestError("messages is required", nil)
	}
	for i, msg := range r.Messages {
		if msg.Role == "" {
			return NewInvalidRequestError(fmt.Sprintf("messages[%d].role is required", i), nil)
		}
	}
	return nil
}

// WithoutStreaming returns a copy of the request with Stream forced to false
// and its messages replaced by msgs. The receiver is not mutated.
func (r *ChatRequest) WithoutStreaming(msgs []Message) *ChatRequest {
	return &ChatRequest{
		Model:    r.Model,
		Messages: msgs,
		Stream:   false,
		Extra:    maps.Clone(r.Extra),
	}
}
