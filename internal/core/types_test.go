package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequest_RoundTripPreservesExtraFields(t *testing.T) {
	body := `{
		"model": "llama3.1:8b",
		"temperature": 0.2,
		"options": {"num_ctx": 4096},
		"messages": [
			{"role": "user", "content": "hi", "name": "jane"},
			{"role": "tool", "content": [{"type": "text", "text": "x"}]}
		]
	}`

	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.Equal(t, "llama3.1:8b", req.Model)
	assert.False(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Extra, "temperature")
	assert.Contains(t, req.Extra, "options")
	assert.Contains(t, req.Messages[0].Extra, "name")

	out, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, 0.2, decoded["temperature"])
	assert.Equal(t, map[string]any{"num_ctx": float64(4096)}, decoded["options"])
	assert.Equal(t, false, decoded["stream"])

	msgs := decoded["messages"].([]any)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "jane", first["name"])
	second := msgs[1].(map[string]any)
	assert.IsType(t, []any{}, second["content"])
}

func TestChatRequest_StreamNullIsFalse(t *testing.T) {
	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","messages":[],"stream":null}`), &req))
	assert.False(t, req.Stream)

	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","messages":[],"stream":true}`), &req))
	assert.True(t, req.Stream)
}

func TestChatRequest_RejectsWrongTypes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "model not a string", body: `{"model": 3, "messages": []}`},
		{name: "messages not an array", body: `{"model": "m", "messages": "hi"}`},
		{name: "role not a string", body: `{"model": "m", "messages": [{"role": 1, "content": "x"}]}`},
		{name: "message not an object", body: `{"model": "m", "messages": ["x"]}`},
		{name: "payload not an object", body: `[1,2]`},
		{name: "stream not a bool", body: `{"model": "m", "messages": [], "stream": "yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ChatRequest
			assert.Error(t, json.Unmarshal([]byte(tt.body), &req))
		})
	}
}

func TestChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{name: "valid", req: ChatRequest{Model: "m", Messages: []Message{{Role: "user"}}}},
		{name: "empty messages allowed", req: ChatRequest{Model: "m", Messages: []Message{}}},
		{name: "missing model", req: ChatRequest{Messages: []Message{}}, wantErr: true},
		{name: "missing messages", req: ChatRequest{Model: "m"}, wantErr: true},
		{name: "empty role", req: ChatRequest{Model: "m", Messages: []Message{{Role: ""}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var gwErr *GatewayError
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, ErrorTypeInvalidRequest, gwErr.Type)
		})
	}
}

func TestMessage_Text(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{name: "string", content: `"hello"`, want: "hello", ok: true},
		{name: "escaped string", content: `"a\nb é"`, want: "a\nb é", ok: true},
		{name: "array", content: `[{"type":"text","text":"hi"}]`, ok: false},
		{name: "null", content: `null`, ok: false},
		{name: "number", content: `42`, ok: false},
		{name: "missing", content: ``, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Message{Role: "user"}
			if tt.content != "" {
				msg.Content = json.RawMessage(tt.content)
			}
			got, ok := msg.Text()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessage_WithTextDoesNotAlias(t *testing.T) {
	orig := Message{
		Role:    "user",
		Content: json.RawMessage(`"secret"`),
		Extra:   map[string]json.RawMessage{"name": json.RawMessage(`"jane"`)},
	}

	masked := orig.WithText("[REDACTED_EMAIL]")
	masked.Extra["name"] = json.RawMessage(`"changed"`)

	text, ok := orig.Text()
	require.True(t, ok)
	assert.Equal(t, "secret", text)
	assert.JSONEq(t, `"jane"`, string(orig.Extra["name"]))

	maskedText, ok := masked.Text()
	require.True(t, ok)
	assert.Equal(t, "[REDACTED_EMAIL]", maskedText)
}

func TestChatRequest_WithoutStreaming(t *testing.T) {
	req := &ChatRequest{
		Model:    "m",
		Stream:   true,
		Messages: []Message{{Role: "user", Content: json.RawMessage(`"a"`)}},
		Extra:    map[string]json.RawMessage{"keep_alive": json.RawMessage(`"5m"`)},
	}

	out := req.WithoutStreaming([]Message{{Role: "user", Content: json.RawMessage(`"b"`)}})

	assert.False(t, out.Stream)
	assert.True(t, req.Stream, "original request must not be mutated")
	text, _ := req.Messages[0].Text()
	assert.Equal(t, "a", text)
	assert.JSONEq(t, `"5m"`, string(out.Extra["keep_alive"]))
}
