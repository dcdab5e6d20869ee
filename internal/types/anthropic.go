package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessagesRequest is the inbound wire body for POST /v1/messages.
type MessagesRequest struct {
	Model       string          `json:"model"`
	Messages    []WireMessage   `json:"messages"`
	System      json.RawMessage `json:"system,omitempty"`
	Tools       []WireTool      `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// CountTokensRequest is the inbound body for POST /v1/messages/count_tokens.
type CountTokensRequest struct {
	Model    string          `json:"model"`
	Messages []WireMessage   `json:"messages"`
	System   json.RawMessage `json:"system,omitempty"`
	Tools    []WireTool      `json:"tools,omitempty"`
}

// CountTokensResponse is the response body for token counting.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// WireMessage is a single user/assistant message whose content may be a
// plain string or an array of blocks.
type WireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// WireTool is a Messages API tool definition.
type WireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// WireContentBlock is the JSON form of a content block on both the request
// and response sides of the Messages surface.
type WireContentBlock struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	Source    *WireImageSource `json:"source,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   json.RawMessage  `json:"content,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
}

// WireImageSource is the JSON form of an image source.
type WireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// MessagesResponse is the outbound wire body for a completed call.
type MessagesResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Model        string             `json:"model"`
	Content      []WireContentBlock `json:"content"`
	StopReason   *string            `json:"stop_reason"`
	StopSequence *string            `json:"stop_sequence"`
	Usage        Usage              `json:"usage"`
}

// ErrorEnvelope is the uniform error payload for every internal failure.
type ErrorEnvelope struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

// ErrorBody is the nested error payload.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ParseSystemText parses "system" which may be a string or an array of text
// blocks.
func ParseSystemText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}

	var blocks []WireContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("invalid system field")
	}

	var parts []string
	for _, b := range blocks {
		if b.Type == "" || b.Type == BlockText {
			if txt := strings.TrimSpace(b.Text); txt != "" {
				parts = append(parts, txt)
			}
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// ParseContent parses message content that may be a string or array of blocks.
func (m *WireMessage) ParseContent() ([]WireContentBlock, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return []WireContentBlock{{Type: BlockText, Text: s}}, nil
	}

	var blocks []WireContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("invalid message content")
	}
	return blocks, nil
}

// ToUnified converts a decoded wire request into the internal shape.
func (r *MessagesRequest) ToUnified() (*UnifiedRequest, error) {
	system, err := ParseSystemText(r.System)
	if err != nil {
		return nil, err
	}

	out := &UnifiedRequest{
		Model:       strings.TrimSpace(r.Model),
		System:      system,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Stream:      r.Stream,
	}

	for i, m := range r.Messages {
		role := strings.TrimSpace(strings.ToLower(m.Role))
		switch role {
		case "user", "assistant":
		default:
			return nil, fmt.Errorf("messages[%d]: invalid role %q", i, m.Role)
		}
		blocks, err := m.ParseContent()
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		msg := Message{Role: role}
		for _, b := range blocks {
			block, ok := fromWireBlock(b)
			if !ok {
				continue
			}
			msg.Content = append(msg.Content, block)
		}
		if len(msg.Content) == 0 {
			continue
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range r.Tools {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		out.Tools = append(out.Tools, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return out, nil
}

func fromWireBlock(b WireContentBlock) (ContentBlock, bool) {
	switch strings.TrimSpace(strings.ToLower(b.Type)) {
	case "", BlockText:
		if b.Text == "" {
			return ContentBlock{}, false
		}
		return TextBlock(b.Text), true

	case BlockImage:
		if b.Source == nil {
			return ContentBlock{}, false
		}
		return ContentBlock{Type: BlockImage, Source: &ImageSource{
			Kind:      b.Source.Type,
			MediaType: b.Source.MediaType,
			Data:      b.Source.Data,
			URL:       b.Source.URL,
		}}, true

	case BlockToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return ContentBlock{Type: BlockToolUse, ID: b.ID, Name: b.Name, Input: input}, true

	case BlockToolResult:
		return ContentBlock{
			Type:      BlockToolResult,
			ToolUseID: b.ToolUseID,
			Output:    ParseToolResultText(b.Content),
			IsError:   b.IsError,
		}, true

	default:
		// Unknown blocks that still carry text survive as text.
		if b.Text != "" {
			return TextBlock(b.Text), true
		}
		return ContentBlock{}, false
	}
}

// ParseToolResultText flattens a tool_result content value, which may be a
// string or an array of text blocks, into plain text.
func ParseToolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []WireContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return strings.TrimSpace(string(raw))
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "" || b.Type == BlockText {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ToWire converts a unified response into the Messages wire shape.
func (r *UnifiedResponse) ToWire() MessagesResponse {
	content := make([]WireContentBlock, 0, len(r.Content))
	for _, b := range r.Content {
		switch b.Type {
		case BlockText:
			content = append(content, WireContentBlock{Type: BlockText, Text: b.Text})
		case BlockToolUse:
			content = append(content, WireContentBlock{
				Type:  BlockToolUse,
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		}
	}
	stop := r.StopReason
	return MessagesResponse{
		ID:         r.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      r.Model,
		Content:    content,
		StopReason: &stop,
		Usage:      r.Usage,
	}
}
