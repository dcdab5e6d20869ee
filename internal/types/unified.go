package types

import "encoding/json"

// Content block types used throughout the gateway.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons in the unified vocabulary.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopError     = "error"
)

// UnifiedRequest is the internal representation of an inbound chat request
// after decoding. Every provider path consumes this shape.
type UnifiedRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stream      bool

	// PassthroughAuth carries a caller-supplied credential to forward
	// verbatim instead of the configured provider key.
	PassthroughAuth string
}

// Message is one conversational turn.
type Message struct {
	Role    string
	Content []ContentBlock
}

// ContentBlock is a tagged union over text, image, tool_use and tool_result
// variants. Unused fields stay zero for the other variants.
type ContentBlock struct {
	Type string

	// text
	Text string

	// image
	Source *ImageSource

	// tool_use
	ID    string
	Name  string
	Input json.RawMessage

	// tool_result
	ToolUseID string
	Output    string
	IsError   bool
}

// ImageSource holds either inline base64 data or a remote reference.
type ImageSource struct {
	Kind      string // "base64" or "url"
	MediaType string
	Data      string
	URL       string
}

// ToolSpec is a provider-agnostic tool definition.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UnifiedResponse is the internal representation of a completed call,
// encoded back to the caller in the Messages wire shape.
type UnifiedResponse struct {
	ID         string
	Model      string
	Role       string
	Content    []ContentBlock
	StopReason string
	Usage      Usage
}

// TextBlock is a convenience constructor for plain-text content.
func TextBlock(s string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: s}
}

// VisibleText concatenates the text blocks of a message.
func (m Message) VisibleText() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}
