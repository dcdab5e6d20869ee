// Package translate maps the unified conversation shape to each provider's
// native wire schema and back.
package translate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/isaacmorgado/clauded/internal/dispatch"
	"github.com/isaacmorgado/clauded/internal/toolemu"
	"github.com/isaacmorgado/clauded/internal/types"
)

// Request is a provider-native request ready for transport.
type Request struct {
	Path string
	Body []byte
	// Emulated marks that tool calling was encoded into the system text
	// and the response must go through the emulation decoder.
	Emulated bool
}

// providersWithImageInput accept embedded image data in message content.
// Everything else gets a text placeholder.
var providersWithImageInput = map[dispatch.Provider]bool{
	dispatch.Anthropic:  true,
	dispatch.OpenRouter: true,
}

// ToProviderRequest assembles the provider-native request body. Tool calling
// is emulated through system-prompt injection when the target cannot honor
// structured tools.
func ToProviderRequest(req *types.UnifiedRequest, target dispatch.Target) (*Request, error) {
	emulate := len(req.Tools) > 0 && !target.NativeTools

	if dispatch.UsesAnthropicWire(target.Provider) {
		body, err := buildAnthropicBody(req, target)
		if err != nil {
			return nil, err
		}
		return &Request{Path: "/v1/messages", Body: body}, nil
	}

	body, err := buildChatBody(req, target, emulate)
	if err != nil {
		return nil, err
	}
	return &Request{Path: "/chat/completions", Body: body, Emulated: emulate}, nil
}

// capMaxTokens enforces the provider's documented output ceiling. The
// adjustment is silent toward the caller but logged for observability.
func capMaxTokens(requested int, target dispatch.Target) int {
	limit := dispatch.MaxOutputTokens(target.Provider)
	if requested <= 0 {
		return limit
	}
	if requested > limit {
		slog.Info("max_tokens lowered to provider limit",
			"provider", target.Provider,
			"requested", requested,
			"limit", limit,
		)
		return limit
	}
	return requested
}

// buildAnthropicBody re-encodes the unified request onto the Messages wire.
// The unified shape mirrors it, so this is mostly re-serialization plus the
// output cap.
func buildAnthropicBody(req *types.UnifiedRequest, target dispatch.Target) ([]byte, error) {
	out := types.MessagesRequest{
		Model:       target.Model,
		MaxTokens:   capMaxTokens(req.MaxTokens, target),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.System != "" {
		out.System = mustJSON(req.System)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, types.WireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	for _, m := range req.Messages {
		blocks := make([]types.WireContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			blocks = append(blocks, toWireBlock(b))
		}
		out.Messages = append(out.Messages, types.WireMessage{
			Role:    m.Role,
			Content: mustJSON(blocks),
		})
	}
	return json.Marshal(out)
}

func toWireBlock(b types.ContentBlock) types.WireContentBlock {
	switch b.Type {
	case types.BlockImage:
		src := &types.WireImageSource{Type: b.Source.Kind}
		if b.Source.Kind == "url" {
			src.URL = b.Source.URL
		} else {
			src.MediaType = b.Source.MediaType
			src.Data = b.Source.Data
		}
		return types.WireContentBlock{Type: types.BlockImage, Source: src}
	case types.BlockToolUse:
		return types.WireContentBlock{Type: types.BlockToolUse, ID: b.ID, Name: b.Name, Input: b.Input}
	case types.BlockToolResult:
		return types.WireContentBlock{
			Type:      types.BlockToolResult,
			ToolUseID: b.ToolUseID,
			Content:   mustJSON(b.Output),
			IsError:   b.IsError,
		}
	default:
		return types.WireContentBlock{Type: types.BlockText, Text: b.Text}
	}
}

// buildChatBody flattens the unified request onto the OpenAI-compatible
// chat schema. Tool results become distinct role "tool" entries placed
// right after the assistant turn that produced the matching invocation;
// unified ordering already guarantees that adjacency, so a linear walk
// preserves it.
func buildChatBody(req *types.UnifiedRequest, target dispatch.Target, emulate bool) ([]byte, error) {
	out := types.ChatRequest{
		Model:       target.Model,
		MaxTokens:   capMaxTokens(req.MaxTokens, target),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}

	system := req.System
	if emulate {
		catalog := toolemu.RenderCatalog(req.Tools)
		if system != "" {
			system += "\n\n" + catalog
		} else {
			system = catalog
		}
	} else if len(req.Tools) > 0 {
		for _, t := range req.Tools {
			params := t.InputSchema
			if len(params) == 0 {
				params = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			out.Tools = append(out.Tools, types.ChatTool{
				Type: "function",
				Function: types.ChatFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			})
		}
	}
	if system != "" {
		out.Messages = append(out.Messages, types.ChatMessage{Role: "system", Content: system})
	}

	for _, m := range req.Messages {
		msgs, err := flattenMessage(m, target, emulate)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msgs...)
	}

	return json.Marshal(&out)
}

// flattenMessage converts one unified message into one or more chat
// messages. A single unified user turn can expand into several tool-result
// entries plus a content message.
func flattenMessage(m types.Message, target dispatch.Target, emulate bool) ([]types.ChatMessage, error) {
	var (
		out       []types.ChatMessage
		parts     []types.ChatContentPart
		toolCalls []types.ChatToolCall
		emuText   strings.Builder
	)

	for _, b := range m.Content {
		switch b.Type {
		case types.BlockText:
			parts = append(parts, types.ChatContentPart{Type: "text", Text: b.Text})

		case types.BlockImage:
			parts = append(parts, imagePart(b, target.Provider))

		case types.BlockToolUse:
			if emulate {
				// Replay the assistant's call in the grammar it was asked
				// to produce, so history stays self-consistent.
				fmt.Fprintf(&emuText, "%s{\"name\": %q, \"arguments\": %s}%s\n",
					toolemu.StartDelimiter, b.Name, rawOrEmpty(b.Input), toolemu.EndDelimiter)
				continue
			}
			toolCalls = append(toolCalls, types.ChatToolCall{
				ID:   b.ID,
				Type: "function",
				Function: types.ChatFunctionCall{
					Name:      b.Name,
					Arguments: rawOrEmpty(b.Input),
				},
			})

		case types.BlockToolResult:
			if emulate {
				out = append(out, types.ChatMessage{
					Role:    "user",
					Content: fmt.Sprintf("[tool result for %s]\n%s", b.ToolUseID, b.Output),
				})
				continue
			}
			out = append(out, types.ChatMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    b.Output,
			})

		default:
			return nil, fmt.Errorf("unsupported content block type %q", b.Type)
		}
	}

	if emulate && emuText.Len() > 0 {
		parts = append(parts, types.ChatContentPart{Type: "text", Text: strings.TrimSpace(emuText.String())})
	}

	if len(parts) > 0 || len(toolCalls) > 0 {
		msg := types.ChatMessage{Role: m.Role, Content: collapseParts(parts)}
		if len(toolCalls) > 0 {
			msg.ToolCalls = toolCalls
		}
		// Tool results must stay adjacent to the assistant turn that caused
		// them, so they are emitted before any remaining prose of this turn.
		out = append(out, msg)
	}
	return out, nil
}

// imagePart encodes an image for providers that accept embedded data, or
// degrades to a text placeholder for the rest. Remote references a provider
// cannot fetch also degrade.
func imagePart(b types.ContentBlock, p dispatch.Provider) types.ChatContentPart {
	if b.Source == nil || !providersWithImageInput[p] {
		return types.ChatContentPart{Type: "text", Text: imagePlaceholder(b)}
	}
	if b.Source.Kind == "url" {
		return types.ChatContentPart{Type: "image_url", ImageURL: &types.ChatImageURL{URL: b.Source.URL}}
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", b.Source.MediaType, b.Source.Data)
	return types.ChatContentPart{Type: "image_url", ImageURL: &types.ChatImageURL{URL: dataURL}}
}

func imagePlaceholder(b types.ContentBlock) string {
	if b.Source != nil && b.Source.Kind == "url" {
		return fmt.Sprintf("[image: %s]", b.Source.URL)
	}
	mediaType := "image"
	if b.Source != nil && b.Source.MediaType != "" {
		mediaType = b.Source.MediaType
	}
	return fmt.Sprintf("[inline %s omitted: target model does not accept images]", mediaType)
}

// collapseParts returns a plain string for all-text content, the shape
// every provider accepts, and keeps the multi-part array only when images
// force it.
func collapseParts(parts []types.ChatContentPart) any {
	if len(parts) == 0 {
		return ""
	}
	allText := true
	for _, part := range parts {
		if part.Type != "text" {
			allText = false
			break
		}
	}
	if allText {
		var texts []string
		for _, part := range parts {
			texts = append(texts, part.Text)
		}
		return strings.Join(texts, "\n")
	}
	return parts
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return b
}
