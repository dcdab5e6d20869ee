package translate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/isaacmorgado/clauded/internal/dispatch"
	"github.com/isaacmorgado/clauded/internal/toolemu"
	"github.com/isaacmorgado/clauded/internal/types"
)

// FromProviderResponse converts a successful provider reply back into the
// unified shape. emulated selects the tool-call emulation decoder for the
// assistant text.
func FromProviderResponse(body []byte, target dispatch.Target, emulated bool) (*types.UnifiedResponse, error) {
	if dispatch.UsesAnthropicWire(target.Provider) {
		return fromAnthropicResponse(body)
	}
	return fromChatResponse(body, target, emulated)
}

func fromAnthropicResponse(body []byte) (*types.UnifiedResponse, error) {
	var raw types.MessagesResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	out := &types.UnifiedResponse{
		ID:    orNewID(raw.ID),
		Model: raw.Model,
		Role:  "assistant",
		Usage: raw.Usage,
	}
	if raw.StopReason != nil {
		out.StopReason = *raw.StopReason
	} else {
		out.StopReason = types.StopEndTurn
	}

	for _, b := range raw.Content {
		switch b.Type {
		case types.BlockText:
			out.Content = append(out.Content, types.TextBlock(b.Text))
		case types.BlockToolUse:
			out.Content = append(out.Content, types.ContentBlock{
				Type:  types.BlockToolUse,
				ID:    orNewCallID(b.ID),
				Name:  b.Name,
				Input: b.Input,
			})
		}
	}
	return out, nil
}

func fromChatResponse(body []byte, target dispatch.Target, emulated bool) (*types.UnifiedResponse, error) {
	var raw types.ChatResponse
	if err := json.Unmarshal(body, &raw); err != nil || len(raw.Choices) == 0 {
		// Some compatible vendors nest the choice differently; probe before
		// giving up.
		if msg := gjson.GetBytes(body, "choices.0.message.content"); msg.Exists() {
			raw.Choices = []types.ChatChoice{{
				Message:      types.ChatChoiceMessage{Content: msg.String()},
				FinishReason: gjson.GetBytes(body, "choices.0.finish_reason").String(),
			}}
		} else {
			return nil, fmt.Errorf("provider response has no choices")
		}
	}

	choice := raw.Choices[0]
	out := &types.UnifiedResponse{
		ID:    orNewID(raw.ID),
		Model: raw.Model,
		Role:  "assistant",
	}
	if raw.Usage != nil {
		out.Usage = types.Usage{
			InputTokens:  raw.Usage.PromptTokens,
			OutputTokens: raw.Usage.CompletionTokens,
		}
	}

	if emulated {
		blocks, malformed := toolemu.Decode(choice.Message.Content)
		if malformed > 0 {
			slog.Warn("dropped malformed emulated tool calls",
				"provider", target.Provider, "count", malformed)
		}
		out.Content = blocks
	} else {
		if choice.Message.Content != "" {
			out.Content = append(out.Content, types.TextBlock(choice.Message.Content))
		}
		seen := make(map[string]bool)
		for _, tc := range choice.Message.ToolCalls {
			if tc.Type != "" && tc.Type != "function" {
				continue
			}
			id := tc.ID
			if id == "" || seen[id] {
				id = toolemu.NewCallID()
			}
			seen[id] = true
			args := strings.TrimSpace(tc.Function.Arguments)
			if args == "" || !json.Valid([]byte(args)) {
				args = "{}"
			}
			out.Content = append(out.Content, types.ContentBlock{
				Type:  types.BlockToolUse,
				ID:    id,
				Name:  tc.Function.Name,
				Input: json.RawMessage(args),
			})
		}
	}

	out.StopReason = mapFinishReason(choice.FinishReason, hasToolUse(out.Content))
	return out, nil
}

// mapFinishReason folds each provider's finish vocabulary into the unified
// enum. Unknown values pass through untouched.
func mapFinishReason(reason string, toolUse bool) string {
	if toolUse {
		return types.StopToolUse
	}
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "tool_calls", "function_call":
		return types.StopToolUse
	case "stop", "end_turn", "":
		return types.StopEndTurn
	case "length", "max_tokens":
		return types.StopMaxTokens
	default:
		return reason
	}
}

func hasToolUse(blocks []types.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == types.BlockToolUse {
			return true
		}
	}
	return false
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func orNewCallID(id string) string {
	if id != "" {
		return id
	}
	return toolemu.NewCallID()
}
