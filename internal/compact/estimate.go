package compact

import "github.com/isaacmorgado/clauded/internal/types"

// Token estimation is deliberately crude: roughly one token per four
// characters. Providers count differently anyway; the buffer ratio in the
// policy absorbs the error.

const charsPerToken = 4

// imageTokenCost is a flat charge per image block. Inline images dominate
// request size but never reach the summarizer, so a fixed estimate is enough.
const imageTokenCost = 1600

// messageOverheadTokens charges each message for its role and framing.
const messageOverheadTokens = 4

// EstimateText estimates tokens for a plain string.
func EstimateText(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// EstimateMessage estimates tokens for a single message.
func EstimateMessage(m types.Message) int {
	total := messageOverheadTokens
	for _, b := range m.Content {
		switch b.Type {
		case types.BlockText:
			total += EstimateText(b.Text)
		case types.BlockImage:
			total += imageTokenCost
		case types.BlockToolUse:
			total += EstimateText(b.Name) + EstimateText(string(b.Input))
		case types.BlockToolResult:
			total += EstimateText(b.Output)
		}
	}
	return total
}

// EstimateMessages sums the estimate over a message slice.
func EstimateMessages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}

// EstimateRequest estimates the full request: system, messages, tool
// definitions and the requested output reserve.
func EstimateRequest(req *types.UnifiedRequest, outputTokens int) int {
	total := EstimateText(req.System) + EstimateMessages(req.Messages) + outputTokens
	for _, t := range req.Tools {
		total += EstimateText(t.Name) + EstimateText(t.Description) + EstimateText(string(t.InputSchema))
	}
	return total
}
