// Package toolemu reconstructs structured tool calling over plain text for
// models without native tool support: the tool catalog is injected into the
// system instructions and the model's delimited answer blocks are parsed
// back into tool invocations.
package toolemu

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/isaacmorgado/clauded/internal/types"
)

// Delimiters for emulated tool-call blocks. They must survive most
// tokenizers intact, so plain angle-bracket tags are used.
const (
	StartDelimiter = "<tool_call>"
	EndDelimiter   = "</tool_call>"
)

const instructionGrammar = `When you need to call a tool, output exactly one JSON object per call in the form {"name": "<tool name>", "arguments": {...}} wrapped between ` + StartDelimiter + ` and ` + EndDelimiter + `. Do not add prose inside the delimiters. Independent calls may be issued in parallel as multiple consecutive delimited blocks. Only call tools from the catalog above, and answer in plain text when no tool is needed.`

// RenderCatalog serializes the tool specs plus the calling grammar into a
// block of system instructions.
func RenderCatalog(tools []types.ToolSpec) string {
	if len(tools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("You have access to the following tools:\n\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "## %s\n", t.Name)
		if t.Description != "" {
			sb.WriteString(t.Description)
			sb.WriteString("\n")
		}
		if len(t.InputSchema) > 0 {
			fmt.Fprintf(&sb, "Input schema: %s\n", string(t.InputSchema))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(instructionGrammar)
	return sb.String()
}

// emulatedCall is the JSON interior of one delimited block.
type emulatedCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Decode scans assistant text left to right for delimited tool-call spans.
// Every well-formed span becomes a tool_use block with a synthetic unique
// id; malformed spans are dropped and logged by the caller via the returned
// count. All spans are stripped from the visible text, and remaining prose
// is returned as a text block ordered before the invocations.
func Decode(text string) ([]types.ContentBlock, int) {
	var (
		prose     strings.Builder
		calls     []types.ContentBlock
		malformed int
	)

	rest := text
	for {
		start := strings.Index(rest, StartDelimiter)
		if start < 0 {
			prose.WriteString(rest)
			break
		}
		prose.WriteString(rest[:start])
		rest = rest[start+len(StartDelimiter):]

		end := strings.Index(rest, EndDelimiter)
		if end < 0 {
			// Unterminated span: drop it rather than leak the delimiter.
			malformed++
			break
		}
		interior := rest[:end]
		rest = rest[end+len(EndDelimiter):]

		call, ok := parseCall(interior)
		if !ok {
			malformed++
			continue
		}
		calls = append(calls, call)
	}

	var blocks []types.ContentBlock
	if t := strings.TrimSpace(prose.String()); t != "" {
		blocks = append(blocks, types.TextBlock(t))
	}
	blocks = append(blocks, calls...)
	return blocks, malformed
}

// parseCall decodes a span interior. The model's tool name is taken as-is:
// catalog fidelity is the model's responsibility, never the parser's.
func parseCall(interior string) (types.ContentBlock, bool) {
	var call emulatedCall
	if err := json.Unmarshal([]byte(strings.TrimSpace(interior)), &call); err != nil {
		return types.ContentBlock{}, false
	}
	if strings.TrimSpace(call.Name) == "" {
		return types.ContentBlock{}, false
	}
	args := call.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	return types.ContentBlock{
		Type:  types.BlockToolUse,
		ID:    NewCallID(),
		Name:  call.Name,
		Input: args,
	}, true
}

// NewCallID mints a synthetic tool-call id. Emulated providers never mint
// their own.
func NewCallID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
