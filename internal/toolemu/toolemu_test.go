package toolemu

import (
	"strings"
	"testing"

	"github.com/isaacmorgado/clauded/internal/types"
)

func TestDecodeTwoWellFormedBlocks(t *testing.T) {
	text := `Let me check both files.
<tool_call>{"name": "read_file", "arguments": {"path": "a.go"}}</tool_call>
<tool_call>{"name": "read_file", "arguments": {"path": "b.go"}}</tool_call>`

	blocks, malformed := Decode(text)
	if malformed != 0 {
		t.Fatalf("malformed = %d, want 0", malformed)
	}
	if len(blocks) != 3 {
		t.Fatalf("block count = %d, want 3 (text + 2 calls)", len(blocks))
	}

	if blocks[0].Type != types.BlockText {
		t.Errorf("first block type = %q, want text", blocks[0].Type)
	}
	if strings.Contains(blocks[0].Text, StartDelimiter) || strings.Contains(blocks[0].Text, EndDelimiter) {
		t.Error("delimiters leaked into visible text")
	}
	if blocks[0].Text != "Let me check both files." {
		t.Errorf("prose = %q", blocks[0].Text)
	}

	ids := map[string]bool{}
	for _, b := range blocks[1:] {
		if b.Type != types.BlockToolUse {
			t.Fatalf("block type = %q, want tool_use", b.Type)
		}
		if b.Name != "read_file" {
			t.Errorf("name = %q, want read_file", b.Name)
		}
		if b.ID == "" || ids[b.ID] {
			t.Errorf("call id %q not unique", b.ID)
		}
		ids[b.ID] = true
	}
}

func TestDecodeMalformedBlockDropped(t *testing.T) {
	text := `<tool_call>{"name": "ok", "arguments": {}}</tool_call>` +
		`<tool_call>{not json at all</tool_call>` +
		` trailing prose`

	blocks, malformed := Decode(text)
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}

	var calls, texts int
	for _, b := range blocks {
		switch b.Type {
		case types.BlockToolUse:
			calls++
		case types.BlockText:
			texts++
			if strings.Contains(b.Text, "{not json") {
				t.Error("malformed interior leaked into visible text")
			}
		}
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if texts != 1 {
		t.Errorf("text blocks = %d, want 1", texts)
	}
}

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantCalls int
		wantText  string
	}{
		{
			name:      "no delimiters is plain prose",
			text:      "Just a normal answer.",
			wantCalls: 0,
			wantText:  "Just a normal answer.",
		},
		{
			name:      "empty name dropped",
			text:      `<tool_call>{"name": "", "arguments": {}}</tool_call>`,
			wantCalls: 0,
		},
		{
			name:      "missing arguments defaults to empty object",
			text:      `<tool_call>{"name": "list"}</tool_call>`,
			wantCalls: 1,
		},
		{
			name:      "unterminated span dropped",
			text:      `before <tool_call>{"name": "x"`,
			wantCalls: 0,
			wantText:  "before",
		},
		{
			name:      "prose ordered before calls",
			text:      `<tool_call>{"name": "a", "arguments": {}}</tool_call> and then some`,
			wantCalls: 1,
			wantText:  "and then some",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks, _ := Decode(tt.text)
			var calls int
			var text string
			for _, b := range blocks {
				switch b.Type {
				case types.BlockToolUse:
					calls++
				case types.BlockText:
					text = b.Text
				}
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantText != "" && text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if len(blocks) > 0 && blocks[0].Type == types.BlockToolUse && text != "" {
				t.Error("text block must be ordered before tool calls")
			}
		})
	}
}

func TestDecodeArgumentsDefaulted(t *testing.T) {
	blocks, _ := Decode(`<tool_call>{"name": "list", "arguments": null}</tool_call>`)
	if len(blocks) != 1 {
		t.Fatalf("block count = %d, want 1", len(blocks))
	}
	if string(blocks[0].Input) != "{}" {
		t.Errorf("input = %s, want {}", blocks[0].Input)
	}
}

func TestRenderCatalog(t *testing.T) {
	catalog := RenderCatalog([]types.ToolSpec{
		{Name: "get_weather", Description: "Look up current weather", InputSchema: []byte(`{"type":"object","properties":{"city":{"type":"string"}}}`)},
		{Name: "get_time"},
	})

	for _, want := range []string{
		"get_weather",
		"Look up current weather",
		`"city"`,
		"get_time",
		StartDelimiter,
		EndDelimiter,
		"parallel",
	} {
		if !strings.Contains(catalog, want) {
			t.Errorf("catalog missing %q", want)
		}
	}

	if RenderCatalog(nil) != "" {
		t.Error("empty tool list should render nothing")
	}
}
