package compact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/isaacmorgado/clauded/internal/types"
)

const (
	maxSummaryPaths   = 10
	maxSummaryVerbs   = 10
	maxSnippetLength  = 200
	summaryRolePrefix = "[Earlier conversation summary]"
)

// filePathPattern matches file-path-like tokens: anything with a directory
// separator or a short extension.
var filePathPattern = regexp.MustCompile(`(?:[A-Za-z0-9_.~-]+/)+[A-Za-z0-9_.-]+|\b[A-Za-z0-9_-]+\.[A-Za-z]{1,5}\b`)

// actionVerbs are the keywords surfaced in the summary, checked as whole
// lowercase words.
var actionVerbs = []string{
	"create", "created", "add", "added", "update", "updated",
	"delete", "deleted", "remove", "removed", "fix", "fixed",
	"run", "ran", "install", "installed", "build", "built",
	"test", "tested", "read", "write", "wrote", "edit", "edited",
	"search", "searched", "refactor", "refactored", "deploy", "deployed",
	"configure", "configured", "rename", "renamed",
}

// summarize renders the removed message prefix as one synthetic user
// message: counts of tool traffic, referenced paths, action keywords, and a
// snippet of the last removed user turn.
func summarize(removed []types.Message) types.Message {
	var (
		toolCalls   int
		toolResults int
		text        strings.Builder
		lastUserMsg string
	)

	for _, m := range removed {
		for _, b := range m.Content {
			switch b.Type {
			case types.BlockText:
				text.WriteString(b.Text)
				text.WriteString("\n")
			case types.BlockToolUse:
				toolCalls++
				text.WriteString(b.Name)
				text.WriteString(" ")
				text.WriteString(string(b.Input))
				text.WriteString("\n")
			case types.BlockToolResult:
				toolResults++
				text.WriteString(b.Output)
				text.WriteString("\n")
			}
		}
		if m.Role == "user" {
			if t := m.VisibleText(); t != "" {
				lastUserMsg = t
			}
		}
	}

	corpus := text.String()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d earlier messages were compacted to fit the model's context window.\n",
		summaryRolePrefix, len(removed))
	fmt.Fprintf(&sb, "Tool calls: %d, tool results: %d.\n", toolCalls, toolResults)

	if paths := distinctMatches(filePathPattern.FindAllString(corpus, -1), maxSummaryPaths); len(paths) > 0 {
		fmt.Fprintf(&sb, "Files referenced: %s.\n", strings.Join(paths, ", "))
	}
	if verbs := foundVerbs(corpus); len(verbs) > 0 {
		fmt.Fprintf(&sb, "Actions mentioned: %s.\n", strings.Join(verbs, ", "))
	}
	if lastUserMsg != "" {
		fmt.Fprintf(&sb, "Most recent earlier request: %q", truncate(lastUserMsg, maxSnippetLength))
	}

	return types.Message{
		Role:    "user",
		Content: []types.ContentBlock{types.TextBlock(strings.TrimSpace(sb.String()))},
	}
}

func distinctMatches(matches []string, limit int) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}

func foundVerbs(corpus string) []string {
	words := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(corpus), func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		words[f] = true
	}
	var out []string
	for _, v := range actionVerbs {
		if words[v] {
			out = append(out, v)
			if len(out) == maxSummaryVerbs {
				break
			}
		}
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
