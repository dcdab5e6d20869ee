package usage

import (
	"path/filepath"
	"testing"

	"github.com/isaacmorgado/clauded/internal/dispatch"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	records := []Record{
		{Provider: dispatch.Groq, Model: "llama-3.3-70b", InputTokens: 100, OutputTokens: 20, Outcome: OutcomeSuccess},
		{Provider: dispatch.Groq, Model: "llama-3.3-70b", InputTokens: 50, OutputTokens: 0, Outcome: OutcomeError, ErrorType: "api_error"},
		{Provider: dispatch.Anthropic, Model: "claude-x", InputTokens: 10, OutputTokens: 5, Outcome: OutcomeSuccess, Compacted: true},
	}
	for _, r := range records {
		if err := store.Add(r); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	sums, err := store.Summaries()
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("summary groups = %d, want 2", len(sums))
	}

	// Ordered by provider name: anthropic, groq.
	if sums[0].Provider != dispatch.Anthropic || sums[0].Calls != 1 || sums[0].Errors != 0 {
		t.Errorf("anthropic summary = %+v", sums[0])
	}
	if sums[1].Provider != dispatch.Groq || sums[1].Calls != 2 || sums[1].Errors != 1 {
		t.Errorf("groq summary = %+v", sums[1])
	}
	if sums[1].InputTokens != 150 || sums[1].OutputTokens != 20 {
		t.Errorf("groq tokens = %+v", sums[1])
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var store *Store
	if err := store.Add(Record{Provider: dispatch.Groq, Outcome: OutcomeSuccess}); err != nil {
		t.Errorf("nil store Add: %v", err)
	}
	sums, err := store.Summaries()
	if err != nil || sums != nil {
		t.Errorf("nil store Summaries = %v, %v", sums, err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("nil store Close: %v", err)
	}
}
