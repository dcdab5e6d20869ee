// Package compact reduces oversized conversation histories to fit a
// provider's context window, replacing the removed prefix with a single
// extractive summary message.
package compact

import (
	"errors"
	"log/slog"

	"github.com/isaacmorgado/clauded/internal/types"
)

// ErrStillOverBudget is returned when a single compaction pass cannot bring
// the conversation under the provider's context window.
var ErrStillOverBudget = errors.New("conversation exceeds context window after compaction")

// Policy controls compaction. Loaded once at startup and never mutated.
type Policy struct {
	// TailReserve messages at the end of the conversation are always kept
	// verbatim.
	TailReserve int `yaml:"tail_reserve"`
	// ResponseReserve is the output-token reserve assumed when the request
	// does not set max_tokens.
	ResponseReserve int `yaml:"response_reserve"`
	// MinRetainedTokens floors how far the retained older history shrinks.
	MinRetainedTokens int `yaml:"min_retained_tokens"`
	// BufferRatio discounts the context window to absorb estimator error.
	BufferRatio float64 `yaml:"buffer_ratio"`
	// SummaryTokenCap is the budget assumed for the synthetic summary.
	SummaryTokenCap int `yaml:"summary_token_cap"`
}

// DefaultPolicy returns the stock compaction policy.
func DefaultPolicy() Policy {
	return Policy{
		TailReserve:       6,
		ResponseReserve:   2048,
		MinRetainedTokens: 512,
		BufferRatio:       0.9,
		SummaryTokenCap:   512,
	}
}

// Result reports what a compaction pass did.
type Result struct {
	Messages        []types.Message
	Compacted       bool
	RemovedMessages int
	EstimatedTokens int
}

// Compact fits req.Messages into contextLimit tokens. A conversation that
// already fits, or that is at or below TailReserve length, is returned
// unchanged, so the operation is idempotent. A single pass is attempted; if
// the re-estimate still exceeds the limit the caller gets
// ErrStillOverBudget rather than deeper truncation.
func (p Policy) Compact(req *types.UnifiedRequest, contextLimit int) (Result, error) {
	outputTokens := req.MaxTokens
	if outputTokens <= 0 {
		outputTokens = p.ResponseReserve
	}

	estimate := EstimateRequest(req, outputTokens)
	if estimate <= contextLimit {
		return Result{Messages: req.Messages, EstimatedTokens: estimate}, nil
	}
	if len(req.Messages) <= p.TailReserve {
		// Nothing removable: only whole messages are ever dropped.
		return Result{Messages: req.Messages, EstimatedTokens: estimate}, ErrStillOverBudget
	}

	systemTokens := EstimateText(req.System)
	availableBudget := int(float64(contextLimit)*p.BufferRatio) - systemTokens - outputTokens

	tailStart := len(req.Messages) - p.TailReserve
	older := req.Messages[:tailStart]
	recent := req.Messages[tailStart:]
	recentTokens := EstimateMessages(recent)

	threshold := availableBudget - p.SummaryTokenCap - recentTokens
	if threshold < p.MinRetainedTokens {
		threshold = p.MinRetainedTokens
	}

	retained := older
	retainedTokens := EstimateMessages(retained)
	removed := 0
	for retainedTokens > threshold && len(retained) > 0 {
		retainedTokens -= EstimateMessage(retained[0])
		retained = retained[1:]
		removed++
	}

	if removed == 0 {
		return Result{Messages: req.Messages, EstimatedTokens: estimate}, ErrStillOverBudget
	}

	summary := summarize(older[:removed])
	out := make([]types.Message, 0, 1+len(retained)+len(recent))
	out = append(out, summary)
	out = append(out, retained...)
	out = append(out, recent...)

	newEstimate := estimate - EstimateMessages(req.Messages) + EstimateMessages(out)
	if newEstimate > contextLimit {
		return Result{Messages: req.Messages, EstimatedTokens: newEstimate}, ErrStillOverBudget
	}

	slog.Info("history compacted",
		"removed_messages", removed,
		"retained_messages", len(retained)+len(recent),
		"estimate_before", estimate,
		"estimate_after", newEstimate,
	)

	return Result{
		Messages:        out,
		Compacted:       true,
		RemovedMessages: removed,
		EstimatedTokens: newEstimate,
	}, nil
}
