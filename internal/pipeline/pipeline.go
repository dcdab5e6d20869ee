// Package pipeline orchestrates one call through the
// dispatch → admit → compact → translate → send → translate-back flow.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/isaacmorgado/clauded/internal/codec"
	"github.com/isaacmorgado/clauded/internal/compact"
	"github.com/isaacmorgado/clauded/internal/config"
	"github.com/isaacmorgado/clauded/internal/dispatch"
	"github.com/isaacmorgado/clauded/internal/ratelimit"
	"github.com/isaacmorgado/clauded/internal/translate"
	"github.com/isaacmorgado/clauded/internal/types"
	"github.com/isaacmorgado/clauded/internal/upstream"
	"github.com/isaacmorgado/clauded/internal/usage"
)

// Pipeline holds the process-wide collaborators. Construct once at startup
// and share across requests; everything here is safe for concurrent use.
type Pipeline struct {
	Config   *config.Config
	Limiter  *ratelimit.Limiter
	Upstream *upstream.Client
	Usage    *usage.Store
}

// Execute runs one unified request to completion. Every failure is
// converted into the uniform GatewayError taxonomy before returning; no
// internal error crosses this boundary unconverted.
func (p *Pipeline) Execute(ctx context.Context, req *types.UnifiedRequest) (*types.UnifiedResponse, *codec.GatewayError) {
	target := dispatch.ParseModel(req.Model)
	started := time.Now()

	slog.Info("request start",
		"provider", target.Provider,
		"model", target.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"native_tools", target.NativeTools,
	)

	if err := p.Limiter.Admit(ctx, target.Provider); err != nil {
		gerr := codec.NewError(codec.TypeRateLimit,
			"no admission token for provider "+string(target.Provider)+" within the request deadline; retry later")
		p.record(target, req, nil, gerr, false)
		slog.Warn("request failed", "provider", target.Provider, "stage", "admission", "error", err)
		return nil, gerr
	}

	compacted, gerr := p.compactIfNeeded(req, target)
	if gerr != nil {
		p.record(target, req, nil, gerr, false)
		return nil, gerr
	}

	built, err := translate.ToProviderRequest(req, target)
	if err != nil {
		gerr := codec.NewError(codec.TypeInvalidRequest, err.Error())
		p.record(target, req, nil, gerr, compacted)
		return nil, gerr
	}

	resp, gerr := p.Upstream.DoWithRetry(ctx, &upstream.Request{
		Provider:        target.Provider,
		Path:            built.Path,
		Body:            built.Body,
		PassthroughAuth: req.PassthroughAuth,
	})
	if gerr != nil {
		p.record(target, req, nil, gerr, compacted)
		slog.Warn("request failed",
			"provider", target.Provider,
			"stage", "upstream",
			"error_type", gerr.Type,
			"error", gerr.Message,
		)
		return nil, gerr
	}

	unified, err := translate.FromProviderResponse(resp.Body, target, built.Emulated)
	if err != nil {
		gerr := codec.NewError(codec.TypeAPI, "provider returned an unreadable response: "+err.Error())
		p.record(target, req, nil, gerr, compacted)
		return nil, gerr
	}
	unified.Model = req.Model

	p.record(target, req, unified, nil, compacted)
	slog.Info("request success",
		"provider", target.Provider,
		"stop_reason", unified.StopReason,
		"input_tokens", unified.Usage.InputTokens,
		"output_tokens", unified.Usage.OutputTokens,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return unified, nil
}

// compactIfNeeded fits the conversation into the provider's window,
// mutating req.Messages on success. Reports whether compaction ran.
func (p *Pipeline) compactIfNeeded(req *types.UnifiedRequest, target dispatch.Target) (bool, *codec.GatewayError) {
	window := p.Config.ContextWindow(target.Provider)
	res, err := p.Config.Compaction.Compact(req, window)
	if err != nil {
		if errors.Is(err, compact.ErrStillOverBudget) {
			return false, codec.NewError(codec.TypeContextLength,
				"conversation does not fit the model's context window even after compaction; "+
					"start a new session or switch to a larger-context model")
		}
		return false, codec.NewError(codec.TypeAPI, err.Error())
	}
	if res.Compacted {
		slog.Info("compaction applied",
			"provider", target.Provider,
			"removed_messages", res.RemovedMessages,
			"estimated_tokens", res.EstimatedTokens,
			"context_window", window,
		)
		req.Messages = res.Messages
	}
	return res.Compacted, nil
}

// record writes the usage ledger row; failures are logged, never surfaced.
func (p *Pipeline) record(target dispatch.Target, req *types.UnifiedRequest, resp *types.UnifiedResponse, gerr *codec.GatewayError, compacted bool) {
	rec := usage.Record{
		Provider:  target.Provider,
		Model:     target.Model,
		Outcome:   usage.OutcomeSuccess,
		Compacted: compacted,
	}
	if resp != nil {
		rec.InputTokens = resp.Usage.InputTokens
		rec.OutputTokens = resp.Usage.OutputTokens
	}
	if gerr != nil {
		rec.Outcome = usage.OutcomeError
		rec.ErrorType = gerr.Type
	}
	if err := p.Usage.Add(rec); err != nil {
		slog.Warn("usage ledger write failed", "error", err)
	}
}
