package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/isaacmorgado/clauded/internal/codec"
	"github.com/isaacmorgado/clauded/internal/compact"
	"github.com/isaacmorgado/clauded/internal/dispatch"
	"github.com/isaacmorgado/clauded/internal/types"
)

func (s *Server) handleMessages(c echo.Context) error {
	var wire types.MessagesRequest
	if err := c.Bind(&wire); err != nil {
		return writeGatewayError(c, codec.NewError(codec.TypeInvalidRequest, "request body is not valid JSON"))
	}
	req, err := wire.ToUnified()
	if err != nil {
		return writeGatewayError(c, codec.NewError(codec.TypeInvalidRequest, err.Error()))
	}
	req.PassthroughAuth = callerCredential(c.Request())

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestDeadline)
	defer cancel()

	resp, gerr := s.pipe.Execute(ctx, req)
	if gerr != nil {
		return writeGatewayError(c, gerr)
	}
	return c.JSON(http.StatusOK, resp.ToWire())
}

func (s *Server) handleCountTokens(c echo.Context) error {
	var wire types.CountTokensRequest
	if err := c.Bind(&wire); err != nil {
		return writeGatewayError(c, codec.NewError(codec.TypeInvalidRequest, "request body is not valid JSON"))
	}
	req, err := (&types.MessagesRequest{
		Model:    wire.Model,
		Messages: wire.Messages,
		System:   wire.System,
		Tools:    wire.Tools,
	}).ToUnified()
	if err != nil {
		return writeGatewayError(c, codec.NewError(codec.TypeInvalidRequest, err.Error()))
	}
	tokens := compact.EstimateRequest(req, 0)
	return c.JSON(http.StatusOK, types.CountTokensResponse{InputTokens: tokens})
}

type modelInfo struct {
	Provider         string `json:"provider"`
	ContextWindow    int    `json:"context_window"`
	MaxOutputTokens  int    `json:"max_output_tokens"`
	UsesNativeWire   bool   `json:"anthropic_wire"`
	ToolEmulationMay bool   `json:"tool_emulation_possible"`
}

func (s *Server) handleModels(c echo.Context) error {
	out := make([]modelInfo, 0, len(dispatch.All()))
	for _, p := range dispatch.All() {
		out = append(out, modelInfo{
			Provider:         string(p),
			ContextWindow:    s.cfg.ContextWindow(p),
			MaxOutputTokens:  dispatch.MaxOutputTokens(p),
			UsesNativeWire:   dispatch.UsesAnthropicWire(p),
			ToolEmulationMay: !dispatch.SupportsNativeTools(p, ""),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// callerCredential pulls a forwardable key off the inbound request. The
// x-api-key header wins over a bearer token.
func callerCredential(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}
