// Package mcp выставляет мост как MCP-сервер (stdio): локальные агенты
// получают те же способности через Model Context Protocol, минуя HTTP.
// Все вызовы идут через общий конвейер — бюджет, апрувы и аудит
// действуют одинаково для любого транспорта.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/abilities"
	"github.com/xela07ax/pinch-bridge/internal/domain"
	"github.com/xela07ax/pinch-bridge/internal/gateway"
	"github.com/xela07ax/pinch-bridge/internal/hooks"
)

type Server struct {
	mcpServer *server.MCPServer
	pipeline  *hooks.Pipeline
	registry  *abilities.Registry
	client    *gateway.Client
	logger    *zap.Logger
}

func NewServer(pipeline *hooks.Pipeline, registry *abilities.Registry, client *gateway.Client, version string, logger *zap.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("pinch-bridge", version),
		pipeline:  pipeline,
		registry:  registry,
		client:    client,
		logger:    logger.Named("mcp"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("list_abilities",
			mcp.WithDescription("List site abilities available to the agent, with write/approval flags"),
		),
		s.handleListAbilities,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("execute_ability",
			mcp.WithDescription("Execute a site ability through the governed pipeline (budget, approvals and audit apply)"),
			mcp.WithString("ability", mcp.Required(), mcp.Description("Ability name, e.g. create_post")),
			mcp.WithString("params_json", mcp.Description("JSON object with ability parameters")),
		),
		s.handleExecuteAbility,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("gateway_status",
			mcp.WithDescription("Check the connection to the agent gateway (fails fast while the circuit is open)"),
		),
		s.handleGatewayStatus,
	)
}

func (s *Server) handleListAbilities(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type view struct {
		Name             string `json:"name"`
		Description      string `json:"description"`
		Write            bool   `json:"write"`
		RequiresApproval bool   `json:"requires_approval"`
	}
	list := s.registry.List()
	out := make([]view, 0, len(list))
	for _, a := range list {
		out = append(out, view{
			Name:             a.Name,
			Description:      a.Description,
			Write:            a.Write,
			RequiresApproval: s.registry.RequiresApproval(a.Name),
		})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (s *Server) handleExecuteAbility(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ability, err := req.RequireString("ability")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var params map[string]interface{}
	if paramsJSON := req.GetString("params_json", ""); paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("params_json is not a valid JSON object: %v", err)), nil
		}
	}

	res := s.pipeline.Handle(ctx, &domain.HookRequest{
		Action:  domain.ActionExecute,
		Ability: ability,
		Params:  params,
	})

	raw, err := json.Marshal(res.Body)
	if err != nil {
		return nil, err
	}
	// Неуспешный статус конвейера — ошибка тула, но с телом:
	// агент должен видеть причину (бюджет, апрув, неизвестная способность).
	if res.Status >= 400 {
		return mcp.NewToolResultError(string(raw)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (s *Server) handleGatewayStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := map[string]interface{}{
		"configured": s.client.Configured(),
		"available":  s.client.Available(ctx),
	}
	if !s.client.Available(ctx) {
		status["retry_after_seconds"] = int64(s.client.RetryAfter(ctx).Seconds())
	}
	raw, _ := json.Marshal(status)
	return mcp.NewToolResultText(string(raw)), nil
}

// ServeStdio блокируется до EOF на stdin (стандартный MCP-транспорт).
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp server starting on stdio")
	return server.ServeStdio(s.mcpServer)
}
