package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/wishmasterff/animara/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the registry's Tool interface.
type BridgeTool struct {
	server     string
	tool       mcpgo.Tool
	client     *mcpclient.Client
	name       string
	timeoutSec int
	connected  *atomic.Bool
}

// NewBridgeTool wraps a discovered MCP tool. The registered name is
// prefixed by the server's tool prefix (or the server name) to avoid
// collisions across servers.
func NewBridgeTool(server string, tool mcpgo.Tool, client *mcpclient.Client, prefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	if prefix == "" {
		prefix = server
	}
	return &BridgeTool{
		server:     server,
		tool:       tool,
		client:     client,
		name:       prefix + "_" + tool.Name,
		timeoutSec: timeoutSec,
		connected:  connected,
	}
}

func (b *BridgeTool) Name() string { return b.name }

// OriginalName returns the tool's name on the remote server.
func (b *BridgeTool) OriginalName() string { return b.tool.Name }

func (b *BridgeTool) Description() string {
	desc := b.tool.Description
	if desc == "" {
		desc = "MCP tool " + b.tool.Name
	}
	return desc
}

func (b *BridgeTool) Parameters() map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	if b.tool.InputSchema.Type != "" {
		schema["type"] = b.tool.InputSchema.Type
	}
	if b.tool.InputSchema.Properties != nil {
		schema["properties"] = b.tool.InputSchema.Properties
	}
	if len(b.tool.InputSchema.Required) > 0 {
		schema["required"] = b.tool.InputSchema.Required
	}
	return schema
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("❌ Сервер %s недоступен", b.server))
	}

	cctx, cancel := context.WithTimeout(ctx, time.Duration(b.timeoutSec)*time.Second)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.tool.Name
	req.Params.Arguments = args

	result, err := b.client.CallTool(cctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("❌ Ошибка %s: %v", b.name, err)).WithError(err)
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		if text == "" {
			text = fmt.Sprintf("❌ Ошибка %s", b.name)
		}
		return tools.ErrorResult(text)
	}
	if text == "" {
		text = "(пустой ответ инструмента)"
	}
	return tools.NewResult(text)
}
