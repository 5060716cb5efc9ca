// Package mcptools exposes the actions as MCP tools so an agent host can call
// them directly. Every tool returns the action Response as structured content
// and its body as text.
package mcptools

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sakif/actionrunner/internal/executor"
	"github.com/sakif/actionrunner/internal/model"
	"github.com/sakif/actionrunner/internal/service"
)

const (
	ServerName    = "actionrunner"
	ServerVersion = "v1.0.0"
)

type ExecCodeInput struct {
	Code    string `json:"code" jsonschema:"source code to run; assign the result to __retval__"`
	Publish *bool  `json:"publish,omitempty" jsonschema:"publish scratch files in the result (default true)"`
}

type EchoInput struct {
	Message string `json:"message" jsonschema:"the message to echo back"`
}

// NewServer registers exec_code and echo against svc.
func NewServer(svc *service.ActionService, logger *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: ServerVersion}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "exec_code",
		Description: "Runs a code snippet and returns __retval__. Files written under the scratch root are published and replaced by URLs.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ExecCodeInput) (*mcp.CallToolResult, model.Response, error) {
		var (
			res model.Response
			err error
		)
		if in.Publish == nil || *in.Publish {
			res, err = svc.ExecCode(ctx, in.Code)
		} else {
			res, err = svc.Execute(ctx, in.Code)
		}
		if err != nil {
			logger.Warn("exec_code tool failed", slog.String("error", err.Error()))
			return nil, model.Response{}, err
		}
		return toolResult(res), res, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Returns the message unchanged.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in EchoInput) (*mcp.CallToolResult, model.Response, error) {
		res := svc.Echo(in.Message)
		return toolResult(res), res, nil
	})

	return server
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

func toolResult(res model.Response) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: res.Body}},
		IsError: res.ContentType == executor.ContentTypeError,
	}
}
