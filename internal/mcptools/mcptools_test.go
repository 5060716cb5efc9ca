package mcptools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/actionrunner/internal/executor"
	"github.com/sakif/actionrunner/internal/model"
	"github.com/sakif/actionrunner/internal/monitor"
	"github.com/sakif/actionrunner/internal/publish"
	"github.com/sakif/actionrunner/internal/service"
	"github.com/sakif/actionrunner/internal/storage"
	"github.com/sakif/actionrunner/internal/value"
)

type stubExecutor struct {
	res *executor.ExecutionResult
}

func (s stubExecutor) Execute(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	return s.res, nil
}

func connect(t *testing.T, res *executor.ExecutionResult) *mcp.ClientSession {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := publish.New(storage.NewTranslator(t.TempDir(), t.TempDir(), "http://host/files"), logger)
	svc := service.NewActionService(stubExecutor{res: res}, pub, monitor.Nop{}, nil, logger)

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := NewServer(svc, logger).Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Wait()
	})
	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestTools_AreListed(t *testing.T) {
	session := connect(t, nil)

	list, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"exec_code", "echo"}, names)
}

func TestExecCode_ReturnsRenderedValue(t *testing.T) {
	session := connect(t, executor.Success(value.Tuple{value.String("a"), value.Other{V: int64(2)}}))

	res := call(t, session, "exec_code", map[string]any{"code": "__retval__ = ('a', 2)"})

	assert.False(t, res.IsError)
	assert.Equal(t, "('a', 2)", text(t, res))

	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var structured model.Response
	require.NoError(t, json.Unmarshal(raw, &structured))
	assert.Equal(t, executor.ContentTypeURIList, structured.ContentType)
}

func TestExecCode_SnippetErrorIsToolError(t *testing.T) {
	session := connect(t, executor.Failure("ZeroDivisionError: division by zero"))

	res := call(t, session, "exec_code", map[string]any{"code": "1/0", "publish": false})

	assert.True(t, res.IsError)
	assert.Equal(t, "ZeroDivisionError: division by zero", text(t, res))
}

func TestExecCode_EmptyCodeIsToolError(t *testing.T) {
	session := connect(t, nil)

	res := call(t, session, "exec_code", map[string]any{"code": ""})

	assert.True(t, res.IsError)
}

func TestEcho(t *testing.T) {
	session := connect(t, nil)

	res := call(t, session, "echo", map[string]any{"message": "hello"})

	assert.False(t, res.IsError)
	assert.Equal(t, "hello", text(t, res))
}
