// CLAUDE:SUMMARY Registers scrollback_status, scrollback_sessions and scrollback_messages MCP tools over the tracker and the export history.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/scrollback/exporter/internal/store"
)

// MCPPath is where the status server mounts the MCP endpoint.
const MCPPath = "/mcp"

// errHistoryDisabled is reported by history tools when no store is configured.
var errHistoryDisabled = errors.New("history disabled")

// RegisterMCP registers the exporter's read-only tools on srv.
func (e *Exporter) RegisterMCP(srv *mcp.Server) {
	RegisterMCP(srv, e.tracker, e.store)
}

// RegisterMCP registers read-only tools over t and st. st may be nil.
func RegisterMCP(srv *mcp.Server, t *Tracker, st *store.Store) {
	registerStatusTool(srv, t)
	registerSessionsTool(srv, st)
	registerMessagesTool(srv, st)
}

// MCPHandler serves srv over streamable HTTP.
func MCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

// withMCP mounts the MCP endpoint next to the status API.
func withMCP(status http.Handler, srv *mcp.Server) http.Handler {
	r := chi.NewRouter()
	r.Handle(MCPPath, MCPHandler(srv))
	r.Mount("/", status)
	return r
}

type toolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// addTool wraps fn: arguments in, JSON text content out, failures as tool
// errors rather than protocol errors.
func addTool(srv *mcp.Server, tool *mcp.Tool, fn toolFunc) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := fn(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// --- status ---

func registerStatusTool(srv *mcp.Server, t *Tracker) {
	tool := &mcp.Tool{
		Name:        "scrollback_status",
		Description: "Current exporter phase, the running export session and its progress, and the last outcome.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(context.Context, json.RawMessage) (any, error) {
		return t.Snapshot(), nil
	})
}

// --- sessions ---

type sessionsReq struct {
	ID    string `json:"id"`
	Limit int    `json:"limit"`
}

func registerSessionsTool(srv *mcp.Server, st *store.Store) {
	tool := &mcp.Tool{
		Name:        "scrollback_sessions",
		Description: "Export history: the most recent sessions, or one session by id.",
		InputSchema: inputSchema(map[string]any{
			"id":    map[string]any{"type": "string", "description": "Session id; omit to list recent sessions"},
			"limit": map[string]any{"type": "integer", "description": "Maximum sessions to list (default 20)"},
		}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, raw json.RawMessage) (any, error) {
		if st == nil {
			return nil, errHistoryDisabled
		}
		var r sessionsReq
		if err := decodeArgs(raw, &r); err != nil {
			return nil, err
		}
		if r.ID != "" {
			row, err := st.GetSession(ctx, r.ID)
			if err != nil {
				return nil, err
			}
			if row == nil {
				return nil, fmt.Errorf("session %s not found", r.ID)
			}
			return row, nil
		}
		rows, err := st.RecentSessions(ctx, r.Limit)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []*store.SessionRow{}
		}
		return map[string]any{"sessions": rows, "count": len(rows)}, nil
	})
}

// --- messages ---

type messagesReq struct {
	ID string `json:"id"`
}

func registerMessagesTool(srv *mcp.Server, st *store.Store) {
	tool := &mcp.Tool{
		Name:        "scrollback_messages",
		Description: "Messages of one stored export session, in archive order.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Session id"},
		}, []string{"id"}),
	}
	addTool(srv, tool, func(ctx context.Context, raw json.RawMessage) (any, error) {
		if st == nil {
			return nil, errHistoryDisabled
		}
		var r messagesReq
		if err := decodeArgs(raw, &r); err != nil {
			return nil, err
		}
		if r.ID == "" {
			return nil, errors.New("id required")
		}
		msgs, err := st.Messages(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"session": r.ID, "messages": msgs, "count": len(msgs)}, nil
	})
}
