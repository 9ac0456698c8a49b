package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"faden/internal/chat"
	"faden/internal/memory"
)

// MCPThreadReader is the thread access the MCP layer needs.
type MCPThreadReader interface {
	LoadAll() ([]chat.Thread, error)
	Load(id string) (chat.Thread, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Threads  MCPThreadReader
	Memories MemoryStore
}

// NewMCPServer registers the conversation tools and the memory resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"faden",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("faden — local conversation threads and remembered user facts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_threads",
			mcp.WithDescription("List all conversation threads with their titles and sizes."),
		),
		mcpListThreads(deps),
	)

	s.AddTool(
		mcp.NewTool("read_thread",
			mcp.WithDescription("Read the full message history of one thread."),
			mcp.WithString("id", mcp.Description("Thread ID"), mcp.Required()),
		),
		mcpReadThread(deps),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a durable fact about the user. Facts seed future conversations."),
			mcp.WithString("key", mcp.Description("Short fact key, e.g. name or location"), mcp.Required()),
			mcp.WithString("value", mcp.Description("The fact value"), mcp.Required()),
			mcp.WithString("category", mcp.Description("personal, preference, context, or other")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("recall_memories",
			mcp.WithDescription("Return all remembered facts about the user."),
		),
		mcpRecallMemories(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://memories",
			"Remembered Facts",
			mcp.WithResourceDescription("All stored memory records as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMemories(deps),
	)

	return s
}

func mcpListThreads(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threads, err := deps.Threads.LoadAll()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list threads: %v", err)), nil
		}

		summaries := make([]threadSummary, len(threads))
		for i, t := range threads {
			summaries[i] = threadSummary{
				ID:        t.ID,
				Title:     t.Title,
				Turns:     len(t.Turns),
				CreatedAt: t.CreatedAt.Format(timeFormat),
				UpdatedAt: t.UpdatedAt.Format(timeFormat),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal threads: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReadThread(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		t, err := deps.Threads.Load(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load thread: %v", err)), nil
		}

		b, err := json.Marshal(t)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal thread: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		category := memory.Category(req.GetString("category", string(memory.CategoryOther)))

		saved, err := deps.Memories.SaveMemory(memory.Record{Key: key, Value: value, Category: category})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Remembered %s = %s (%s)", saved.Key, saved.Value, saved.Category)), nil
	}
}

func mcpRecallMemories(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, err := deps.Memories.ListMemories()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list memories: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal memories: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceMemories(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Memories.ListMemories()
		if err != nil {
			return nil, fmt.Errorf("failed to list memories: %w", err)
		}
		if records == nil {
			records = []memory.Record{}
		}

		b, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal memories: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
