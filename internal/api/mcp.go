package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/deskhand-io/deskhand/internal/matcher"
	"github.com/deskhand-io/deskhand/internal/storage"
	"github.com/deskhand-io/deskhand/internal/ticket"
)

// NewMCPServer creates an MCP server exposing the suggestion pipeline to
// agent tooling: similarity search, full resolution suggestions, and the
// corpus status resource.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"deskhand",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("deskhand — finds historically similar helpdesk tickets and suggests resolutions based on how they were solved."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("find_similar_tickets",
			mcp.WithDescription("Search resolved historical tickets for ones similar to the given problem description."),
			mcp.WithString("description", mcp.Description("The problem description to search for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpFindSimilar(deps),
	)

	s.AddTool(
		mcp.NewTool("suggest_resolution",
			mcp.WithDescription("Suggest a resolution for a ticket based on how similar historical tickets were solved. Pass either a stored ticket_id or a free-form description."),
			mcp.WithString("ticket_id", mcp.Description("ID of a stored ticket to suggest for")),
			mcp.WithString("description", mcp.Description("Problem description, when no stored ticket exists yet")),
		),
		mcpSuggestResolution(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"corpus://status",
			"Corpus Status",
			mcp.WithResourceDescription("Current corpus index status as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCorpusStatus(deps),
	)

	return s
}

func mcpFindSimilar(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		limit := req.GetInt("limit", 3)
		if limit <= 0 {
			limit = 3
		}
		if limit > 50 {
			limit = 50
		}

		snap := deps.Index.Snapshot()
		if snap == nil {
			return mcpError("corpus index not built yet; import resolved tickets first"), nil
		}

		matches := matcher.FindSimilar(snap, description, limit, 0)
		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(matches)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSuggestResolution(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ticketID := req.GetString("ticket_id", "")
		description := req.GetString("description", "")

		var query ticket.Ticket
		switch {
		case ticketID != "":
			t, err := deps.Store.GetTicket(ticketID)
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("ticket %s not found", ticketID)), nil
			}
			if err != nil {
				return mcpError(fmt.Sprintf("failed to load ticket: %v", err)), nil
			}
			query = t
		case description != "":
			t, err := ticket.New(uuid.New().String(), description)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid description: %v", err)), nil
			}
			query = t
		default:
			return mcpError("either ticket_id or description is required"), nil
		}

		snap := deps.Index.Snapshot()
		if snap == nil {
			return mcpError("corpus index not built yet; import resolved tickets first"), nil
		}

		result, err := deps.Resolver.Resolve(ctx, query, snap)
		if err != nil {
			return mcpError(fmt.Sprintf("suggestion failed: %v", err)), nil
		}

		// Stored tickets get their suggestion persisted like the HTTP path.
		if ticketID != "" {
			if _, err := persistSuggestion(deps.Store, result); err != nil {
				return mcpError(fmt.Sprintf("suggestion generated but failed to save: %v", err)), nil
			}
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceCorpusStatus(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		status, err := corpusStatus(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to get corpus status: %w", err)
		}

		b, err := json.Marshal(status)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal corpus status: %w", err)
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
