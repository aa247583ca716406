// Package mcpserver exposes the semantic index over the Model Context
// Protocol via stdio transport, for LLM-side retrieval.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"movesia/internal/catalog"
	"movesia/internal/handlers"
	"movesia/internal/vectorstore"
)

// Server wraps the MCP server with the host's retrieval tools.
type Server struct {
	mcp      *server.MCPServer
	embedder handlers.Embedder
	vectors  vectorstore.VectorIndex
	catalog  *catalog.Store
}

// New creates an MCP server with the retrieval tools registered.
func New(emb handlers.Embedder, vectors vectorstore.VectorIndex, cat *catalog.Store) *Server {
	s := &Server{embedder: emb, vectors: vectors, catalog: cat}

	s.mcp = server.NewMCPServer(
		"Movesia",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("semantic_search",
		mcp.WithDescription("Semantic search over the indexed project's scripts and scenes. "+
			"Returns the best-matching code chunks with their paths and line ranges."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language or code query")),
		mcp.WithNumber("k", mcp.Description("Number of results (default 8)")),
		mcp.WithString("kind", mcp.Description("Optional filter: Script or Scene")),
	), s.semanticSearch)

	s.mcp.AddTool(mcp.NewTool("index_status",
		mcp.WithDescription("Current catalog totals, snapshot hash and backend point count."),
	), s.indexStatus)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) semanticSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	k := req.GetInt("k", 8)
	if k <= 0 {
		k = 8
	}

	filters := map[string]string{}
	if kind := req.GetString("kind", ""); kind != "" {
		filters["kind"] = kind
	}

	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("embedding failed: %v", err)), nil
	}

	results, err := s.vectors.Search(ctx, vecs[0], k, filters, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) indexStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sha, total, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status := map[string]any{
		"live_assets":  total,
		"snapshot_sha": sha,
	}
	if n, err := s.vectors.CountPoints(ctx); err == nil {
		status["qdrant_points"] = n
	} else {
		status["vector_backend"] = "unavailable"
	}

	out, _ := json.MarshalIndent(status, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
