package tools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewServer creates an MCP server with every tool-handler surface operation
// registered.
func NewServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "polygraph-codeintel",
		Version: version,
	}, nil)

	registry := []ToolDescriptor{
		{Name: "repository_stats", Description: "Counts of nodes by kind and language, plus file and content-chunk counts."},
		{Name: "explain_symbol", Description: "A resolved symbol's node plus its immediate incoming/outgoing edge neighborhood, grouped by edge kind."},
		{Name: "search_symbols", Description: "Substring search over symbol names, filterable by kind and file glob."},
		{Name: "find_references", Description: "Every site referencing, calling, reading, or writing a resolved symbol."},
		{Name: "trace_callers", Description: "Bounded BFS tree over reverse Call edges from a resolved symbol."},
		{Name: "trace_inheritance", Description: "Bounded, cycle-safe traversal over Inherits/Implements edges in a given direction."},
		{Name: "analyze_transitive_dependencies", Description: "Bounded BFS over Import edges from a module, returning the dependency closure."},
		{Name: "assess_impact", Description: "Blast radius of modifying a set of files, with a simple affected/total risk score."},
		{Name: "search_content", Description: "Token search over the Content Index, annotated with each hit's containing module."},
		{Name: "detect_patterns", Description: "Open-schema pattern records; currently import clusters at scope=repository."},
		{Name: "list_tools", Description: "The tool registry itself."},
	}
	svc.SetRegistry(registry)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "repository_stats",
		Description: registry[0].Description,
	}, svc.RepositoryStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "explain_symbol",
		Description: registry[1].Description,
	}, svc.ExplainSymbol)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_symbols",
		Description: registry[2].Description,
	}, svc.SearchSymbols)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_references",
		Description: registry[3].Description,
	}, svc.FindReferences)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "trace_callers",
		Description: registry[4].Description,
	}, svc.TraceCallers)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "trace_inheritance",
		Description: registry[5].Description,
	}, svc.TraceInheritance)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_transitive_dependencies",
		Description: registry[6].Description,
	}, svc.AnalyzeTransitiveDependencies)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "assess_impact",
		Description: registry[7].Description,
	}, svc.AssessImpact)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_content",
		Description: registry[8].Description,
	}, svc.SearchContent)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "detect_patterns",
		Description: registry[9].Description,
	}, svc.DetectPatterns)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tools",
		Description: registry[10].Description,
	}, svc.ListTools)

	return server
}

// RunServerStdio runs the MCP server on stdio transport, blocking until ctx
// is cancelled or the client disconnects.
func RunServerStdio(ctx context.Context, svc *Service) error {
	return NewServer(svc).Run(ctx, &mcp.StdioTransport{})
}

// RunServer starts an HTTP server exposing the code-intelligence MCP tools,
// shutting down gracefully when ctx is cancelled.
func RunServer(ctx context.Context, svc *Service, addr string) error {
	server := NewServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
