package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Textsmith tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("textsmith", "1.0.0")
	client := NewTextsmithClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolSummarizeText, h.HandleSummarizeText)
	s.AddTool(ToolGenerateSEODescription, h.HandleGenerateSEODescription)
	s.AddTool(ToolGenerateSocialCaption, h.HandleGenerateSocialCaption)
	s.AddTool(ToolExtractKeywords, h.HandleExtractKeywords)
	s.AddTool(ToolGetUsageStatus, h.HandleGetUsageStatus)

	return s
}
