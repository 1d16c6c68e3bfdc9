package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// uriScheme is the custom URI scheme for Tally resources.
const uriScheme = "tally://"

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "grid",
		Name:        "grid",
		Description: "The full document × control grid",
		MIMEType:    "application/json",
	}, s.handleGridResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "documents/{documentId}",
		Name:        "document-row",
		Description: "One document's row of cells",
		MIMEType:    "application/json",
	}, s.handleRowResource)
}

func (s *Server) handleGridResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	view, err := s.ports.Grid.GetGridView(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting grid: %w", err)
	}
	return jsonResource(req.Params.URI, toGridOutput(view))
}

func (s *Server) handleRowResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	docID := extractDocumentID(req.Params.URI)
	if docID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	view, err := s.ports.Grid.GetGridView(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting grid: %w", err)
	}
	grid := toGridOutput(view)
	for _, row := range grid.Rows {
		if row.DocumentID == docID {
			return jsonResource(req.Params.URI, row)
		}
	}
	return nil, mcp.ResourceNotFoundError(req.Params.URI)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractDocumentID extracts the document ID from a URI like tally://documents/{documentId}.
func extractDocumentID(uri string) string {
	const prefix = uriScheme + "documents/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	id := strings.TrimPrefix(uri, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
