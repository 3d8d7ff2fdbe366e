package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docpipeline/extract"
	"github.com/hazyhaar/docpipeline/kit"
)

// RegisterMCP registers the pipeline tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerProcessTool(srv)
	p.registerFormatsTool(srv)
}

// toolChain wraps every tool endpoint. Logging is outermost and sees
// recovered panics as failed calls.
func (p *Pipeline) toolChain(name string) kit.Middleware {
	return kit.Chain(kit.Logging(p.logger, name), kit.Recover(p.logger))
}

// --- process ---

type processReq struct {
	Path          string `json:"path"`
	ContentBase64 string `json:"content_base64"`
	Filename      string `json:"filename"`
	UserID        string `json:"user_id"`
	Department    string `json:"department"`
	ProjectID     string `json:"project_id"`
	SkipScan      bool   `json:"skip_scan"`
	StopOnError   bool   `json:"stop_on_error"`
	Full          bool   `json:"full"`
}

func (p *Pipeline) registerProcessTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docpipeline_process",
		Description: "Run a document through ingest, extract, normalize, metadata, storage and triggers. Pass a file path or base64 content with a filename.",
		InputSchema: kit.InputSchema(map[string]any{
			"path":           map[string]any{"type": "string", "description": "File path to process"},
			"content_base64": map[string]any{"type": "string", "description": "Document bytes, base64-encoded"},
			"filename":       map[string]any{"type": "string", "description": "Filename for content_base64, or an override for path"},
			"user_id":        map[string]any{"type": "string"},
			"department":     map[string]any{"type": "string"},
			"project_id":     map[string]any{"type": "string"},
			"skip_scan":      map[string]any{"type": "boolean"},
			"stop_on_error":  map[string]any{"type": "boolean"},
			"full":           map[string]any{"type": "boolean", "description": "Return every stage record instead of the summary"},
		}, nil),
	}

	endpoint := p.toolChain("docpipeline_process")(func(ctx context.Context, req any) (any, error) {
		r := req.(*processReq)
		data, filename, err := p.readInput(r)
		if err != nil {
			return nil, err
		}
		rec := p.Run(ctx, data, filename, RunOptions{
			UserID:      r.UserID,
			Department:  r.Department,
			ProjectID:   r.ProjectID,
			SkipScan:    r.SkipScan,
			StopOnError: r.StopOnError,
		})
		if r.Full {
			return rec, nil
		}
		return rec.Summary(), nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r processReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if (r.Path == "") == (r.ContentBase64 == "") {
			return nil, errors.New("exactly one of path or content_base64 is required")
		}
		if r.ContentBase64 != "" && r.Filename == "" {
			return nil, errors.New("filename is required with content_base64")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// readInput loads the request's bytes, reading at most one byte past the
// ingest size limit so oversize files are reported by ingest.
func (p *Pipeline) readInput(r *processReq) ([]byte, string, error) {
	limit := p.cfg.Ingest.MaxFileBytes()
	if limit <= 0 {
		limit = int64(100) << 20
	}
	if r.ContentBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(r.ContentBase64)
		if err != nil {
			return nil, "", fmt.Errorf("content_base64: %w", err)
		}
		return data, r.Filename, nil
	}

	f, err := os.Open(r.Path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", r.Path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", r.Path, err)
	}
	filename := r.Filename
	if filename == "" {
		filename = filepath.Base(r.Path)
	}
	return data, filename, nil
}

// --- formats ---

func (p *Pipeline) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docpipeline_formats",
		Description: "List the file extensions with a dedicated extractor.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := p.toolChain("docpipeline_formats")(func(_ context.Context, _ any) (any, error) {
		return map[string]any{"extensions": extract.SupportedExtensions()}, nil
	})

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
