package fullpage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
	"github.com/hazyhaar/pagesnap/kit"
)

// RegisterMCP registers the capture tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCaptureTool(srv)
	s.registerVisibleTool(srv)
	s.registerGetScreenshotTool(srv)
}

var formatProperty = map[string]any{
	"type":        "string",
	"enum":        []string{"png", "jpeg", "webp"},
	"description": "Image format (default from configuration, png)",
}

// imageResult answers with the metadata as JSON text followed by the image.
func imageResult(meta any, img []byte, f shot.Format) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	res := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}
	if len(img) > 0 {
		res.Content = append(res.Content, &mcp.ImageContent{Data: img, MIMEType: f.MIME()})
	}
	return res, nil
}

func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

// --- capture ---

type captureToolReq struct {
	URL          string  `json:"url"`
	TabID        string  `json:"tab_id"`
	Format       string  `json:"format"`
	Quality      float64 `json:"quality"`
	KeepStickies bool    `json:"keep_stickies"`
	IncludeImage *bool   `json:"include_image"`
}

func (s *Service) registerCaptureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesnap_capture",
		Description: "Capture a full-page screenshot of a URL or an open tab. Returns the capture metadata and the stitched image.",
		InputSchema: kit.InputSchema(map[string]any{
			"url":           map[string]any{"type": "string", "description": "Page to open and capture"},
			"tab_id":        map[string]any{"type": "string", "description": "Open tab to capture instead of a URL"},
			"format":        formatProperty,
			"quality":       map[string]any{"type": "number", "description": "0-100, lossy formats only"},
			"keep_stickies": map[string]any{"type": "boolean", "description": "Leave fixed and sticky elements visible"},
			"include_image": map[string]any{"type": "boolean", "description": "Attach the image (default true)"},
		}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*captureToolReq)
		o, err := captureRequest{Format: r.Format, Quality: r.Quality, KeepStickies: r.KeepStickies}.options()
		if err != nil {
			return nil, err
		}
		var res *shot.Result
		switch {
		case r.TabID != "":
			res, err = s.CaptureFullPage(ctx, r.TabID, o)
		case r.URL != "":
			if err := s.checkTarget(ctx, r.URL); err != nil {
				return nil, err
			}
			res, err = s.CaptureURL(ctx, r.URL, o)
		default:
			return nil, fmt.Errorf("url or tab_id required")
		}
		if err != nil {
			return nil, err
		}
		if r.IncludeImage != nil && !*r.IncludeImage {
			return imageResult(res, nil, res.Format)
		}
		return imageResult(res, res.Image, res.Format)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[captureToolReq])
}

// --- visible ---

type visibleToolReq struct {
	URL     string  `json:"url"`
	TabID   string  `json:"tab_id"`
	Format  string  `json:"format"`
	Quality float64 `json:"quality"`
}

func (s *Service) registerVisibleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesnap_visible",
		Description: "Capture only the visible viewport of a URL or an open tab.",
		InputSchema: kit.InputSchema(map[string]any{
			"url":     map[string]any{"type": "string", "description": "Page to open and capture"},
			"tab_id":  map[string]any{"type": "string", "description": "Open tab to capture instead of a URL"},
			"format":  formatProperty,
			"quality": map[string]any{"type": "number", "description": "0-100, lossy formats only"},
		}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*visibleToolReq)
		o, err := captureRequest{Format: r.Format, Quality: r.Quality}.options()
		if err != nil {
			return nil, err
		}
		var (
			img []byte
			f   shot.Format
		)
		switch {
		case r.TabID != "":
			img, f, err = s.CaptureVisible(ctx, r.TabID, o)
		case r.URL != "":
			if err := s.checkTarget(ctx, r.URL); err != nil {
				return nil, err
			}
			img, f, err = s.CaptureVisibleURL(ctx, r.URL, o)
		default:
			return nil, fmt.Errorf("url or tab_id required")
		}
		if err != nil {
			return nil, err
		}
		return imageResult(map[string]any{"format": f, "bytes": len(img)}, img, f)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[visibleToolReq])
}

// --- get screenshot ---

type getScreenshotToolReq struct {
	TabID string `json:"tab_id"`
}

func (s *Service) registerGetScreenshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesnap_get_screenshot",
		Description: "Return the latest stored screenshot, or the last one of a tab.",
		InputSchema: kit.InputSchema(map[string]any{
			"tab_id": map[string]any{"type": "string", "description": "Tab whose screenshot to return (default: latest)"},
		}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*getScreenshotToolReq)
		var (
			res *shot.Result
			err error
		)
		if r.TabID != "" {
			res, err = s.Screenshot(ctx, r.TabID)
		} else {
			res, err = s.Latest(ctx)
		}
		if err != nil {
			return nil, err
		}
		return imageResult(res, res.Image, res.Format)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[getScreenshotToolReq])
}
