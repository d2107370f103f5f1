package saver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagesaver/capture"
	"github.com/hazyhaar/pagesaver/horosafe"
	"github.com/hazyhaar/pagesaver/kit"
)

// MCPOptions tunes RegisterMCP.
type MCPOptions struct {
	// AllowPrivate skips the private-network URL check.
	AllowPrivate bool
	Logger       *slog.Logger
}

// RegisterMCP registers the pagesaver tools on an MCP server.
func (s *Saver) RegisterMCP(srv *mcp.Server, o MCPOptions) {
	if o.Logger == nil {
		o.Logger = s.log
	}
	check := func(url string) error {
		if o.AllowPrivate {
			return nil
		}
		return horosafe.ValidateURL(url)
	}
	mw := func(op string) kit.Middleware {
		if o.AllowPrivate {
			return s.middleware(o.Logger, op)
		}
		return kit.Chain(s.middleware(o.Logger, op), func(next kit.Endpoint) kit.Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				return next(horosafe.PublicOnly(ctx), req)
			}
		})
	}

	s.registerCaptureTool(srv, "pagesaver_visible",
		"Save a PNG screenshot of the visible viewport of a web page.",
		mw("visible"), check, s.Visible)
	s.registerCaptureTool(srv, "pagesaver_fullpage",
		"Save a PNG of the whole scrollable page, stitched from viewport captures with the fixed header kept once.",
		mw("fullpage"), check, s.FullPage)
	s.registerAreaTool(srv, mw("area"), check)
	s.registerImagesTool(srv, mw("images"), check)
	s.registerArchiveTool(srv, mw("archive"), check)
	s.registerHistoryTool(srv, mw("history"))
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

var urlProp = map[string]any{"type": "string", "description": "Page URL (http or https)"}

// --- visible / fullpage ---

func (s *Saver) registerCaptureTool(srv *mcp.Server, name, desc string, mw kit.Middleware,
	check func(string) error, op func(context.Context, CaptureRequest) (*CaptureOutcome, error)) {
	tool := &mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: inputSchema(map[string]any{
			"url":  urlProp,
			"name": map[string]any{"type": "string", "description": "File name without extension (default: page title)"},
		}, []string{"url"}),
	}

	endpoint := mw(func(ctx context.Context, req any) (any, error) {
		r := req.(*CaptureRequest)
		if err := check(r.URL); err != nil {
			return nil, err
		}
		return op(ctx, *r)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[CaptureRequest])
}

// --- area ---

func (s *Saver) registerAreaTool(srv *mcp.Server, mw kit.Middleware, check func(string) error) {
	tool := &mcp.Tool{
		Name:        "pagesaver_area",
		Description: "Save a PNG of a rectangle of the visible viewport, given in CSS pixels.",
		InputSchema: inputSchema(map[string]any{
			"url": urlProp,
			"rect": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"left":   map[string]any{"type": "number"},
					"top":    map[string]any{"type": "number"},
					"width":  map[string]any{"type": "number"},
					"height": map[string]any{"type": "number"},
				},
				"required": []string{"left", "top", "width", "height"},
			},
		}, []string{"url", "rect"}),
	}

	endpoint := mw(func(ctx context.Context, req any) (any, error) {
		r := req.(*AreaRequest)
		if err := check(r.URL); err != nil {
			return nil, err
		}
		if r.Rect == nil {
			return nil, errors.New("rect is required")
		}
		return s.Area(ctx, *r)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[AreaRequest])
}

// --- images ---

func (s *Saver) registerImagesTool(srv *mcp.Server, mw kit.Middleware, check func(string) error) {
	tool := &mcp.Tool{
		Name:        "pagesaver_images",
		Description: "Download every image referenced by a page (img, srcset, picture, CSS backgrounds) into images/.",
		InputSchema: inputSchema(map[string]any{
			"url":                urlProp,
			"min_size":           map[string]any{"type": "integer", "description": "Skip images smaller than this many bytes"},
			"include_img":        map[string]any{"type": "boolean"},
			"include_background": map[string]any{"type": "boolean"},
		}, []string{"url"}),
	}

	endpoint := mw(func(ctx context.Context, req any) (any, error) {
		r := req.(*ImagesRequest)
		if err := check(r.URL); err != nil {
			return nil, err
		}
		return s.Images(ctx, *r)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[ImagesRequest])
}

// --- archive ---

func (s *Saver) registerArchiveTool(srv *mcp.Server, mw kit.Middleware, check func(string) error) {
	tool := &mcp.Tool{
		Name:        "pagesaver_archive",
		Description: "Save a static copy of every page under a URL prefix into archive/, scripts removed and links rewritten.",
		InputSchema: inputSchema(map[string]any{
			"url":       urlProp,
			"prefix":    map[string]any{"type": "string", "description": "Only follow links starting with this (default: the start URL)"},
			"max_pages": map[string]any{"type": "integer"},
			"markdown":  map[string]any{"type": "boolean", "description": "Also write a .md next to each page"},
		}, []string{"url"}),
	}

	endpoint := mw(func(ctx context.Context, req any) (any, error) {
		r := req.(*ArchiveRequest)
		if err := check(r.URL); err != nil {
			return nil, err
		}
		return s.Archive(ctx, *r)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[ArchiveRequest])
}

// --- history ---

type historyReq struct {
	Kind  string `json:"kind"`
	Limit int    `json:"limit"`
	Last  bool   `json:"last"`
}

func (s *Saver) registerHistoryTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "pagesaver_history",
		Description: "List recent pagesaver runs, or only the last successful screenshot.",
		InputSchema: inputSchema(map[string]any{
			"kind":  map[string]any{"type": "string", "enum": []string{"", capture.KindVisible, capture.KindFullPage, capture.KindArea, "images", "archive"}},
			"limit": map[string]any{"type": "integer"},
			"last":  map[string]any{"type": "boolean"},
		}, nil),
	}

	endpoint := mw(func(ctx context.Context, req any) (any, error) {
		r := req.(*historyReq)
		if r.Last {
			return s.Last(ctx)
		}
		runs, err := s.History(ctx, r.Kind, r.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"runs": runs}, nil
	})

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[historyReq])
}
