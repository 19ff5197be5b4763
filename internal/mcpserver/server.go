// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes album tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/albumshare/internal/album"
	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/upload"
	"github.com/starford/albumshare/internal/view"
)

// Uploader sends one batch of files.
type Uploader interface {
	Upload(ctx context.Context, files []upload.File) (upload.Summary, error)
}

// Server wraps the MCP server with album tools.
type Server struct {
	mcp      *server.MCPServer
	session  *album.Session
	uploader Uploader
	fetcher  *http.Client
}

// New creates a new MCP server with all album tools registered. uploader may
// be nil, in which case upload_photo is not offered.
func New(session *album.Session, uploader Uploader) *Server {
	s := &Server{session: session, uploader: uploader, fetcher: newFetcher()}

	s.mcp = server.NewMCPServer(
		"albumshare",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_photos",
		mcp.WithDescription("List the visible photos with their tags and favorite counts. "+
			"Without arguments the saved filter applies; any argument replaces it for this call."),
		mcp.WithString("tag", mcp.Description("Only photos carrying this tag")),
		mcp.WithString("year", mcp.Description("Only photos from this year (e.g. 1987)")),
		mcp.WithString("month", mcp.Description("Only photos from this month (e.g. June)")),
	), s.listPhotos)

	s.mcp.AddTool(mcp.NewTool("load_more",
		mcp.WithDescription("Fetch the next page of photos. The first call loads the album."),
	), s.loadMore)

	s.mcp.AddTool(mcp.NewTool("toggle_favorite",
		mcp.WithDescription("Mark or unmark a photo as favorite."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Photo key (e.g. 2020_June_Beach.jpg)")),
	), s.toggleFavorite)

	s.mcp.AddTool(mcp.NewTool("add_tag",
		mcp.WithDescription("Add a tag to a photo. Read "+TagOrderURI+" for tag conventions."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Photo key")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to add")),
	), s.addTag)

	s.mcp.AddTool(mcp.NewTool("remove_tag",
		mcp.WithDescription("Remove a tag from a photo."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Photo key")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to remove")),
	), s.removeTag)

	s.mcp.AddTool(mcp.NewTool("list_facets",
		mcp.WithDescription("List the years, months and tags present in the loaded photos."),
	), s.listFacets)

	if uploader != nil {
		s.mcp.AddTool(mcp.NewTool("upload_photo",
			mcp.WithDescription("Upload an image into the album from an http(s) URL or a base64 data URI."),
			mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/...;base64,... URI")),
			mcp.WithString("filename", mcp.Description("File name to store under (defaults to the URL's name)")),
			mcp.WithString("year", mcp.Description("Year to prefix when the name has none (e.g. 1987)")),
			mcp.WithString("month", mcp.Description("Month to prefix when the name has none (e.g. May)")),
		), s.uploadPhoto)
	}

	s.mcp.AddResource(
		mcp.NewResource(TagOrderURI, "Tag Order",
			mcp.WithResourceDescription("How photo tags are ordered, derived and filtered."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTagOrderResource,
	)

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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

type photoOut struct {
	Key           string   `json:"key"`
	URL           string   `json:"url"`
	Tags          []string `json:"tags"`
	IsFavorite    bool     `json:"isFavorite"`
	FavoriteCount int      `json:"favoriteCount"`
}

func (s *Server) listPhotos(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag := req.GetString("tag", "")
	year := req.GetString("year", "")
	month := req.GetString("month", "")

	f := s.session.Filter()
	if tag != "" || year != "" || month != "" {
		f = view.Filter{Tag: tag}
		if year != "" {
			f.Years = []string{year}
		}
		if month != "" {
			f.Months = []string{month}
		}
	}

	items := s.session.ViewWith(f)
	out := make([]photoOut, len(items))
	for i, it := range items {
		out[i] = photoOut{
			Key:           it.Key,
			URL:           it.URL,
			Tags:          it.Tags,
			IsFavorite:    s.session.IsFavorite(it.Key),
			FavoriteCount: it.Favorites(),
		}
	}
	if len(out) == 0 {
		if !s.session.Pagination().Initialized {
			return mcp.NewToolResultText("album not loaded yet; call load_more first"), nil
		}
		return mcp.NewToolResultText("no photos match"), nil
	}
	return jsonResult(out), nil
}

func (s *Server) loadMore(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		res album.PageResult
		err error
	)
	if s.session.Pagination().Initialized {
		res, err = s.session.LoadMore(ctx)
	} else {
		res, err = s.session.LoadInitial(ctx)
	}
	switch {
	case errors.Is(err, apperr.ErrExhausted):
		return mcp.NewToolResultText("no more photos"), nil
	case err != nil:
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) toggleFavorite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	on, err := s.session.ToggleFavorite(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if on {
		return mcp.NewToolResultText(fmt.Sprintf("favorited: %s", key)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("unfavorited: %s", key)), nil
}

func (s *Server) addTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.setTag(ctx, req, true)
}

func (s *Server) removeTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.setTag(ctx, req, false)
}

func (s *Server) setTag(ctx context.Context, req mcp.CallToolRequest, on bool) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.session.SetTag(ctx, key, tag, on); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"key": key, "tags": s.session.Tags().Tags(key)}), nil
}

func (s *Server) listFacets(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.session.Facets()), nil
}

func (s *Server) readTagOrderResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TagOrderURI,
			MIMEType: "text/markdown",
			Text:     TagOrderDoc(s.session.Tags().People()),
		},
	}, nil
}
