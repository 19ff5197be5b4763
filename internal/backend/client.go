// Package backend talks to the album collaborators: the photo listing, the
// favorites and tags endpoints, and the upload-slot endpoint, plus the
// object-storage PUT behind each pre-signed upload URL.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/models"
)

// Endpoints locates the collaborators. Paths are joined onto BaseURL unless
// they are absolute URLs themselves.
type Endpoints struct {
	BaseURL   string
	Photos    string
	Favorites string
	Tags      string
	UploadURL string
}

// PhotoLister produces pages of photo references.
type PhotoLister interface {
	ListPhotos(ctx context.Context, limit int, nextToken string) (*models.PhotoPage, error)
}

// SlotIssuer hands out pre-signed upload destinations.
type SlotIssuer interface {
	RequestUploadSlot(ctx context.Context, fileName, fileType string) (*models.UploadSlot, error)
}

// Client implements every collaborator call over HTTP. Listing and upload
// slots can be redirected to another source (for example S3Source).
type Client struct {
	http   *http.Client
	ep     Endpoints
	auth   Authorizer
	lister PhotoLister
	slots  SlotIssuer
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithAuthorizer sets how requests are authorized.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Client) { c.auth = a }
}

// WithPhotoLister serves ListPhotos from l instead of the photos endpoint.
func WithPhotoLister(l PhotoLister) Option {
	return func(c *Client) { c.lister = l }
}

// WithSlotIssuer serves RequestUploadSlot from s instead of the endpoint.
func WithSlotIssuer(s SlotIssuer) Option {
	return func(c *Client) { c.slots = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the given endpoints.
func New(ep Endpoints, opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: 30 * time.Second},
		ep:     ep,
		auth:   NoAuth{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListPhotos fetches one page. A bare JSON array is accepted as a legacy,
// non-paginated response.
func (c *Client) ListPhotos(ctx context.Context, limit int, nextToken string) (*models.PhotoPage, error) {
	if c.lister != nil {
		return c.lister.ListPhotos(ctx, limit, nextToken)
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if nextToken != "" {
		q.Set("nextToken", nextToken)
	}
	data, err := c.do(ctx, "list photos", http.MethodGet, c.ep.Photos, q, nil)
	if err != nil {
		return nil, err
	}
	page, err := decodePhotoPage(data)
	if err != nil {
		return nil, fmt.Errorf("backend: list photos: %w", err)
	}
	c.logger.Debug("backend: photos page",
		slog.Int("count", len(page.Photos)),
		slog.Bool("has_more", page.Pagination.HasMore),
		slog.Bool("legacy", page.Legacy))
	return page, nil
}

func decodePhotoPage(data []byte) (*models.PhotoPage, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", apperr.ErrTransport)
	}
	res := gjson.ParseBytes(data)
	page := &models.PhotoPage{}
	switch {
	case res.IsArray():
		page.Legacy = true
		if err := json.Unmarshal(data, &page.Photos); err != nil {
			return nil, fmt.Errorf("%w: decode photos: %v", apperr.ErrTransport, err)
		}
	case res.IsObject():
		if raw := res.Get("photos"); raw.Exists() {
			if err := json.Unmarshal([]byte(raw.Raw), &page.Photos); err != nil {
				return nil, fmt.Errorf("%w: decode photos: %v", apperr.ErrTransport, err)
			}
		}
		pag := res.Get("pagination")
		if !pag.Exists() {
			page.Legacy = true
			break
		}
		page.Pagination = models.Pagination{
			NextToken: pag.Get("nextToken").String(),
			HasMore:   pag.Get("hasMore").Bool(),
		}
	default:
		return nil, fmt.Errorf("%w: unexpected photos payload", apperr.ErrTransport)
	}
	return page, nil
}

// ListFavorites fetches the viewer's whole favorites list in one call.
func (c *Client) ListFavorites(ctx context.Context) ([]models.Photo, error) {
	data, err := c.do(ctx, "list favorites", http.MethodGet, c.ep.Favorites, nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Favorites []models.Photo `json:"favorites"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("backend: list favorites: %w: %v", apperr.ErrTransport, err)
	}
	for i := range resp.Favorites {
		resp.Favorites[i].IsFavorite = true
	}
	return resp.Favorites, nil
}

// SetFavorite adds (on) or removes the viewer's favorite mark.
func (c *Client) SetFavorite(ctx context.Context, key string, on bool) error {
	method := http.MethodDelete
	if on {
		method = http.MethodPost
	}
	_, err := c.do(ctx, "set favorite", method, c.ep.Favorites, nil, map[string]string{"photoKey": key})
	return err
}

// ListTags fetches the tag set of one photo.
func (c *Client) ListTags(ctx context.Context, key string) ([]string, error) {
	data, err := c.do(ctx, "list tags", http.MethodGet, c.ep.Tags, url.Values{"photoKey": {key}}, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Tags []struct {
			Tag string `json:"tag"`
		} `json:"tags"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("backend: list tags: %w: %v", apperr.ErrTransport, err)
	}
	out := make([]string, 0, len(resp.Tags))
	for _, t := range resp.Tags {
		out = append(out, t.Tag)
	}
	return out, nil
}

// SetTag adds (on) or removes a tag on a photo.
func (c *Client) SetTag(ctx context.Context, key, tag string, on bool) error {
	method := http.MethodDelete
	if on {
		method = http.MethodPost
	}
	_, err := c.do(ctx, "set tag", method, c.ep.Tags, nil, map[string]string{"photoKey": key, "tag": tag})
	return err
}

// RequestUploadSlot asks for a pre-signed destination for one file.
func (c *Client) RequestUploadSlot(ctx context.Context, fileName, fileType string) (*models.UploadSlot, error) {
	if c.slots != nil {
		return c.slots.RequestUploadSlot(ctx, fileName, fileType)
	}
	data, err := c.do(ctx, "request upload slot", http.MethodPost, c.ep.UploadURL, nil,
		map[string]string{"fileName": fileName, "fileType": fileType})
	if err != nil {
		return nil, err
	}
	var slot models.UploadSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return nil, fmt.Errorf("backend: request upload slot: %w: %v", apperr.ErrTransport, err)
	}
	if slot.UploadURL == "" {
		return nil, fmt.Errorf("backend: request upload slot: %w: empty uploadUrl", apperr.ErrTransport)
	}
	return &slot, nil
}

// UploadBytes PUTs the file body to a pre-signed URL. The URL carries its own
// authorization, so no credentials are attached.
func (c *Client) UploadBytes(ctx context.Context, slot *models.UploadSlot, contentType string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.UploadURL, body)
	if err != nil {
		return fmt.Errorf("backend: upload: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if size >= 0 {
		req.ContentLength = size
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: upload: %w: %v", apperr.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: "upload", Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// do performs one authorized JSON call and returns the response body.
func (c *Client) do(ctx context.Context, op, method, endpoint string, q url.Values, body any) ([]byte, error) {
	u, err := c.resolve(endpoint)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", op, err)
	}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: %s: encode body: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.auth.Authorize(ctx, req, payload); err != nil {
		return nil, fmt.Errorf("backend: %s: %w: %v", op, apperr.ErrUnauthenticated, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w: %v", op, apperr.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("backend: %s: read body: %w: %v", op, apperr.ErrTransport, err)
	}
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: msg}
	}
	return data, nil
}

func (c *Client) resolve(endpoint string) (*url.URL, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return url.Parse(endpoint)
	}
	if c.ep.BaseURL == "" {
		return nil, fmt.Errorf("no base URL for endpoint %q", endpoint)
	}
	joined, err := url.JoinPath(c.ep.BaseURL, endpoint)
	if err != nil {
		return nil, err
	}
	return url.Parse(joined)
}
