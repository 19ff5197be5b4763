package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/photokey"
	"github.com/starford/albumshare/internal/storage"
	"github.com/starford/albumshare/internal/upload"
)

const maxPhotoSize = 50 << 20 // 50 MB

var (
	// Extensions for the image types a data URI or download may declare.
	extByType = map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
		"image/gif":  ".gif",
		"image/webp": ".webp",
		"image/heic": ".heic",
		"image/heif": ".heif",
	}

	unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// photoSource is image content plus the extension its declared type implies.
type photoSource struct {
	data []byte
	ext  string
}

func (s *Server) uploadPhoto(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	src, err := s.readSource(ctx, raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	name := req.GetString("filename", "")
	if name == "" {
		name = filenameFromURL(raw, src.ext)
	}
	name, err = conventionalName(sanitizeFilename(name), req.GetString("year", ""), req.GetString("month", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !storage.IsImage(name) {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported file extension %q (allowed: jpg, jpeg, png, gif, webp, heic, heif)",
			path.Ext(name))), nil
	}
	if err := checkContent(src.data, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sum, err := s.uploader.Upload(ctx, []upload.File{upload.FromBytes(name, src.data)})
	if err != nil && !errors.Is(err, apperr.ErrTotalUploadFailure) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(sum.Results) == 0 {
		return mcp.NewToolResultError("nothing uploaded"), nil
	}
	res := sum.Results[0]
	if res.Status != upload.StatusUploaded {
		return mcp.NewToolResultError(fmt.Sprintf("%s %s: %s", res.Status, res.Name, res.Error)), nil
	}
	return jsonResult(res), nil
}

func (s *Server) readSource(ctx context.Context, raw string) (photoSource, error) {
	var (
		src photoSource
		err error
	)
	if strings.HasPrefix(raw, "data:") {
		src, err = decodeDataURI(raw)
	} else {
		src, err = s.download(ctx, raw)
	}
	if err != nil {
		return photoSource{}, err
	}
	if len(src.data) > maxPhotoSize {
		return photoSource{}, fmt.Errorf("file too large: %d bytes (max %d)", len(src.data), maxPhotoSize)
	}
	return src, nil
}

// decodeDataURI accepts data:<image type>[;params];base64,<payload>.
func decodeDataURI(uri string) (photoSource, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return photoSource{}, errors.New("invalid data URI: missing comma separator")
	}
	params := strings.Split(meta, ";")
	if params[len(params)-1] != "base64" {
		return photoSource{}, errors.New("only base64 data URIs are supported")
	}
	ext, ok := extByType[params[0]]
	if !ok {
		return photoSource{}, fmt.Errorf("unsupported MIME type in data URI: %s", params[0])
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return photoSource{}, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return photoSource{data: data, ext: ext}, nil
}

// download fetches an http(s) image. Blocked addresses are refused before
// the request and again at dial time, so redirects and DNS answers cannot
// reach them either.
func (s *Server) download(ctx context.Context, raw string) (photoSource, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return photoSource{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return photoSource{}, fmt.Errorf("unsupported scheme: %s (only http/https)", u.Scheme)
	}
	if err := checkBlockedHost(u.Hostname()); err != nil {
		return photoSource{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return photoSource{}, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := s.fetcher.Do(req)
	if err != nil {
		return photoSource{}, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return photoSource{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		return photoSource{}, fmt.Errorf("read body failed: %w", err)
	}
	ct, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return photoSource{data: data, ext: extByType[strings.TrimSpace(ct)]}, nil
}

func newFetcher() *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if reason := blockedIP(net.ParseIP(host)); reason != "" {
				return fmt.Errorf("blocked address: %s %s", reason, host)
			}
			return nil
		},
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{DialContext: dialer.DialContext, Proxy: http.ProxyFromEnvironment},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}
}

func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}
	if reason := blockedIP(net.ParseIP(host)); reason != "" {
		return fmt.Errorf("blocked host: %s address %s", reason, host)
	}
	return nil
}

// blockedIP names why ip may not be fetched from, or returns "".
func blockedIP(ip net.IP) string {
	switch {
	case ip == nil:
		return ""
	case ip.IsLoopback():
		return "loopback"
	case ip.IsLinkLocalUnicast():
		return "link-local"
	case ip.IsUnspecified():
		return "unspecified"
	}
	return ""
}

// conventionalName prefixes year and month so the album derives them as tags.
// Parts the name already carries are left alone.
func conventionalName(name, year, month string) (string, error) {
	if month != "" {
		i := photokey.MonthIndex(month)
		if i < 0 {
			return "", fmt.Errorf("unknown month %q", month)
		}
		if _, ok := photokey.ExtractMonth(name); !ok {
			name = photokey.Months[i] + "_" + name
		}
	}
	if year != "" {
		if !photokey.IsYear(year) {
			return "", fmt.Errorf("invalid year %q", year)
		}
		if _, ok := photokey.ExtractYear(name); !ok {
			name = year + "_" + name
		}
	}
	return name, nil
}

func filenameFromURL(raw, ext string) string {
	if ext == "" {
		ext = ".jpg"
	}
	if !strings.HasPrefix(raw, "data:") {
		if u, err := url.Parse(raw); err == nil {
			if base := path.Base(u.Path); strings.Contains(base, ".") && base != "." {
				return base
			}
		}
	}
	return uuid.New().String() + ext
}

func sanitizeFilename(name string) string {
	name = unsafeNameRe.ReplaceAllString(path.Base(strings.ReplaceAll(name, "\\", "/")), "_")
	if name == "" || name == "." || name == "_" {
		return uuid.New().String()
	}
	return name
}

// checkContent compares the sniffed type with the one the name implies.
// HEIC/HEIF cannot be sniffed and pass unchecked.
func checkContent(data []byte, name string) error {
	want := upload.ContentType(name)
	if want == "image/heic" || want == "image/heif" {
		return nil
	}
	got, _, _ := strings.Cut(http.DetectContentType(data), ";")
	if got != want {
		return fmt.Errorf("content does not match extension %s (detected: %s)", path.Ext(name), got)
	}
	return nil
}
