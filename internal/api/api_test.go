package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/albumshare/internal/album"
	"github.com/starford/albumshare/internal/models"
	"github.com/starford/albumshare/internal/tagindex"
	"github.com/starford/albumshare/internal/testutil"
	"github.com/starford/albumshare/internal/upload"
	"github.com/starford/albumshare/internal/view"
)

type env struct {
	fake    *testutil.Backend
	session *album.Session
	router  http.Handler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv wires a session and uploader against a fake collaborator.
// An empty token means auth is disabled.
func testEnv(t *testing.T, token string) *env {
	t.Helper()
	return testEnvWithSSE(t, token, nil)
}

func testEnvWithSSE(t *testing.T, token string, sseHandler http.Handler) *env {
	t.Helper()
	fake := testutil.NewBackend(t)
	fake.SetPhotos(
		models.Photo{Key: "2020_June_Beach.jpg", URL: "u1", FavoriteCount: models.IntPtr(2)},
		models.Photo{Key: "2019_May_Park.jpg", URL: "u2"},
		models.Photo{Key: "2019_May_Park_a.jpg", URL: "u3"},
	)
	fake.SetTags("2020_June_Beach.jpg", "Mom")

	kv := testutil.TestStore(t)
	session := album.New(fake.Client(), tagindex.New("Mom", "Dad"),
		album.WithLogger(quietLogger()),
		album.WithStore(kv))
	t.Cleanup(session.Close)

	up := upload.New(fake.Client(), upload.WithLogger(quietLogger()))
	h := NewHandler(session, tagindex.NewCustomTags(kv), up)
	return &env{
		fake:    fake,
		session: session,
		router:  NewRouter(h, token != "", token, sseHandler),
	}
}

func (e *env) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) load(t *testing.T) {
	t.Helper()
	if w := e.do(t, http.MethodPost, "/photos/load", nil); w.Code != http.StatusOK {
		t.Fatalf("load status = %d, body = %s", w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestLoadAndListPhotos(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodGet, "/photos", nil)
	if got := decode[PhotoListResponse](t, w); got.Total != 0 || got.Pagination.Initialized {
		t.Fatalf("before load = %+v", got)
	}

	e.load(t)

	w = e.do(t, http.MethodGet, "/photos", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	got := decode[PhotoListResponse](t, w)
	// The plain scan is superseded by its enhanced rendition.
	if got.Total != 2 {
		t.Fatalf("total = %d, want 2: %+v", got.Total, got.Photos)
	}
	if got.Photos[0].Key != "2020_June_Beach.jpg" {
		t.Errorf("first = %q", got.Photos[0].Key)
	}
	if !got.Pagination.Initialized || got.Pagination.HasMore {
		t.Errorf("pagination = %+v", got.Pagination)
	}

	// Second initial load is refused.
	if w := e.do(t, http.MethodPost, "/photos/load", nil); w.Code != http.StatusConflict {
		t.Errorf("second load = %d, want 409", w.Code)
	}
	// Nothing left to fetch.
	if w := e.do(t, http.MethodPost, "/photos/more", nil); w.Code != http.StatusConflict {
		t.Errorf("more after exhaustion = %d, want 409", w.Code)
	}
}

func TestListPhotosQueryOverride(t *testing.T) {
	e := testEnv(t, "")
	e.load(t)

	w := e.do(t, http.MethodGet, "/photos?year=2019", nil)
	got := decode[PhotoListResponse](t, w)
	if got.Total != 1 || got.Photos[0].Key != "2019_May_Park_a.jpg" {
		t.Fatalf("year override = %+v", got.Photos)
	}

	// The saved filter is untouched.
	w = e.do(t, http.MethodGet, "/filter", nil)
	if strings.TrimSpace(w.Body.String()) != "{}" {
		t.Errorf("filter = %s", w.Body.String())
	}
}

func TestLoadMoreBeforeLoad(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodPost, "/photos/more", nil); w.Code != http.StatusConflict {
		t.Errorf("more before load = %d, want 409", w.Code)
	}
}

func TestLoadTransportFailure(t *testing.T) {
	e := testEnv(t, "")
	e.fake.FailPhotos(1)
	if w := e.do(t, http.MethodPost, "/photos/load", nil); w.Code != http.StatusBadGateway {
		t.Errorf("failed load = %d, want 502", w.Code)
	}
	// Retry succeeds once the collaborator recovers.
	e.load(t)
}

func TestFacets(t *testing.T) {
	e := testEnv(t, "")
	e.load(t)

	w := e.do(t, http.MethodGet, "/facets", nil)
	f := decode[view.Facets](t, w)
	if strings.Join(f.Years, ",") != "2020,2019" {
		t.Errorf("years = %v", f.Years)
	}
	if strings.Join(f.Months, ",") != "May,June" {
		t.Errorf("months = %v", f.Months)
	}
}

func TestFilterLifecycle(t *testing.T) {
	e := testEnv(t, "")
	e.load(t)

	w := e.do(t, http.MethodPost, "/filter/toggle", FilterToggleRequest{Kind: "tag", Value: "Mom"})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle = %d, body = %s", w.Code, w.Body.String())
	}
	got := decode[PhotoListResponse](t, e.do(t, http.MethodGet, "/photos", nil))
	if got.Total != 1 || got.Filter.Tag != "Mom" {
		t.Fatalf("filtered = %+v", got)
	}

	w = e.do(t, http.MethodPut, "/filter", map[string]any{"years": []string{"2019"}})
	if w.Code != http.StatusOK {
		t.Fatalf("put filter = %d", w.Code)
	}
	got = decode[PhotoListResponse](t, e.do(t, http.MethodGet, "/photos", nil))
	if got.Total != 1 || got.Photos[0].Key != "2019_May_Park_a.jpg" {
		t.Fatalf("after put = %+v", got.Photos)
	}

	if w := e.do(t, http.MethodDelete, "/filter", nil); w.Code != http.StatusOK {
		t.Fatalf("clear = %d", w.Code)
	}
	got = decode[PhotoListResponse](t, e.do(t, http.MethodGet, "/photos", nil))
	if got.Total != 2 {
		t.Errorf("after clear total = %d", got.Total)
	}
}

func TestFilterToggleUnknownKind(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodPost, "/filter/toggle", FilterToggleRequest{Kind: "color", Value: "red"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind = %d, want 400", w.Code)
	}
}

func TestFavoriteRoutes(t *testing.T) {
	e := testEnv(t, "")
	e.load(t)

	w := e.do(t, http.MethodPut, "/favorites/2019_May_Park_a.jpg", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("favorite = %d, body = %s", w.Code, w.Body.String())
	}
	got := decode[FavoriteResponse](t, w)
	if !got.IsFavorite || got.FavoriteCount != 1 {
		t.Errorf("after add = %+v", got)
	}
	if !e.fake.IsFavorite("2019_May_Park_a.jpg") {
		t.Error("collaborator not updated")
	}

	got = decode[FavoriteResponse](t, e.do(t, http.MethodPost, "/favorites/toggle/2019_May_Park_a.jpg", nil))
	if got.IsFavorite || got.FavoriteCount != 0 {
		t.Errorf("after toggle = %+v", got)
	}

	if w := e.do(t, http.MethodDelete, "/favorites/missing.jpg", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown key = %d, want 404", w.Code)
	}
}

func TestFavoriteWriteFailure(t *testing.T) {
	e := testEnv(t, "")
	e.load(t)
	e.fake.FailWrites(true)

	w := e.do(t, http.MethodPost, "/favorites/toggle/2019_May_Park_a.jpg", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("failed toggle = %d, want 502", w.Code)
	}
	if e.session.IsFavorite("2019_May_Park_a.jpg") {
		t.Error("optimistic favorite not rolled back")
	}
}

func TestTagRoutes(t *testing.T) {
	e := testEnv(t, "")
	e.load(t)

	w := e.do(t, http.MethodGet, "/tags/2020_June_Beach.jpg", nil)
	if got := decode[TagsResponse](t, w); strings.Join(got.Tags, ",") != "Mom,2020,June" {
		t.Errorf("tags = %v", got.Tags)
	}

	w = e.do(t, http.MethodPost, "/tags", TagRequest{PhotoKey: "2020_June_Beach.jpg", Tag: "Dad"})
	if w.Code != http.StatusOK {
		t.Fatalf("add tag = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[TagsResponse](t, w); strings.Join(got.Tags, ",") != "Mom,Dad,2020,June" {
		t.Errorf("after add = %v", got.Tags)
	}

	w = e.do(t, http.MethodDelete, "/tags", TagRequest{PhotoKey: "2020_June_Beach.jpg", Tag: "Mom"})
	if got := decode[TagsResponse](t, w); strings.Join(got.Tags, ",") != "Dad,2020,June" {
		t.Errorf("after remove = %v", got.Tags)
	}

	if w := e.do(t, http.MethodPost, "/tags", TagRequest{PhotoKey: "2020_June_Beach.jpg"}); w.Code != http.StatusBadRequest {
		t.Errorf("empty tag = %d, want 400", w.Code)
	}
}

func TestBulkTag(t *testing.T) {
	e := testEnv(t, "")
	e.load(t)

	w := e.do(t, http.MethodPost, "/tags/bulk", BulkTagRequest{
		Tag:       "Mom",
		PhotoKeys: []string{"2020_June_Beach.jpg", "2019_May_Park_a.jpg"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("bulk = %d", w.Code)
	}
	got := decode[album.BulkResult](t, w)
	if got.Tagged != 1 || got.Skipped != 1 {
		t.Errorf("bulk = %+v", got)
	}
}

func TestCustomTags(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodPost, "/custom-tags", CustomTagRequest{Tag: "Grandpa"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d", w.Code)
	}
	e.do(t, http.MethodPost, "/custom-tags", CustomTagRequest{Tag: "grandpa"})
	e.do(t, http.MethodPost, "/custom-tags", CustomTagRequest{Tag: "Aunt May"})

	got := decode[CustomTagsResponse](t, e.do(t, http.MethodGet, "/custom-tags", nil))
	if strings.Join(got.Tags, ",") != "Aunt May,Grandpa" {
		t.Fatalf("list = %v", got.Tags)
	}

	got = decode[CustomTagsResponse](t, e.do(t, http.MethodDelete, "/custom-tags/Aunt%20May", nil))
	if strings.Join(got.Tags, ",") != "Grandpa" {
		t.Errorf("after delete = %v", got.Tags)
	}

	if w := e.do(t, http.MethodPost, "/custom-tags", CustomTagRequest{Tag: "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank = %d, want 400", w.Code)
	}
}

func TestInvalidJSON(t *testing.T) {
	e := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/tags", strings.NewReader("{"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/photos", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/photos", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/photos", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestCollaboratorRejectsCredential(t *testing.T) {
	e := testEnv(t, "")
	e.fake.SetToken("expected")
	if w := e.do(t, http.MethodPost, "/photos/load", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("rejected credential = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests.

func blockingSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := testEnvWithSSE(t, "secret", blockingSSE())

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := testEnvWithSSE(t, "tok", blockingSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryTokenOnlyForEventStream(t *testing.T) {
	e := testEnvWithSSE(t, "tok", blockingSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("event-stream request with query token should not 401")
	}

	// The query token is ignored for ordinary requests.
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/photos?access_token=tok", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on /photos = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate challenge")
	}
}

// Upload tests.

func postFiles(t *testing.T, router http.Handler, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.Copy(part, bytes.NewReader(content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadBatch(t *testing.T) {
	e := testEnv(t, "")
	e.fake.FailUpload("bad.jpg")

	w := postFiles(t, e.router, map[string][]byte{"good.jpg": []byte("g"), "bad.jpg": []byte("b")})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	sum := decode[upload.Summary](t, w)
	if sum.Succeeded != 1 || sum.Failed != 1 || sum.Status() != upload.BatchPartial {
		t.Errorf("summary = %+v", sum)
	}
	if len(e.fake.Objects()) != 1 {
		t.Errorf("objects = %d", len(e.fake.Objects()))
	}
}

func TestUploadTotalFailure(t *testing.T) {
	e := testEnv(t, "")
	e.fake.FailUpload("bad.jpg")

	w := postFiles(t, e.router, map[string][]byte{"bad.jpg": []byte("b")})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("total failure = %d, want 502", w.Code)
	}
	got := decode[uploadFailure](t, w)
	if got.Summary.Failed != 1 || got.Error == "" {
		t.Errorf("failure body = %+v", got)
	}
}

func TestUploadMissingField(t *testing.T) {
	e := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing files = %d, want 400", w.Code)
	}
}

func TestStatusOf(t *testing.T) {
	if statusOf(context.DeadlineExceeded) != http.StatusServiceUnavailable {
		t.Error("deadline should map to 503")
	}
	if statusOf(io.EOF) != http.StatusInternalServerError {
		t.Error("unknown error should map to 500")
	}
}
