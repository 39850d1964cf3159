package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onetimeview/onetimeview/internal/db"
	"github.com/onetimeview/onetimeview/internal/repository"
	"github.com/onetimeview/onetimeview/internal/service"
	"github.com/onetimeview/onetimeview/internal/storage"
	"github.com/onetimeview/onetimeview/internal/token"
)

var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake image body")

const testMaxFileSize = 1 << 16

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	dir := t.TempDir()
	dsn := filepath.Join(dir, "test.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	database, err := db.Init("sqlite", dsn)
	if err != nil {
		t.Fatalf("db.Init() error: %v", err)
	}
	t.Cleanup(func() { db.Close(database) })
	if err := db.RunMigrations(database.DB, "sqlite"); err != nil {
		t.Fatalf("RunMigrations() error: %v", err)
	}

	store, err := storage.NewLocalStorage(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}

	svc := service.NewSecretService(
		repository.NewSecretRepository(database),
		repository.NewHandoffRepository(database),
		store,
		token.NewSigner([]byte(strings.Repeat("k", 32))),
		service.Options{
			AppURL:              "http://example.test",
			DefaultExpiry:       24 * time.Hour,
			MaxExpiry:           7 * 24 * time.Hour,
			MaxViews:            10,
			MaxTextLength:       50000,
			MaxFileSize:         testMaxFileSize,
			MaxPasswordAttempts: 5,
			HandoffTTL:          5 * time.Minute,
		},
	)

	h := NewSecretHandler(svc, testMaxFileSize)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/secrets", h.Create)
	mux.HandleFunc("POST /api/secrets/{id}/verify", h.Verify)
	mux.HandleFunc("GET /api/secrets/{id}", h.Retrieve)
	mux.HandleFunc("GET /api/downloads/{token}", h.Download)
	return mux
}

func do(mux http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func postJSON(t *testing.T, mux http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return do(mux, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	err := json.NewDecoder(rec.Body).Decode(&v)
	if err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func createText(t *testing.T, mux http.Handler, body map[string]any) createResponse {
	t.Helper()
	rec := postJSON(t, mux, "/api/secrets", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[createResponse](t, rec)
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestTextSecretViewedOnce(t *testing.T) {
	mux := newTestMux(t)

	created := createText(t, mux, map[string]any{
		"content_type": "text",
		"content":      "hi",
		"expiry_hours": 0,
		"max_views":    1,
	})
	if created.ExpiresAt != nil {
		t.Errorf("expires_at = %v, want null", created.ExpiresAt)
	}
	if created.URL != "http://example.test/view/"+created.ID {
		t.Errorf("url = %q", created.URL)
	}

	rec := do(mux, httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first GET status = %d, body %s", rec.Code, rec.Body.String())
	}
	view := decode[map[string]any](t, rec)
	if view["content"] != "hi" {
		t.Errorf("content = %v, want hi", view["content"])
	}
	if view["remaining_views"] != float64(0) {
		t.Errorf("remaining_views = %v, want 0", view["remaining_views"])
	}
	if _, ok := view["download_url"]; ok {
		t.Error("text view should not carry a download_url")
	}

	rec = do(mux, httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second GET status = %d, want 404", rec.Code)
	}
	errBody := decode[errorResponse](t, rec)
	if errBody.Error != "secret not found or expired" {
		t.Errorf("error = %q", errBody.Error)
	}
}

func TestCreateValidation(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		field  string
	}{
		{"bad content type", map[string]any{"content_type": "audio", "content": "x"}, http.StatusBadRequest, "content_type"},
		{"empty text", map[string]any{"content_type": "text", "content": ""}, http.StatusBadRequest, "content"},
		{"negative expiry", map[string]any{"content_type": "text", "content": "x", "expiry_hours": -1}, http.StatusBadRequest, "expiry_hours"},
		{"expiry too long", map[string]any{"content_type": "text", "content": "x", "expiry_hours": 1000}, http.StatusBadRequest, "expiry_hours"},
		{"image without file", map[string]any{"content_type": "image"}, http.StatusBadRequest, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, mux, "/api/secrets", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			got := decode[errorResponse](t, rec)
			if got.Field != tt.field {
				t.Errorf("field = %q, want %q", got.Field, tt.field)
			}
		})
	}
}

func TestCreateMalformedBodies(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/secrets", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	if rec := do(mux, req); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/secrets", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	if rec := do(mux, req); rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("text/plain status = %d, want 415", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/secrets", strings.NewReader("content_type=text&content=x&max_views=many"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(mux, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-integer max_views status = %d, want 400", rec.Code)
	}
	if got := decode[errorResponse](t, rec); got.Field != "max_views" {
		t.Errorf("field = %q, want max_views", got.Field)
	}
}

func TestCreateFormClampsViews(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/secrets", strings.NewReader("content_type=text&content=x&max_views=50"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(mux, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[createResponse](t, rec)
	if created.MaxViews != 10 {
		t.Errorf("max_views = %d, want 10", created.MaxViews)
	}
	if created.ExpiresAt == nil {
		t.Error("expires_at should default to a deadline")
	}
}

func TestPasswordProtectedSecret(t *testing.T) {
	mux := newTestMux(t)

	created := createText(t, mux, map[string]any{
		"content_type": "text",
		"content":      "vault code",
		"password":     "hunter2",
	})
	if !created.HasPassword {
		t.Fatal("has_password = false")
	}

	rec := postJSON(t, mux, "/api/secrets/"+created.ID+"/verify", map[string]string{"password": "wrong"})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	if got := decode[verifyResponse](t, rec); got.Verified || !got.HasPassword {
		t.Errorf("verify wrong = %+v", got)
	}

	rec = postJSON(t, mux, "/api/secrets/"+created.ID+"/verify", map[string]string{"password": "hunter2"})
	if got := decode[verifyResponse](t, rec); !got.Verified {
		t.Errorf("verify right = %+v", got)
	}

	rec = do(mux, httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID+"?password=nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("wrong password GET status = %d, want 404", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID+"?password=nope", nil)
	req.Header.Set(passwordHeader, "hunter2")
	rec = do(mux, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("header password GET status = %d, body %s", rec.Code, rec.Body.String())
	}
	view := decode[map[string]any](t, rec)
	if view["content"] != "vault code" {
		t.Errorf("content = %v", view["content"])
	}
}

func TestVerifyEmptyBodyAndUnknown(t *testing.T) {
	mux := newTestMux(t)

	created := createText(t, mux, map[string]any{"content_type": "text", "content": "open"})

	req := httptest.NewRequest(http.MethodPost, "/api/secrets/"+created.ID+"/verify", nil)
	rec := do(mux, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[verifyResponse](t, rec); !got.Verified || got.HasPassword {
		t.Errorf("verify = %+v, want verified without password", got)
	}

	rec = postJSON(t, mux, "/api/secrets/does-not-exist/verify", map[string]string{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown verify status = %d, want 404", rec.Code)
	}
}

func TestImageUploadAndDownload(t *testing.T) {
	mux := newTestMux(t)

	body, ct := multipartBody(t, map[string]string{"content_type": "image"}, "cat.png", pngData)
	req := httptest.NewRequest(http.MethodPost, "/api/secrets", body)
	req.Header.Set("Content-Type", ct)
	rec := do(mux, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[createResponse](t, rec)

	rec = do(mux, httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("view status = %d, body %s", rec.Code, rec.Body.String())
	}
	view := decode[viewResponse](t, rec)
	if view.Content != nil {
		t.Error("file view should not carry content")
	}
	if view.FileName != "cat.png" || view.MimeType != "image/png" || view.FileSize != int64(len(pngData)) {
		t.Errorf("view = %+v", view)
	}
	if !strings.HasPrefix(view.DownloadURL, "http://example.test/api/downloads/") {
		t.Fatalf("download_url = %q", view.DownloadURL)
	}
	path := strings.TrimPrefix(view.DownloadURL, "http://example.test")

	rec = do(mux, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `inline; filename=cat.png` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), pngData) {
		t.Error("downloaded bytes differ from upload")
	}

	rec = do(mux, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second download status = %d, want 404", rec.Code)
	}

	rec = do(mux, httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second view status = %d, want 404", rec.Code)
	}
}

func TestUploadRejections(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		name     string
		kind     string
		fileName string
		data     []byte
		status   int
	}{
		{"disallowed extension", "file", "run.exe", []byte("MZ"), http.StatusBadRequest},
		{"kind mismatch", "video", "cat.png", pngData, http.StatusBadRequest},
		{"fake image", "image", "cat.png", []byte("not an image at all"), http.StatusBadRequest},
		{"too large", "file", "big.pdf", bytes.Repeat([]byte("a"), testMaxFileSize+1), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, map[string]string{"content_type": tt.kind}, tt.fileName, tt.data)
			req := httptest.NewRequest(http.MethodPost, "/api/secrets", body)
			req.Header.Set("Content-Type", ct)
			rec := do(mux, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if got := decode[errorResponse](t, rec); got.Field != "file" {
				t.Errorf("field = %q, want file", got.Field)
			}
		})
	}
}

func TestDownloadInvalidToken(t *testing.T) {
	mux := newTestMux(t)

	rec := do(mux, httptest.NewRequest(http.MethodGet, "/api/downloads/not-a-token", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDisposition(t *testing.T) {
	tests := []struct {
		contentType string
		fileName    string
		want        string
	}{
		{"image", "a.png", "inline; filename=a.png"},
		{"video", "clip.mp4", "inline; filename=clip.mp4"},
		{"file", "report.pdf", "attachment; filename=report.pdf"},
		{"file", "my report.pdf", `attachment; filename="my report.pdf"`},
		{"file", "", "attachment"},
	}
	for _, tt := range tests {
		if got := disposition(tt.contentType, tt.fileName); got != tt.want {
			t.Errorf("disposition(%q, %q) = %q, want %q", tt.contentType, tt.fileName, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	ok := NewHealthHandler(func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	ok.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["status"] != "healthy" {
		t.Errorf("body = %v", got)
	}

	down := NewHealthHandler(func(context.Context) error { return errors.New("db gone") })
	rec = httptest.NewRecorder()
	down.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if _, err := io.Copy(io.Discard, rec.Body); err != nil {
		t.Fatal(err)
	}
}

func TestHeadDoesNotConsume(t *testing.T) {
	mux := newTestMux(t)

	body, ct := multipartBody(t, map[string]string{"content_type": "image"}, "cat.png", pngData)
	req := httptest.NewRequest(http.MethodPost, "/api/secrets", body)
	req.Header.Set("Content-Type", ct)
	rec := do(mux, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[createResponse](t, rec)

	rec = do(mux, httptest.NewRequest(http.MethodHead, "/api/secrets/"+created.ID, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("HEAD secret status = %d, want 405", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodGet {
		t.Errorf("Allow = %q, want GET", got)
	}

	rec = do(mux, httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET after HEAD status = %d, body %s", rec.Code, rec.Body.String())
	}
	view := decode[viewResponse](t, rec)
	path := strings.TrimPrefix(view.DownloadURL, "http://example.test")

	rec = do(mux, httptest.NewRequest(http.MethodHead, path, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("HEAD download status = %d, want 405", rec.Code)
	}

	rec = do(mux, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download after HEAD status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), pngData) {
		t.Error("downloaded bytes differ from upload")
	}
}
