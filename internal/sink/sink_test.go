package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drksbr/facecam/internal/config"
	"github.com/drksbr/facecam/internal/upload"
)

func newTestSink(t *testing.T) (*Server, config.SinkConfig) {
	t.Helper()
	dir := t.TempDir()
	opts := config.Default().Sink
	opts.SearchDir = filepath.Join(dir, "search")
	opts.ImageDir = filepath.Join(dir, "images")
	opts.MaxUploadBytes = 1 << 20
	s, err := NewServer(opts, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, opts
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.NRGBA{G: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestIdentifyStoresUploadClientPayload(t *testing.T) {
	s, opts := newTestSink(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	img := pngImage(t)
	client, err := upload.NewClient(srv.URL + "/identificar/")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Upload(context.Background(), img)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	var body struct {
		Status   string `json:"status"`
		Filepath string `json:"filepath"`
		Bytes    int    `json:"bytes"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("decode %q: %v", resp.Body, err)
	}
	if body.Status != "stored" || body.Bytes != len(img) {
		t.Fatalf("body = %+v", body)
	}
	name := filepath.Base(body.Filepath)
	if !strings.HasPrefix(name, "identifica_") || !strings.HasSuffix(name, ".jpg") || len(name) != len("identifica_")+8+4 {
		t.Errorf("stored name = %q", name)
	}
	if filepath.Dir(body.Filepath) != opts.SearchDir {
		t.Errorf("stored in %s, want %s", filepath.Dir(body.Filepath), opts.SearchDir)
	}
	stored, err := os.ReadFile(body.Filepath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, img) {
		t.Error("stored bytes differ from upload")
	}
	if used := s.inflight.Used(); used != 0 {
		t.Errorf("in-flight reservation leaked: %d", used)
	}
}

func TestRejectsBadExtension(t *testing.T) {
	s, _ := newTestSink(t)
	body, ct := multipartBody(t, "notes.txt", pngImage(t))
	req := httptest.NewRequest(http.MethodPost, "/identificar/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "invalid extension") {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRejectsInvalidImage(t *testing.T) {
	s, opts := newTestSink(t)
	body, ct := multipartBody(t, "photo.jpg", []byte("definitely not a jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/identificar/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "invalid image") {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	entries, _ := os.ReadDir(opts.SearchDir)
	if len(entries) != 0 {
		t.Errorf("rejected upload was stored: %v", entries)
	}
}

func TestRejectsOversizedAndWrongMethod(t *testing.T) {
	s, _ := newTestSink(t)
	big := bytes.Repeat([]byte{0xFF}, 2<<20)
	body, ct := multipartBody(t, "big.jpg", big)
	req := httptest.NewRequest(http.MethodPost, "/identificar/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/identificar/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: got %d", rec.Code)
	}
}

func TestRegisterDefaultsUsername(t *testing.T) {
	s, opts := newTestSink(t)
	for _, tc := range []struct{ query, want string }{
		{"", "Nulo"},
		{"?username=ana", "ana"},
	} {
		body, ct := multipartBody(t, "face.png", pngImage(t))
		req := httptest.NewRequest(http.MethodPost, "/cadastrar/"+tc.query, body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("register%s: %d %s", tc.query, rec.Code, rec.Body.String())
		}
		var got struct {
			Filename string `json:"filename"`
			Username string `json:"username"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got.Username != tc.want || !strings.HasSuffix(got.Filename, ".png") || len(got.Filename) != 8+4 {
			t.Errorf("register%s = %+v", tc.query, got)
		}
		if _, err := os.Stat(filepath.Join(opts.ImageDir, got.Filename)); err != nil {
			t.Errorf("registration not stored: %v", err)
		}
	}
}

func TestHistoryAndMetrics(t *testing.T) {
	s, _ := newTestSink(t)
	h := s.Handler()
	for _, name := range []string{"a.png", "b.txt"} {
		body, ct := multipartBody(t, name, pngImage(t))
		req := httptest.NewRequest(http.MethodPost, "/identificar/", body)
		req.Header.Set("Content-Type", ct)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	var history []record
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Format != "png" || history[0].Width != 4 || history[0].Height != 3 {
		t.Fatalf("history = %+v", history)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()
	for _, want := range []string{
		`facecam_sink_uploads_total{endpoint="identificar",result="stored"} 1`,
		`facecam_sink_uploads_total{endpoint="identificar",result="rejected"} 1`,
		"facecam_sink_inflight_bytes 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestNewServerValidation(t *testing.T) {
	opts := config.Default().Sink
	opts.SearchDir = t.TempDir()
	opts.ImageDir = t.TempDir()
	opts.IDMode = "ulid"
	if _, err := NewServer(opts, nil); err == nil {
		t.Error("unknown id mode should fail")
	}
	opts.IDMode = "cuid"
	opts.MaxUploadBytes = 0
	if _, err := NewServer(opts, nil); err == nil {
		t.Error("zero max upload should fail")
	}
}
