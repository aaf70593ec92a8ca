package integration

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// imageUpstream 模拟图片源站：按路径返回预先编码的图片并记录请求。
type imageUpstream struct {
	server *httptest.Server
	URL    string

	mu       sync.Mutex
	requests []RecordedRequest
	assets   map[string]asset
}

// RecordedRequest 捕获每次请求的路径与头部，便于断言下载行为。
type RecordedRequest struct {
	Path    string
	Headers http.Header
}

type asset struct {
	contentType string
	body        []byte
	gzip        bool
	chunked     bool
}

func newImageUpstream(t *testing.T) *imageUpstream {
	t.Helper()

	stub := &imageUpstream{assets: make(map[string]asset)}
	stub.server = httptest.NewServer(http.HandlerFunc(stub.serve))
	stub.URL = stub.server.URL
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *imageUpstream) servePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	s.put(path, asset{contentType: "image/png", body: buf.Bytes()})
}

func (s *imageUpstream) serveJPEG(t *testing.T, path string, w, h int, gzipped bool) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	s.put(path, asset{contentType: "image/jpeg", body: buf.Bytes(), gzip: gzipped})
}

func (s *imageUpstream) serveRaw(path string, body []byte) {
	s.put(path, asset{contentType: "application/octet-stream", body: body, chunked: true})
}

func (s *imageUpstream) put(path string, a asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[path] = a
}

func (s *imageUpstream) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{Path: r.URL.Path, Headers: r.Header.Clone()})
	a, ok := s.assets[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", a.contentType)
	if a.gzip {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write(a.body)
		_ = gz.Close()
		return
	}
	if !a.chunked {
		w.Header().Set("Content-Length", strconv.Itoa(len(a.body)))
	}
	_, _ = w.Write(a.body)
	if f, ok := w.(http.Flusher); ok && a.chunked {
		f.Flush()
	}
}

func (s *imageUpstream) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, req := range s.requests {
		if req.Path == path {
			count++
		}
	}
	return count
}

func (s *imageUpstream) lastRequest() RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return RecordedRequest{}
	}
	return s.requests[len(s.requests)-1]
}

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}
