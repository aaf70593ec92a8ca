package loader

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/any-hub/imghub/internal/cache"
	"github.com/any-hub/imghub/internal/fetch"
	"github.com/any-hub/imghub/internal/imaging"
)

var errBoom = errors.New("boom")

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// fakeFetcher 返回固定字节；gate 非空时阻塞到 gate 关闭。
type fakeFetcher struct {
	data    []byte
	err     error
	gate    chan struct{}
	started chan string

	mu    sync.Mutex
	calls map[string]int
}

func newFakeFetcher(data []byte) *fakeFetcher {
	return &fakeFetcher{data: data, calls: make(map[string]int), started: make(chan string, 64)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, uri string, progress fetch.ProgressFunc) ([]byte, error) {
	f.mu.Lock()
	f.calls[uri]++
	f.mu.Unlock()
	f.started <- uri

	progress(3, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	total := int64(len(f.data))
	progress(total, total)
	return f.data, nil
}

func (f *fakeFetcher) callsFor(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[uri]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

type countingDecoder struct {
	inner Decoder
	calls atomic.Int32
}

func (d *countingDecoder) Decode(data []byte) (image.Image, error) {
	d.calls.Add(1)
	return d.inner.Decode(data)
}

// fakeBlobTier 包装 FileTier，可注入 Load/Store 错误。
type fakeBlobTier struct {
	*cache.FileTier
	loadErr  error
	storeErr error
}

func (f *fakeBlobTier) Load(ctx context.Context, key string) ([]byte, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.FileTier.Load(ctx, key)
}

func (f *fakeBlobTier) Store(ctx context.Context, key string, value []byte) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	return f.FileTier.Store(ctx, key, value)
}

type recordingListener struct {
	responses chan image.Image
	errs      chan error
	panicOn   string

	mu       sync.Mutex
	progress [][2]int64
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		responses: make(chan image.Image, 64),
		errs:      make(chan error, 64),
	}
}

func (l *recordingListener) OnResponse(_ Request, img image.Image) {
	l.responses <- img
	if l.panicOn == "response" {
		panic("listener exploded")
	}
}

func (l *recordingListener) OnProgress(_ Request, total, loaded int64) {
	l.mu.Lock()
	l.progress = append(l.progress, [2]int64{total, loaded})
	l.mu.Unlock()
}

func (l *recordingListener) OnError(_ Request, err error) {
	l.errs <- err
}

func (l *recordingListener) progressReports() [][2]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][2]int64(nil), l.progress...)
}

func (l *recordingListener) awaitResponse(t *testing.T) image.Image {
	t.Helper()
	select {
	case img := <-l.responses:
		return img
	case err := <-l.errs:
		t.Fatalf("expected response, got error %v", err)
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for response")
	}
	return nil
}

func (l *recordingListener) awaitError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-l.errs:
		return err
	case <-l.responses:
		t.Fatalf("expected error, got response")
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for error")
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type testEnv struct {
	manager    *Manager
	memory     *cache.MemoryTier
	persistent *cache.FileTier
	fetcher    *fakeFetcher
	decoder    *countingDecoder
}

func newTestEnv(t *testing.T, fetcher *fakeFetcher, mutate func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		memory:     cache.NewMemoryTier(16),
		persistent: cache.NewFileTierFS(memfs.New()),
		fetcher:    fetcher,
		decoder:    &countingDecoder{inner: imaging.NewDecoder()},
	}
	opts := Options{
		Memory:     env.memory,
		Persistent: env.persistent,
		Fetcher:    fetcher,
		Decoder:    env.decoder,
		Sink:       SinkFunc(func(fn func()) { fn() }),
		Workers:    4,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := New(opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() {
		if fetcher != nil && fetcher.gate != nil {
			select {
			case <-fetcher.gate:
			default:
				close(fetcher.gate)
			}
		}
		m.Close()
	})
	env.manager = m
	return env
}

func mustRequest(t *testing.T, uri string, opts ...RequestOption) Request {
	t.Helper()
	req, err := NewRequest(uri, opts...)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func awaitStarted(t *testing.T, f *fakeFetcher) string {
	t.Helper()
	select {
	case uri := <-f.started:
		return uri
	case <-time.After(3 * time.Second):
		t.Fatalf("fetch never started")
	}
	return ""
}
