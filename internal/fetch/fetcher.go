package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/version"
)

// ProgressFunc 接收 (total, loaded) 进度，loaded <= total。
type ProgressFunc func(total, loaded int64)

// 默认参数。
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 20 * time.Second
	DefaultMaxUnknownSize = int64(math.MaxInt32)
)

// connectionCredit 是连接建立阶段的进度补偿：1/3。
const (
	connectionCreditTotal  = 3
	connectionCreditLoaded = 1
)

// Options 控制重试与超时，零值字段使用默认值。
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxUnknownSize int64
	Logger         *logrus.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.MaxUnknownSize <= 0 {
		o.MaxUnknownSize = DefaultMaxUnknownSize
	}
	return o
}

// Fetcher 下载单个 URI 的完整字节，可并发使用。
type Fetcher struct {
	client *http.Client
	opts   Options
	logger *logrus.Entry
}

// New 构造 Fetcher；client 为空时使用 NewClient(opts)。
func New(client *http.Client, opts Options) *Fetcher {
	opts = opts.withDefaults()
	if client == nil {
		client = NewClient(opts)
	}
	return &Fetcher{
		client: client,
		opts:   opts,
		logger: logging.Component(opts.Logger, "fetch"),
	}
}

// Fetch 下载 uri 的响应体。首个进度回调固定为 (3, 1)。
func (f *Fetcher) Fetch(ctx context.Context, uri string, progress ProgressFunc) ([]byte, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return nil, platformerrors.Newf(platformerrors.CodeInvalidInput, "unsupported uri: %s", uri)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	progress(connectionCreditTotal, connectionCreditLoaded)

	resp, err := f.connect(reqCtx, uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body := newIdleReader(resp.Body, f.opts.ReadTimeout, cancel)
	defer body.stop()

	data, err := f.readBody(resp, body, progress)
	if err != nil {
		if body.expired() {
			return nil, platformerrors.Wrap(err, platformerrors.CodeTimeout, "upstream read timed out")
		}
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{
		"action":   "fetch",
		"uri":      uri,
		"bytes":    len(data),
		"duration": time.Since(started).String(),
	}).Debug("fetch_complete")
	return data, nil
}

func (f *Fetcher) connect(ctx context.Context, uri string) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return backoff.Permanent(platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "build request"))
		}
		req.Header.Set("Accept-Encoding", "gzip")
		req.Header.Set("User-Agent", version.UserAgent())

		r, err := f.client.Do(req)
		if err != nil {
			classified, retry := classifyTransportError(ctx, err)
			if !retry {
				return backoff.Permanent(classified)
			}
			return classified
		}
		if r.StatusCode < http.StatusOK || r.StatusCode >= http.StatusMultipleChoices {
			_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return backoff.Permanent(statusError(uri, r.StatusCode))
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "fetch_retry",
			"uri":     uri,
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("fetch_retry")
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.opts.InitialBackoff
	retries := backoff.WithMaxRetries(policy, uint64(f.opts.MaxAttempts-1))

	if err := backoff.RetryNotify(operation, backoff.WithContext(retries, ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *Fetcher) readBody(resp *http.Response, body io.Reader, progress ProgressFunc) ([]byte, error) {
	total := resp.ContentLength
	reader := body

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Encoding")), "gzip") {
		zr, err := gzip.NewReader(body)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return []byte{}, nil
			}
			return nil, fmt.Errorf("fetch: open gzip stream: %w", err)
		}
		defer zr.Close()
		reader = zr
		// 压缩后的长度与解压后的字节数无关。
		total = -1
	}

	switch {
	case total > 0:
		return f.readKnown(reader, total, progress)
	case total == 0:
		return []byte{}, nil
	default:
		return f.readUnknown(reader, progress)
	}
}

func (f *Fetcher) readKnown(reader io.Reader, total int64, progress ProgressFunc) ([]byte, error) {
	if total > f.opts.MaxUnknownSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, total)
	}

	data := make([]byte, total)
	var offset int64
	for offset < total {
		n, err := reader.Read(data[offset:])
		if n > 0 {
			offset += int64(n)
			progress(total, (total+offset)/2)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}
	}

	if offset != total {
		return nil, fmt.Errorf("%w: read %d of %d bytes", ErrShortRead, offset, total)
	}
	return data, nil
}

func (f *Fetcher) readUnknown(reader io.Reader, progress ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(reader, f.opts.MaxUnknownSize+1))
	if err != nil {
		return nil, err
	}
	if n > f.opts.MaxUnknownSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.opts.MaxUnknownSize)
	}
	progress(n, n)
	return buf.Bytes(), nil
}

// idleReader 在两次 Read 之间超过 timeout 时取消请求。
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.fired.Store(true)
		cancel()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}

func (ir *idleReader) expired() bool {
	return ir.fired.Load()
}
