package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	platformerrors "github.com/jmgilman/go/errors"
)

var (
	// ErrShortRead 表示响应体比 Content-Length 声明的短。
	ErrShortRead = errors.New("fetch: short read")
	// ErrTooLarge 表示响应体超过 MaxUnknownSize。
	ErrTooLarge = errors.New("fetch: content too large")
)

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	URI        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned %d %s", e.URI, e.StatusCode, http.StatusText(e.StatusCode))
}

// classifyTransportError 为 client.Do 的错误分类，retry 仅对连接层失败（拒绝、重置、断开）为 true。
// 超时与域名解析失败直接视为永久错误。
func classifyTransportError(ctx context.Context, err error) (classified platformerrors.PlatformError, retry bool) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return platformerrors.Wrap(ctxErr, platformerrors.CodeExecutionFailed, "request canceled"), false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return platformerrors.Wrap(err, platformerrors.CodeNetwork, "upstream host not resolved"), false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return platformerrors.Wrap(err, platformerrors.CodeTimeout, "upstream connect timed out"), false
		}
		return platformerrors.Wrap(err, platformerrors.CodeTimeout, "upstream response timed out"), false
	}
	return platformerrors.Wrap(err, platformerrors.CodeNetwork, "upstream unreachable"), true
}

func statusError(uri string, code int) platformerrors.PlatformError {
	errCode := platformerrors.CodeExecutionFailed
	if code == http.StatusNotFound || code == http.StatusGone {
		errCode = platformerrors.CodeNotFound
	}
	return platformerrors.Wrap(&StatusError{URI: uri, StatusCode: code}, errCode, "unexpected upstream status")
}
