package fetch

import (
	"net"
	"net/http"
	"time"
)

// NewClient 返回按 Options 配置超时的 http.Client：
// ConnectTimeout 约束拨号与 TLS 握手，ReadTimeout 约束等待响应头。
// 响应体的空闲超时由 Fetcher 自行控制，因此不设置整体 Timeout。
func NewClient(opts Options) *http.Client {
	opts = opts.withDefaults()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &http.Client{Transport: transport}
}
