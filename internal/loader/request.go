package loader

import (
	"strings"

	"github.com/any-hub/imghub/internal/fingerprint"
)

// Request 描述一次加载，构造后不可变。相等性只取决于 URI。
type Request struct {
	uri      string
	key      string
	listener Listener
	binding  Binding
}

// RequestOption 配置 Request 的可选部分。
type RequestOption func(*Request)

// WithListener 附加结果回调。
func WithListener(l Listener) RequestOption {
	return func(r *Request) { r.listener = l }
}

// WithBinding 附加绑定目标，Submit 时会先把 URI 绑定上去。
func WithBinding(b Binding) RequestOption {
	return func(r *Request) { r.binding = b }
}

// NewRequest 计算 URI 的指纹并构造请求。
func NewRequest(uri string, opts ...RequestOption) (Request, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Request{}, ErrEmptyURI
	}
	r := Request{uri: uri, key: fingerprint.Of(uri)}
	for _, opt := range opts {
		opt(&r)
	}
	return r, nil
}

func (r Request) URI() string        { return r.uri }
func (r Request) Key() string        { return r.key }
func (r Request) Listener() Listener { return r.listener }
func (r Request) Binding() Binding   { return r.binding }

// Equal 只比较 URI，绑定与回调不参与。
func (r Request) Equal(other Request) bool {
	return r.uri == other.uri
}

// stale 表示绑定已被其他 URI 占用。
func (r Request) stale() bool {
	return r.binding != nil && r.binding.Target() != r.uri
}
