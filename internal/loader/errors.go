package loader

import "errors"

var (
	// ErrEmptyURI 表示请求缺少资源标识。
	ErrEmptyURI = errors.New("loader: empty uri")
	// ErrCorruptEntry 表示持久层返回的字节无法解码，属于数据完整性错误。
	ErrCorruptEntry = errors.New("loader: persistent entry failed to decode")
	// ErrClosed 表示 Manager 已关闭，不再接受请求。
	ErrClosed = errors.New("loader: manager closed")
	// ErrBacklogFull 表示排队请求数达到 MaxBacklog。
	ErrBacklogFull = errors.New("loader: backlog full")
)
