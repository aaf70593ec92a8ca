package loader

import "image"

// Listener 接收异步结果。回调在 worker goroutine 上执行，panic 会被吞掉。
type Listener interface {
	OnResponse(req Request, img image.Image)
	OnProgress(req Request, total, loaded int64)
	OnError(req Request, err error)
}

// ListenerFuncs 让调用方只实现关心的回调，nil 字段会被忽略。
type ListenerFuncs struct {
	Response func(req Request, img image.Image)
	Progress func(req Request, total, loaded int64)
	Error    func(req Request, err error)
}

var _ Listener = ListenerFuncs{}

func (l ListenerFuncs) OnResponse(req Request, img image.Image) {
	if l.Response != nil {
		l.Response(req, img)
	}
}

func (l ListenerFuncs) OnProgress(req Request, total, loaded int64) {
	if l.Progress != nil {
		l.Progress(req, total, loaded)
	}
}

func (l ListenerFuncs) OnError(req Request, err error) {
	if l.Error != nil {
		l.Error(req, err)
	}
}
