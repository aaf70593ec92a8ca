package loader

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"

	"github.com/any-hub/imghub/internal/logging"
)

// Sink 串行执行投递任务，异步结果只经由这里调用 Binding.Apply / Fail。
type Sink interface {
	Post(fn func())
}

// SinkFunc 把普通函数适配为 Sink，测试中常用于同步投递。
type SinkFunc func(fn func())

func (f SinkFunc) Post(fn func()) { f(fn) }

const defaultSinkBuffer = 256

// LoopSink 用单个 goroutine 顺序执行任务，任务 panic 会被记录后忽略。
// 队列不设上限，Post 从不阻塞，任务内部再次 Post 也不会死锁。
type LoopSink struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake   chan struct{}
	exited chan struct{}
	logger *logrus.Entry
}

// NewLoopSink 启动投递 goroutine，buffer 为队列初始容量，<= 0 时使用默认值。
func NewLoopSink(buffer int, logger *logrus.Logger) *LoopSink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	s := &LoopSink{
		queue:  make([]func(), 0, buffer),
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
		logger: logging.Component(logger, "sink"),
	}
	go s.loop()
	return s
}

// Post 把任务追加到队尾；关闭后投递的任务被丢弃。
func (s *LoopSink) Post(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	s.signal()
}

// Close 执行完已排队的任务后退出，可重复调用。
func (s *LoopSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
	<-s.exited
}

func (s *LoopSink) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *LoopSink) loop() {
	defer close(s.exited)
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.run(fn)
		}
	}
}

func (s *LoopSink) run(fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		s.logger.WithField("action", "deliver").WithError(r.AsError()).Warn("sink_task_panic")
	}
}
