package loader

import (
	"image"
	"sync"
	"time"
)

// Binding 是可被新请求抢占的展示位。异步结果的 Apply 只会在 Sink 上调用；
// 内存层命中由 Submit 同步返回，调用方自行 Apply。
type Binding interface {
	Bind(uri string)
	Target() string
	Apply(img image.Image)
}

// FailureBinding 是可选扩展，加载失败时同样经 Sink 收到错误。
type FailureBinding interface {
	Binding
	Fail(uri string, err error)
}

// Slot 是并发安全的 Binding 实现，HTTP 服务用它表示具名展示位。
type Slot struct {
	name string

	mu        sync.RWMutex
	target    string
	img       image.Image
	err       error
	boundAt   time.Time
	appliedAt time.Time
}

var _ FailureBinding = (*Slot)(nil)

// NewSlot 创建一个空的展示位。
func NewSlot(name string) *Slot {
	return &Slot{name: name}
}

func (s *Slot) Name() string { return s.name }

// Bind 切换目标 URI 并丢弃旧图片。每次绑定都会清除上一次失败。
func (s *Slot) Bind(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = nil
	if s.target == uri {
		return
	}
	s.target = uri
	s.img = nil
	s.boundAt = time.Now()
	s.appliedAt = time.Time{}
}

func (s *Slot) Target() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

func (s *Slot) Apply(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
	s.err = nil
	s.appliedAt = time.Now()
}

// Fail 记录 uri 的加载失败；slot 已改绑其他目标时忽略。
func (s *Slot) Fail(uri string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target != uri {
		return
	}
	s.err = err
}

// SlotState 是 Slot 的只读快照。
type SlotState struct {
	Name      string
	Target    string
	Image     image.Image
	Err       error
	BoundAt   time.Time
	AppliedAt time.Time
}

// Snapshot 返回当前目标与已送达的图片（未送达时 Image 为 nil），Err 为当前目标的最近一次失败。
func (s *Slot) Snapshot() SlotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SlotState{
		Name:      s.name,
		Target:    s.target,
		Image:     s.img,
		Err:       s.err,
		BoundAt:   s.boundAt,
		AppliedAt: s.appliedAt,
	}
}
