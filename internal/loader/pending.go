package loader

import "sync"

// pendingCall 是某个指纹上正在执行的流水线，done 关闭后 err 可读。
type pendingCall struct {
	done    chan struct{}
	err     error
	waiters int
}

// pendingSet 保证同一指纹同时只有一条流水线，其余请求等待广播。
type pendingSet struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newPendingSet() *pendingSet {
	return &pendingSet{calls: make(map[string]*pendingCall)}
}

// join 返回 key 上的调用；owner 为 true 表示调用方获得了所有权。
func (p *pendingSet) join(key string) (call *pendingCall, owner bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.calls[key]; ok {
		existing.waiters++
		return existing, false
	}
	call = &pendingCall{done: make(chan struct{})}
	p.calls[key] = call
	return call, true
}

// release 记录结果、移除 key 并唤醒全部等待者。
func (p *pendingSet) release(key string, call *pendingCall, err error) {
	p.mu.Lock()
	if p.calls[key] == call {
		delete(p.calls, key)
	}
	call.err = err
	p.mu.Unlock()
	close(call.done)
}

func (p *pendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// waiting 返回 key 上的等待者数量。
func (p *pendingSet) waiting(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if call, ok := p.calls[key]; ok {
		return call.waiters
	}
	return 0
}
