package loader

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// QueueOrder 决定积压任务的出队顺序。
type QueueOrder int

const (
	// LIFO 优先处理最新提交的请求，适合滚动列表一类的场景。
	LIFO QueueOrder = iota
	// FIFO 按提交顺序处理。
	FIFO
)

// ParseQueueOrder 解析 "lifo"/"fifo"，空字符串视为 LIFO。
func ParseQueueOrder(raw string) (QueueOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "lifo":
		return LIFO, nil
	case "fifo":
		return FIFO, nil
	default:
		return LIFO, fmt.Errorf("unknown queue order %q", raw)
	}
}

func (o QueueOrder) String() string {
	if o == FIFO {
		return "fifo"
	}
	return "lifo"
}

// workerPool 由固定数量的 worker 消费积压队列；limit <= 0 表示不限长度。
type workerPool struct {
	order   QueueOrder
	limit   int
	onPanic func(*panics.Recovered)

	mu      sync.Mutex
	cond    *sync.Cond
	backlog []func()
	active  int
	closed  bool

	wg conc.WaitGroup
}

func newWorkerPool(workers int, order QueueOrder, limit int, onPanic func(*panics.Recovered)) *workerPool {
	if workers < 1 {
		workers = 1
	}
	p := &workerPool{
		order:   order,
		limit:   limit,
		onPanic: onPanic,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Go(p.work)
	}
	return p
}

func (p *workerPool) submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.limit > 0 && len(p.backlog) >= p.limit {
		return ErrBacklogFull
	}
	p.backlog = append(p.backlog, task)
	p.cond.Signal()
	return nil
}

// next 阻塞直到有任务；关闭且队列清空后返回 false。
func (p *workerPool) next() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.backlog) == 0 {
		if p.closed {
			return nil, false
		}
		p.cond.Wait()
	}

	var task func()
	last := len(p.backlog) - 1
	if p.order == FIFO {
		task = p.backlog[0]
		p.backlog[0] = nil
		p.backlog = p.backlog[1:]
	} else {
		task = p.backlog[last]
		p.backlog[last] = nil
		p.backlog = p.backlog[:last]
	}
	p.active++
	return task, true
}

func (p *workerPool) work() {
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		var pc panics.Catcher
		pc.Try(task)
		if r := pc.Recovered(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}

// close 停止接收新任务，等待 worker 处理完积压后返回。
func (p *workerPool) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// depth 返回 (排队数, 执行中数)。
func (p *workerPool) depth() (queued, active int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog), p.active
}
