package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"

	"github.com/any-hub/imghub/internal/cache"
	"github.com/any-hub/imghub/internal/fetch"
	"github.com/any-hub/imghub/internal/imaging"
	"github.com/any-hub/imghub/internal/logging"
)

// 命中层名称，出现在日志 tier 字段与 Result 中。
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
	TierNetwork    = "network"
)

// Fetcher 下载 URI 的原始字节。
type Fetcher interface {
	Fetch(ctx context.Context, uri string, progress fetch.ProgressFunc) ([]byte, error)
}

// Decoder 把原始字节解码为受像素预算约束的图片。
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// Options 注入 Manager 的全部依赖。Persistent 与 Fetcher 必填。
type Options struct {
	Memory     cache.ImageTier
	Persistent cache.BlobTier
	Fetcher    Fetcher
	Decoder    Decoder
	Filter     imaging.Filter
	Sink       Sink
	Logger     *logrus.Logger

	Workers    int
	Order      QueueOrder
	MaxBacklog int
}

// Stats 是 Manager 的运行时快照。
type Stats struct {
	Workers   int    `json:"workers"`
	Order     string `json:"order"`
	Queued    int    `json:"queued"`
	Active    int    `json:"active"`
	Pending   int    `json:"pending"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Abandoned int64  `json:"abandoned"`
	Fetches   int64  `json:"fetches"`

	Memory *cache.MemoryStats `json:"memory,omitempty"`
}

// Result 是 Load 的返回值。
type Result struct {
	Image     image.Image
	Key       string
	MemoryHit bool
}

// Manager 是三层缓存的协调者，持有 worker 池与各层实例。
type Manager struct {
	memory     cache.ImageTier
	persistent cache.BlobTier
	fetcher    Fetcher
	decoder    Decoder
	filter     imaging.Filter
	sink       Sink
	ownedSink  *LoopSink
	logger     *logrus.Entry

	workers int
	order   QueueOrder
	pending *pendingSet
	pool    *workerPool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64
	fetches   atomic.Int64
}

// New 校验依赖并启动 worker 池。
func New(opts Options) (*Manager, error) {
	if opts.Persistent == nil {
		return nil, errors.New("loader: persistent tier required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("loader: fetcher required")
	}
	if opts.Memory == nil {
		opts.Memory = cache.NewMemoryTier(cache.DefaultMemoryCapacity)
	}
	if opts.Decoder == nil {
		opts.Decoder = imaging.NewDecoder()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		memory:     opts.Memory,
		persistent: opts.Persistent,
		fetcher:    opts.Fetcher,
		decoder:    opts.Decoder,
		filter:     opts.Filter,
		sink:       opts.Sink,
		logger:     logging.Component(opts.Logger, "loader"),
		workers:    opts.Workers,
		order:      opts.Order,
		pending:    newPendingSet(),
		ctx:        ctx,
		cancel:     cancel,
	}
	if m.sink == nil {
		m.ownedSink = NewLoopSink(0, opts.Logger)
		m.sink = m.ownedSink
	}
	m.pool = newWorkerPool(opts.Workers, opts.Order, opts.MaxBacklog, func(r *panics.Recovered) {
		m.logger.WithError(r.AsError()).Error("worker_panic")
	})
	return m, nil
}

// Submit 在内存层命中时同步返回图片，不安排任何异步工作，也不经过 Sink；
// 否则排队异步加载并返回 nil。带 Binding 的请求会先把 URI 绑定到目标上。
func (m *Manager) Submit(req Request) image.Image {
	m.submitted.Add(1)
	if b := req.Binding(); b != nil {
		b.Bind(req.URI())
	}

	if img, err := m.memory.Load(m.ctx, req.Key()); err == nil {
		m.completed.Add(1)
		return img
	}

	if err := m.pool.submit(func() { m.process(req) }); err != nil {
		m.failed.Add(1)
		if req.Binding() != nil {
			m.postFailure(req, err)
		}
		m.notifyError(req, err)
	}
	return nil
}

// Load 是 Submit 的同步包装，等待结果或 ctx 结束。
func (m *Manager) Load(ctx context.Context, uri string) (Result, error) {
	type outcome struct {
		img image.Image
		err error
	}
	done := make(chan outcome, 1)

	req, err := NewRequest(uri, WithListener(ListenerFuncs{
		Response: func(_ Request, img image.Image) { done <- outcome{img: img} },
		Error:    func(_ Request, err error) { done <- outcome{err: err} },
	}))
	if err != nil {
		return Result{}, err
	}

	if img := m.Submit(req); img != nil {
		return Result{Image: img, Key: req.Key(), MemoryHit: true}, nil
	}

	select {
	case out := <-done:
		if out.err != nil {
			return Result{Key: req.Key()}, out.err
		}
		return Result{Image: out.img, Key: req.Key()}, nil
	case <-ctx.Done():
		return Result{Key: req.Key()}, ctx.Err()
	}
}

// ClearMemoryCache 清空内存层。
func (m *Manager) ClearMemoryCache(ctx context.Context) error {
	return m.memory.Clear(ctx)
}

// ClearPersistentCache 清空持久层，阻塞直到后端完成。
func (m *Manager) ClearPersistentCache(ctx context.Context) error {
	return m.persistent.Clear(ctx)
}

// Close 停止接收请求，等待已排队的请求处理完毕。
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.pool.close()
		m.cancel()
		if m.ownedSink != nil {
			m.ownedSink.Close()
		}
	})
}

func (m *Manager) Stats() Stats {
	queued, active := m.pool.depth()
	stats := Stats{
		Workers:   m.workers,
		Order:     m.order.String(),
		Queued:    queued,
		Active:    active,
		Pending:   m.pending.Len(),
		Submitted: m.submitted.Load(),
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
		Abandoned: m.abandoned.Load(),
		Fetches:   m.fetches.Load(),
	}
	if reporter, ok := m.memory.(interface{ Stats() cache.MemoryStats }); ok {
		ms := reporter.Stats()
		stats.Memory = &ms
	}
	return stats
}

// process 是 worker 上执行的完整流水线。
func (m *Manager) process(req Request) {
	if req.stale() {
		m.abandoned.Add(1)
		m.logger.WithFields(logging.RequestFields("load", req.URI(), req.Key(), "")).Debug("request_abandoned")
		return
	}

	img, tier, err := m.resolve(req)
	m.deliver(req, img, tier, err)
}

// resolve 加入或等待指纹上的流水线。等待者继承拥有者的失败，成功时重新查层。
func (m *Manager) resolve(req Request) (image.Image, string, error) {
	key := req.Key()
	for {
		call, owner := m.pending.join(key)
		if owner {
			return m.runOwned(req, call)
		}

		select {
		case <-call.done:
		case <-m.ctx.Done():
			return nil, "", ErrClosed
		}
		if call.err != nil {
			return nil, "", call.err
		}
	}
}

func (m *Manager) runOwned(req Request, call *pendingCall) (img image.Image, tier string, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		img, tier, err = m.load(req)
	})
	if r := pc.Recovered(); r != nil {
		img, tier = nil, ""
		err = fmt.Errorf("loader: pipeline panic: %w", r.AsError())
	}
	m.pending.release(req.Key(), call, err)
	return img, tier, err
}

func (m *Manager) load(req Request) (image.Image, string, error) {
	ctx := m.ctx
	key := req.Key()

	if img, err := m.memory.Load(ctx, key); err == nil {
		return img, TierMemory, nil
	}

	data, err := m.persistent.Load(ctx, key)
	switch {
	case err == nil:
		img, decErr := m.decoder.Decode(data)
		if decErr != nil {
			corrupt := fmt.Errorf("%w: %s: %v", ErrCorruptEntry, key, decErr)
			m.logger.WithFields(logging.RequestFields("load", req.URI(), key, TierPersistent)).
				WithError(corrupt).Error("persistent_entry_corrupt")
			return nil, "", corrupt
		}
		m.storeMemory(req, img)
		m.notifyProgress(req, 1, 1)
		return img, TierPersistent, nil
	case errors.Is(err, cache.ErrDuplicateKey):
		m.logger.WithFields(logging.RequestFields("load", req.URI(), key, TierPersistent)).
			WithError(err).Error("persistent_duplicate_key")
		return nil, "", err
	case errors.Is(err, cache.ErrNotFound):
	default:
		m.logger.WithFields(logging.RequestFields("load", req.URI(), key, TierPersistent)).
			WithError(err).Warn("persistent_load_failed")
	}

	m.fetches.Add(1)
	raw, err := m.fetcher.Fetch(ctx, req.URI(), func(total, loaded int64) {
		m.notifyProgress(req, total, loaded)
	})
	if err != nil {
		return nil, "", err
	}

	img, err := m.decoder.Decode(raw)
	if err != nil {
		return nil, "", err
	}
	img = m.applyFilter(req, img)

	m.storeMemory(req, img)
	if err := m.persistent.Store(ctx, key, raw); err != nil {
		m.logger.WithFields(logging.RequestFields("persist", req.URI(), key, TierPersistent)).
			WithError(err).Warn("persistent_store_failed")
	}
	return img, TierNetwork, nil
}

func (m *Manager) storeMemory(req Request, img image.Image) {
	if err := m.memory.Store(m.ctx, req.Key(), img); err != nil {
		m.logger.WithFields(logging.RequestFields("load", req.URI(), req.Key(), TierMemory)).
			WithError(err).Warn("memory_store_failed")
	}
}

// applyFilter 在滤镜失败（错误、panic 或返回 nil）时保留原图。
func (m *Manager) applyFilter(req Request, img image.Image) image.Image {
	if m.filter == nil {
		return img
	}

	var (
		out image.Image
		err error
		pc  panics.Catcher
	)
	pc.Try(func() { out, err = m.filter(img) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil || out == nil {
		m.logger.WithFields(logging.RequestFields("load", req.URI(), req.Key(), TierNetwork)).
			WithError(err).Debug("filter_failed")
		return img
	}
	return out
}

func (m *Manager) deliver(req Request, img image.Image, tier string, err error) {
	fields := logging.RequestFields("deliver", req.URI(), req.Key(), tier)
	if err != nil {
		m.failed.Add(1)
		m.logger.WithFields(fields).WithError(err).Info("load_failed")
		if req.Binding() != nil {
			m.postFailure(req, err)
		}
		m.notifyError(req, err)
		return
	}

	m.completed.Add(1)
	m.logger.WithFields(fields).Debug("load_complete")
	if req.Binding() != nil {
		m.post(req, img)
	}
	m.notifyResponse(req, img)
}

// post 在绑定仍指向该请求时投递到 Sink，Sink 上再检查一次。
func (m *Manager) post(req Request, img image.Image) {
	b := req.Binding()
	if b.Target() != req.URI() {
		return
	}
	m.sink.Post(func() {
		if b.Target() == req.URI() {
			b.Apply(img)
		}
	})
}

// postFailure 把失败交给支持 FailureBinding 的绑定，同样只在 Sink 上写入。
func (m *Manager) postFailure(req Request, err error) {
	fb, ok := req.Binding().(FailureBinding)
	if !ok || fb.Target() != req.URI() {
		return
	}
	m.sink.Post(func() {
		fb.Fail(req.URI(), err)
	})
}

func (m *Manager) notifyResponse(req Request, img image.Image) {
	if l := req.Listener(); l != nil {
		m.safeCall(req, "on_response", func() { l.OnResponse(req, img) })
	}
}

func (m *Manager) notifyProgress(req Request, total, loaded int64) {
	if l := req.Listener(); l != nil {
		m.safeCall(req, "on_progress", func() { l.OnProgress(req, total, loaded) })
	}
}

func (m *Manager) notifyError(req Request, err error) {
	if l := req.Listener(); l != nil {
		m.safeCall(req, "on_error", func() { l.OnError(req, err) })
	}
}

func (m *Manager) safeCall(req Request, callback string, fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		m.logger.WithFields(logging.RequestFields("deliver", req.URI(), req.Key(), "")).
			WithField("callback", callback).
			WithError(r.AsError()).Warn("listener_panic")
	}
}
