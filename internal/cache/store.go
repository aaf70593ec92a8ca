package cache

import (
	"context"
	"errors"
	"image"
)

// Tier 是缓存层的统一契约，内存层与持久层只在值类型上不同。
// 实现必须并发安全。
type Tier[V any] interface {
	// Exists 判断 key 是否存在，不影响淘汰顺序。
	Exists(ctx context.Context, key string) (bool, error)

	// Load 返回 key 对应的值；不存在时返回 ErrNotFound。
	Load(ctx context.Context, key string) (V, error)

	// Store 写入 key。内存层遵循先写者胜出，持久层需保证写入原子性。
	Store(ctx context.Context, key string, value V) error

	// Invalidate 删除 key，不存在时为 no-op。
	Invalidate(ctx context.Context, key string) error

	// Clear 清空整层。
	Clear(ctx context.Context) error
}

// ImageTier 保存解码后的图片（易失）。
type ImageTier = Tier[image.Image]

// BlobTier 保存原始编码字节（持久）。
type BlobTier = Tier[[]byte]

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrDuplicateKey 表示持久层对同一个 key 存在多条记录，属于契约违背，调用方不得重试。
var ErrDuplicateKey = errors.New("cache key is not unique")

// ErrInvalidKey 表示 key 不是合法的指纹。
var ErrInvalidKey = errors.New("invalid cache key")
