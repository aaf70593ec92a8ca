package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/any-hub/imghub/internal/fingerprint"
)

// NewFileTier 以 basePath 为根目录构建磁盘持久层，整站复用一份实例。
func NewFileTier(basePath string) (*FileTier, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := osfs.Default.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return NewFileTierFS(osfs.New(basePath)), nil
}

// NewFileTierFS 基于任意 billy.Filesystem 构建持久层，测试中可传入 memfs。
func NewFileTierFS(filesystem billy.Filesystem) *FileTier {
	return &FileTier{
		fs:    filesystem,
		locks: make(map[string]*entryLock),
	}
}

// FileTier 将原始字节写入 <root>/<key[0:2]>/<key>。
// 旧版本直接写在 <root>/<key>，读取时兼容；两处同时存在即为重复记录。
// 写入通过临时文件 + rename 保证原子性，entryLock 避免同一 key 并发写入。
type FileTier struct {
	fs billy.Filesystem

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

var _ BlobTier = (*FileTier)(nil)

func (t *FileTier) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !fingerprint.Valid(key) {
		return false, ErrInvalidKey
	}
	sharded, err := t.isFile(t.entryPath(key))
	if err != nil || sharded {
		return sharded, err
	}
	return t.isFile(legacyPath(key))
}

func (t *FileTier) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fingerprint.Valid(key) {
		return nil, ErrInvalidKey
	}

	filePath, err := t.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := util.ReadFile(t.fs, filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (t *FileTier) Store(ctx context.Context, key string, value []byte) error {
	if !fingerprint.Valid(key) {
		return ErrInvalidKey
	}
	unlock := t.lockEntry(key)
	defer unlock()

	filePath := t.entryPath(key)
	dir := path.Dir(filePath)
	if err := t.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := t.fs.TempFile(dir, ".cache-")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(value))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		t.fs.Remove(tempName)
		return err
	}

	if err := t.fs.Rename(tempName, filePath); err != nil {
		t.fs.Remove(tempName)
		return err
	}

	// 新记录已就位，清掉旧布局下的同名文件，避免形成重复记录。
	legacy, err := t.isFile(legacyPath(key))
	if err != nil {
		return err
	}
	if legacy {
		if err := t.fs.Remove(legacyPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove legacy entry: %w", err)
		}
	}
	return nil
}

func (t *FileTier) Invalidate(ctx context.Context, key string) error {
	if !fingerprint.Valid(key) {
		return ErrInvalidKey
	}
	unlock := t.lockEntry(key)
	defer unlock()

	for _, p := range []string{t.entryPath(key), legacyPath(key)} {
		if err := t.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Clear 删除根目录下的全部内容，是阻塞调用。
func (t *FileTier) Clear(ctx context.Context) error {
	entries, err := t.fs.ReadDir("/")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := util.RemoveAll(t.fs, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

// resolve 返回 key 的实际文件路径，新旧布局同时存在时返回 ErrDuplicateKey。
func (t *FileTier) resolve(key string) (string, error) {
	sharded, err := t.isFile(t.entryPath(key))
	if err != nil {
		return "", err
	}
	legacy, err := t.isFile(legacyPath(key))
	if err != nil {
		return "", err
	}
	switch {
	case sharded && legacy:
		return "", fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	case sharded:
		return t.entryPath(key), nil
	case legacy:
		return legacyPath(key), nil
	default:
		return "", ErrNotFound
	}
}

func (t *FileTier) isFile(p string) (bool, error) {
	info, err := t.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (t *FileTier) lockEntry(key string) func() {
	t.mu.Lock()
	lock := t.locks[key]
	if lock == nil {
		lock = &entryLock{}
		t.locks[key] = lock
	}
	lock.refs++
	t.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		t.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

func (t *FileTier) entryPath(key string) string {
	return path.Join(key[:2], key)
}

func legacyPath(key string) string {
	return key
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
