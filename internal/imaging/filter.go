package imaging

import (
	"errors"
	"image"
	"sort"
	"strings"
	"sync"
)

// Filter 在图片进入内存缓存前做后处理。返回 error 或 panic 时调用方保留原图。
type Filter func(image.Image) (image.Image, error)

var filters sync.Map

// ErrDuplicateFilter 表示同名滤镜已注册。
var ErrDuplicateFilter = errors.New("filter already registered")

// RegisterFilter 以名称注册滤镜，名称大小写不敏感。
func RegisterFilter(name string, f Filter) error {
	key := normalizeName(name)
	if key == "" {
		return errors.New("filter name required")
	}
	if f == nil {
		return errors.New("filter func required")
	}
	if _, loaded := filters.LoadOrStore(key, f); loaded {
		return ErrDuplicateFilter
	}
	return nil
}

// MustRegisterFilter 注册失败时 panic，适合 init() 中调用。
func MustRegisterFilter(name string, f Filter) {
	if err := RegisterFilter(name, f); err != nil {
		panic(err)
	}
}

// LookupFilter 按名称查找滤镜。
func LookupFilter(name string) (Filter, bool) {
	key := normalizeName(name)
	if key == "" {
		return nil, false
	}
	if value, ok := filters.Load(key); ok {
		if f, ok := value.(Filter); ok {
			return f, true
		}
	}
	return nil, false
}

// FilterStatus 返回 registered 或 missing，供诊断接口输出。
func FilterStatus(name string) string {
	if _, ok := LookupFilter(name); ok {
		return "registered"
	}
	return "missing"
}

// FilterNames 返回已注册滤镜名称（已排序）。
func FilterNames() []string {
	var names []string
	filters.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
