package server

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/any-hub/imghub/internal/loader"
)

// ErrInvalidSlotName 表示 slot 名称为空或含有路径分隔符。
var ErrInvalidSlotName = errors.New("invalid slot name")

// SlotStatus 是 /-/status 与 slot 查询使用的只读视图。
type SlotStatus struct {
	Name      string    `json:"name"`
	Target    string    `json:"target"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	BoundAt   time.Time `json:"bound_at"`
	AppliedAt time.Time `json:"applied_at,omitempty"`
}

// SlotRegistry 按名称管理 loader.Slot，名称大小写不敏感，保留创建顺序。
type SlotRegistry struct {
	mu      sync.RWMutex
	slots   map[string]*loader.Slot
	ordered []*loader.Slot
}

// NewSlotRegistry 创建空注册表。
func NewSlotRegistry() *SlotRegistry {
	return &SlotRegistry{slots: make(map[string]*loader.Slot)}
}

// Ensure 返回名称对应的 slot，不存在时创建。
func (r *SlotRegistry) Ensure(name string) (*loader.Slot, error) {
	key := normalizeSlotName(name)
	if key == "" {
		return nil, ErrInvalidSlotName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[key]; ok {
		return slot, nil
	}
	slot := loader.NewSlot(key)
	r.slots[key] = slot
	r.ordered = append(r.ordered, slot)
	return slot, nil
}

// Lookup 查找已存在的 slot。
func (r *SlotRegistry) Lookup(name string) (*loader.Slot, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.slots[normalizeSlotName(name)]
	return slot, ok
}

// List 按名称排序返回所有 slot 的状态。
func (r *SlotRegistry) List() []SlotStatus {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ordered) == 0 {
		return nil
	}

	result := make([]SlotStatus, 0, len(r.ordered))
	for _, slot := range r.ordered {
		state := slot.Snapshot()
		status := SlotStatus{
			Name:      state.Name,
			Target:    state.Target,
			Delivered: state.Image != nil,
			BoundAt:   state.BoundAt,
			AppliedAt: state.AppliedAt,
		}
		if state.Err != nil {
			status.Error = state.Err.Error()
		}
		result = append(result, status)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

func normalizeSlotName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if strings.ContainsAny(name, "/\\") {
		return ""
	}
	return name
}
