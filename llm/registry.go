package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry 按名称管理已注册的 Provider。
// 分类流水线通过大写名称（GPT/CLAUDE/GEMINI/GROK）查找后端，
// 每个 (session, LLM) 管线拿到的是同一个共享实例。
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 创建空的 Provider 注册表。
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register 注册一个 Provider，名称不区分大小写。
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToUpper(p.Name())] = p
}

// ByName 按名称查找 Provider。
func (r *Registry) ByName(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("지원하지 않는 LLM 이름입니다: %s", name)
	}
	return p, nil
}

// Names 返回已注册的 Provider 名称（排序后）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
