package abilities

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry — потокобезопасный каталог способностей.
// Состав фиксируется на старте; disable работает и в рантайме
// (консоль может выключить способность без рестарта).
type Registry struct {
	mu        sync.RWMutex
	abilities map[string]*Ability
	disabled  map[string]bool
	approval  map[string]bool
}

// NewRegistry собирает пустой реестр. approvalRequired — имена способностей,
// которые исполняются только через ручное подтверждение.
func NewRegistry(approvalRequired []string) *Registry {
	approval := make(map[string]bool, len(approvalRequired))
	for _, name := range approvalRequired {
		approval[name] = true
	}
	return &Registry{
		abilities: make(map[string]*Ability),
		disabled:  make(map[string]bool),
		approval:  approval,
	}
}

func (r *Registry) Register(a *Ability) error {
	if a.Name == "" || a.Handler == nil {
		return fmt.Errorf("abilities: ability must have a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.abilities[a.Name]; exists {
		return fmt.Errorf("abilities: duplicate ability %q", a.Name)
	}
	r.abilities[a.Name] = a
	return nil
}

// Lookup возвращает способность либо типизированную ошибку
// (ErrUnknown / ErrDisabled), пригодную для маппинга в ответ протокола.
func (r *Registry) Lookup(name string) (*Ability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.abilities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	if r.disabled[name] {
		return nil, fmt.Errorf("%w: %q", ErrDisabled, name)
	}
	return a, nil
}

// IsWrite — классификация расхода бюджета. Неизвестные имена считаются
// не-write: их отсечет Lookup раньше, чем дело дойдет до бюджета.
func (r *Registry) IsWrite(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.abilities[name]
	return ok && a.Write
}

// RequiresApproval — нужна ли ручная виза на исполнение.
func (r *Registry) RequiresApproval(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.approval[name]
}

func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[name] = true
}

func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, name)
}

// List — все зарегистрированные способности по алфавиту (консоль, MCP).
func (r *Registry) List() []*Ability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Ability, 0, len(r.abilities))
	for _, a := range r.abilities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute — точка исполнения: lookup + вызов хендлера.
// Бюджет и апрувы проверяет вызывающий конвейер, не реестр.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
	a, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return a.Handler(ctx, params)
}
