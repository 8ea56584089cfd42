package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/pinch-bridge/internal/abilities"
)

// AbilityView — представление способности для консоли.
type AbilityView struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Write            bool   `json:"write"`
	RequiresApproval bool   `json:"requires_approval"`
	Disabled         bool   `json:"disabled"`
}

// AbilityService — управление каталогом способностей из консоли:
// список и рантайм-выключатель (без рестарта процесса).
type AbilityService struct {
	registry *abilities.Registry
}

func NewAbilityService(registry *abilities.Registry) *AbilityService {
	return &AbilityService{registry: registry}
}

func (s *AbilityService) List(_ context.Context) []AbilityView {
	list := s.registry.List()
	out := make([]AbilityView, 0, len(list))
	for _, a := range list {
		_, err := s.registry.Lookup(a.Name)
		out = append(out, AbilityView{
			Name:             a.Name,
			Description:      a.Description,
			Write:            a.Write,
			RequiresApproval: s.registry.RequiresApproval(a.Name),
			Disabled:         err != nil,
		})
	}
	return out
}

func (s *AbilityService) SetEnabled(_ context.Context, name string, enabled bool) error {
	// Только известные имена: опечатка оператора не должна "выключать" пустоту
	if !s.known(name) {
		return fmt.Errorf("ability_service: unknown ability %q", name)
	}
	if enabled {
		s.registry.Enable(name)
	} else {
		s.registry.Disable(name)
	}
	return nil
}

func (s *AbilityService) known(name string) bool {
	for _, a := range s.registry.List() {
		if a.Name == name {
			return true
		}
	}
	return false
}
