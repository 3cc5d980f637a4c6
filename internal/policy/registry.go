package policy

import (
	"fmt"
	"os"
	"sort"

	"github.com/xela07ax/purposegate/internal/domain"
	"github.com/xela07ax/purposegate/internal/infra"
)

// Registry неизменяемая таблица tool -> политика.
// После NewRegistry никто не пишет, поэтому читать можно из любого числа горутин без блокировок.
type Registry struct {
	policies map[string]domain.ToolPolicy
}

// NewRegistry копирует вход, чтобы последующая мутация слайса/мап вызывающим не протекла внутрь.
func NewRegistry(policies []domain.ToolPolicy) (*Registry, error) {
	m := make(map[string]domain.ToolPolicy, len(policies))
	for _, p := range policies {
		if p.ToolID == "" {
			return nil, fmt.Errorf("policy: empty tool id")
		}
		if _, dup := m[p.ToolID]; dup {
			return nil, fmt.Errorf("policy: duplicate tool id %q", p.ToolID)
		}

		apps := make(map[string]struct{}, len(p.AllowedCallerAppIDs))
		for id := range p.AllowedCallerAppIDs {
			apps[id] = struct{}{}
		}
		p.AllowedCallerAppIDs = apps
		m[p.ToolID] = p
	}
	return &Registry{policies: m}, nil
}

// Lookup - единственная операция горячего пути.
func (r *Registry) Lookup(toolID string) (domain.ToolPolicy, bool) {
	p, ok := r.policies[toolID]
	return p, ok
}

func (r *Registry) Len() int {
	return len(r.policies)
}

// Tools отсортированный список инструментов (для /healthz и логов)
func (r *Registry) Tools() []string {
	out := make([]string, 0, len(r.policies))
	for id := range r.policies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FromConfig строит политики из конфигурации.
// ${VAR} в allowed_apps раскрываются из окружения; пустые после раскрытия id отбрасываются,
// т.е. незаданная переменная дает "никому нельзя", а не "можно пустому appid".
func FromConfig(entries []infra.PolicyConfig) []domain.ToolPolicy {
	out := make([]domain.ToolPolicy, 0, len(entries))
	for _, e := range entries {
		ids := make([]string, 0, len(e.AllowedApps))
		for _, raw := range e.AllowedApps {
			if id := os.ExpandEnv(raw); id != "" {
				ids = append(ids, id)
			}
		}
		out = append(out, domain.NewToolPolicy(e.Tool, e.Purpose, ids...))
	}
	return out
}
