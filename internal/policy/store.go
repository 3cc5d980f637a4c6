package policy

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xela07ax/purposegate/internal/domain"
	"github.com/xela07ax/purposegate/internal/infra"
	"go.uber.org/zap"
)

// Source откуда берется таблица политик при старте и при перезагрузке.
type Source interface {
	LoadPolicies(ctx context.Context) ([]domain.ToolPolicy, error)
}

// Store держит текущий снимок реестра. In-place мутаций нет: Refresh строит новый Registry
// и атомарно подменяет указатель, читатели на горячем пути не берут никаких локов.
type Store struct {
	current atomic.Pointer[Registry]
	source  Source
	logger  *zap.Logger
	onSwap  func(*Registry) // хук для метрик, может быть nil
}

func NewStore(source Source, logger *zap.Logger, onSwap func(*Registry)) *Store {
	return &Store{
		source: source,
		logger: logger.Named("policy-store"),
		onSwap: onSwap,
	}
}

// Current снимок для одного решения. До первого Refresh - nil (Enforcer трактует как пустую таблицу).
func (s *Store) Current() *Registry {
	return s.current.Load()
}

// Refresh выполняет «холодную загрузку» таблицы. При ошибке старый снимок остается в силе.
func (s *Store) Refresh(ctx context.Context) error {
	policies, err := s.source.LoadPolicies(ctx)
	if err != nil {
		s.logger.Error("policy reload failed, keeping previous snapshot", zap.Error(err))
		return fmt.Errorf("policy: load: %w", err)
	}

	reg, err := NewRegistry(policies)
	if err != nil {
		s.logger.Error("policy reload rejected, keeping previous snapshot", zap.Error(err))
		return err
	}

	s.current.Store(reg)
	if s.onSwap != nil {
		s.onSwap(reg)
	}

	s.logger.Info("policy snapshot swapped",
		zap.Int("count", reg.Len()),
		zap.Strings("tools", reg.Tools()))
	return nil
}

// ConfigSource перечитывает config.yaml (и ENV) и берет оттуда секцию policies.
type ConfigSource struct {
	Path string
}

func (c ConfigSource) LoadPolicies(_ context.Context) ([]domain.ToolPolicy, error) {
	cfg, err := infra.LoadConfig(c.Path)
	if err != nil {
		return nil, err
	}
	return FromConfig(cfg.Policies), nil
}

// StaticSource фиксированный набор (тесты, встраивание).
type StaticSource []domain.ToolPolicy

func (s StaticSource) LoadPolicies(_ context.Context) ([]domain.ToolPolicy, error) {
	return s, nil
}
