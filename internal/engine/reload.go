package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/purposegate/internal/infra"
)

// Refresher перечитывает таблицу политик. Реализует *policy.Store.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// PolicyReloader - точка входа для всех триггеров перезагрузки: Redis, SIGHUP, админ ручка.
type PolicyReloader struct {
	store   Refresher
	rdb     *redis.Client // nil - работаем без Redis, только локально
	channel string
	logger  *zap.Logger
}

func NewPolicyReloader(store Refresher, rdb *redis.Client, logger *zap.Logger) *PolicyReloader {
	return &PolicyReloader{
		store:   store,
		rdb:     rdb,
		channel: infra.RedisChanPolicyReload,
		logger:  logger.Named("policy-reload"),
	}
}

// Reload перечитать локально
func (p *PolicyReloader) Reload(ctx context.Context) error {
	return p.store.Refresh(ctx)
}

// Broadcast перечитать на всех инстансах. Сначала локально, чтобы вызывающий сразу увидел ошибку конфига.
func (p *PolicyReloader) Broadcast(ctx context.Context) error {
	if err := p.Reload(ctx); err != nil {
		return err
	}
	if p.rdb == nil {
		return nil
	}
	if err := p.rdb.Publish(ctx, p.channel, "reload").Err(); err != nil {
		return fmt.Errorf("publish reload signal: %w", err)
	}
	return nil
}

// Listen слушает канал перезагрузки до отмены ctx. Без Redis сразу выходит.
func (p *PolicyReloader) Listen(ctx context.Context) {
	if p.rdb == nil {
		return
	}
	p.logger.Info("reload listener started", zap.String("chan", p.channel))
	ListenResilient(ctx, p.rdb, p.logger, p.channel,
		func() error { return p.Reload(ctx) },
		func(payload string) {
			p.logger.Info("reload signal received", zap.String("payload", payload))
			_ = p.Reload(ctx) // ошибка уже залогирована в Store, старый снимок в силе
		},
	)
}

// WatchSignals перечитывает политики на каждый сигнал из sigs (SIGHUP).
func (p *PolicyReloader) WatchSignals(ctx context.Context, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			p.logger.Info("reload requested by signal", zap.String("signal", sig.String()))
			_ = p.Reload(ctx)
		}
	}
}
