package audit

/*
Файл trail.go - асинхронный журнал решений (Audit Trail).

- Non-blocking Logging: горячий путь только кладет событие в буферизированный канал.
  Задержки записи в БД не влияют на время ответа.
- Load Shedding: если буфер полон - событие сбрасывается, факт сброса уходит в лог и метрику.
- Batching: накопление в памяти и пакетная запись по таймеру или по размеру пачки.
- Drain Pattern: Stop закрывает канал, воркер вычитывает остатки и делает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage определяет, куда физически будут сохраняться события
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Auditor interface {
	Log(event Event)
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	OnDrop        func() // хук для метрики сброшенных событий
}

type Trail struct {
	ch      chan Event
	repo    Storage
	logger  *zap.Logger
	opts    Options
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewTrail(repo Storage, logger *zap.Logger, opts Options) *Trail {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:     make(chan Event, opts.BufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "audit")),
		opts:   opts,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return
	}
	t.closed = true
	close(t.ch)
	t.closeMu.Unlock()

	t.logger.Info("stopping audit trail: flushing buffer...")
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// RLock позволяет параллельным Log не мешать друг другу, но не дает писать в закрытый канал
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	if t.closed {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case t.ch <- event:
	default:
		t.dropped.Add(1)
		if t.opts.OnDrop != nil {
			t.opts.OnDrop()
		}
		t.logger.Error("audit_buffer_overflow",
			zap.String("tool", event.ToolID),
			zap.String("trace_id", event.TraceID),
		)
	}
}

// Dropped сколько событий потеряно из-за переполнения буфера
func (t *Trail) Dropped() int64 {
	return t.dropped.Load()
}

// Pending текущая заполненность буфера
func (t *Trail) Pending() int {
	return len(t.ch)
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, t.opts.BatchSize)
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту flush может быть уже закрыт
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.repo.WriteBatch(ctx, batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				flush() // Финальный сброс
				return
			}
			batch = append(batch, event)
			if len(batch) >= t.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// LogSink пишет события в zap. Используется, когда database.url не задан.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) WriteBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.Logger.Info("decision",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("transport", e.Transport),
			zap.String("tool", e.ToolID),
			zap.String("caller_app_id", e.CallerAppID),
			zap.String("purpose", e.Purpose),
			zap.Bool("allowed", e.Allowed),
			zap.String("reason", e.Reason),
			zap.String("error_type", e.ErrorType),
			zap.Int64("duration_us", e.DurationUs),
			zap.Time("ts", e.Timestamp),
		)
	}
	return nil
}
