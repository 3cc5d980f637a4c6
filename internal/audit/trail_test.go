package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (m *memStorage) WriteBatch(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(events))
	copy(cp, events)
	m.batches = append(m.batches, cp)
	return m.err
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestTrail_FlushesBySize(t *testing.T) {
	store := &memStorage{}
	tr := NewTrail(store, zap.NewNop(), Options{BatchSize: 3, FlushInterval: time.Hour})
	tr.Start()

	for i := 0; i < 3; i++ {
		tr.Log(Event{ID: "e", ToolID: "calendar_freebusy"})
	}
	require.Eventually(t, func() bool { return store.total() == 3 }, time.Second, 5*time.Millisecond)

	tr.Stop()
}

func TestTrail_FlushesByTicker(t *testing.T) {
	store := &memStorage{}
	tr := NewTrail(store, zap.NewNop(), Options{BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	tr.Start()
	defer tr.Stop()

	tr.Log(Event{ID: "one"})
	require.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTrail_StopDrainsBuffer(t *testing.T) {
	store := &memStorage{}
	tr := NewTrail(store, zap.NewNop(), Options{BatchSize: 1000, FlushInterval: time.Hour})
	tr.Start()

	for i := 0; i < 250; i++ {
		tr.Log(Event{ID: "e"})
	}
	tr.Stop()

	assert.Equal(t, 250, store.total())

	// после Stop события молча отбрасываются, паники нет
	tr.Log(Event{ID: "late"})
	tr.Stop()
	assert.Equal(t, 250, store.total())
}

func TestTrail_LoadShedding(t *testing.T) {
	var drops int
	tr := NewTrail(&memStorage{}, zap.NewNop(), Options{BufferSize: 2, OnDrop: func() { drops++ }})
	// воркер не запущен - буфер не разгружается

	for i := 0; i < 5; i++ {
		tr.Log(Event{ID: "e"})
	}
	assert.Equal(t, int64(3), tr.Dropped())
	assert.Equal(t, 3, drops)
	assert.Equal(t, 2, tr.Pending())
}

func TestTrail_SetsTimestamp(t *testing.T) {
	store := &memStorage{}
	tr := NewTrail(store, zap.NewNop(), Options{})
	tr.Start()
	tr.Log(Event{ID: "e"})
	tr.Stop()

	require.Len(t, store.batches, 1)
	assert.False(t, store.batches[0][0].Timestamp.IsZero())
}

func TestTrail_StorageErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	store := &memStorage{err: errors.New("db down")}
	tr := NewTrail(store, zap.New(core), Options{})
	tr.Start()
	tr.Log(Event{ID: "e"})
	tr.Stop()

	assert.Equal(t, 1, logs.FilterMessage("audit flush failed").Len())
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := LogSink{Logger: zap.New(core)}

	err := sink.WriteBatch(context.Background(), []Event{
		{ID: "1", ToolID: "calendar_freebusy", CallerAppID: "APP-A", Allowed: true},
		{ID: "2", ToolID: "unknown_tool", Reason: "UnknownTool"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, logs.Len())

	fields := logs.All()[1].ContextMap()
	assert.Equal(t, "UnknownTool", fields["reason"])
	assert.Equal(t, false, fields["allowed"])
}
