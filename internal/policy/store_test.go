package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/purposegate/internal/domain"
	"go.uber.org/zap"
)

type flakySource struct {
	mu       sync.Mutex
	policies []domain.ToolPolicy
	err      error
}

func (f *flakySource) LoadPolicies(context.Context) ([]domain.ToolPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policies, f.err
}

func TestStore_RefreshSwapsSnapshot(t *testing.T) {
	src := &flakySource{policies: []domain.ToolPolicy{domain.NewToolPolicy("a", "p", "APP")}}
	var swapped int
	s := NewStore(src, zap.NewNop(), func(r *Registry) { swapped = r.Len() })

	assert.Nil(t, s.Current())
	require.NoError(t, s.Refresh(context.Background()))
	require.NotNil(t, s.Current())
	assert.Equal(t, 1, swapped)

	old := s.Current()
	src.policies = append(src.policies, domain.NewToolPolicy("b", "p"))
	require.NoError(t, s.Refresh(context.Background()))

	assert.Equal(t, 2, s.Current().Len())
	// старый снимок не мутирован
	assert.Equal(t, 1, old.Len())
}

func TestStore_FailedRefreshKeepsPrevious(t *testing.T) {
	src := &flakySource{policies: []domain.ToolPolicy{domain.NewToolPolicy("a", "p", "APP")}}
	s := NewStore(src, zap.NewNop(), nil)
	require.NoError(t, s.Refresh(context.Background()))
	before := s.Current()

	src.err = errors.New("disk on fire")
	require.Error(t, s.Refresh(context.Background()))
	assert.Same(t, before, s.Current())

	src.err = nil
	src.policies = []domain.ToolPolicy{domain.NewToolPolicy("a", "p"), domain.NewToolPolicy("a", "p")}
	require.Error(t, s.Refresh(context.Background()))
	assert.Same(t, before, s.Current())
}

func TestStore_ConcurrentReadersDuringRefresh(t *testing.T) {
	src := &flakySource{policies: []domain.ToolPolicy{domain.NewToolPolicy("calendar_freebusy", "meeting_scheduling", "APP-A")}}
	s := NewStore(src, zap.NewNop(), nil)
	require.NoError(t, s.Refresh(context.Background()))
	e := NewPurposeEnforcer(s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d := e.Decide(domain.DecisionRequest{ToolID: "calendar_freebusy", CallerAppID: "APP-A", DeclaredPurpose: "meeting_scheduling"})
				assert.True(t, d.Allowed)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Refresh(context.Background()))
	}
	wg.Wait()
}

func TestConfigSource_LoadPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  mode: decode
policies:
  - tool: calendar_freebusy
    allowed_apps: ["APP-A"]
    purpose: meeting_scheduling
`), 0o600))

	policies, err := ConfigSource{Path: path}.LoadPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.True(t, policies[0].Permits("APP-A"))
}
