package engine

import (
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/purposegate/internal/audit"
	"github.com/xela07ax/purposegate/internal/domain"
	"github.com/xela07ax/purposegate/internal/infra/auth"
	"github.com/xela07ax/purposegate/internal/policy"
)

const (
	schedulerApp = "11111111-aaaa-4bbb-8ccc-000000000001"
	pmoApp       = "22222222-aaaa-4bbb-8ccc-000000000002"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Log(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAuditor) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

type fixture struct {
	gw      *Gateway
	auditor *recordingAuditor
	metrics *Metrics
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := policy.NewRegistry([]domain.ToolPolicy{
		domain.NewToolPolicy("calendar_freebusy", "meeting_scheduling", schedulerApp),
		domain.NewToolPolicy("project_info_share", "project_collab", pmoApp),
	})
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	m := NewMetrics(promReg)
	a := &recordingAuditor{}
	gw := NewGateway(
		auth.NewDecoder(auth.DefaultClaimNames()),
		policy.NewPurposeEnforcer(policy.StaticSnapshot{Registry: reg}),
		a, m, zap.NewNop(), 1024,
	)
	return &fixture{gw: gw, auditor: a, metrics: m, reg: promReg}
}

// token подпись не важна: в фикстуре стоит Decoder
func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return "Bearer " + s
}
