package probe

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clusterlb/internal/config"
	"clusterlb/internal/registry"
)

func TestRTTProberTickRecordsSuccessAndFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New(clock, zerolog.Nop())
	cfg := config.New(config.Default())

	ok := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	fail := registry.Endpoint{Addr: "10.0.0.2", Port: 9002}
	reg.Register(ok)
	reg.Register(fail)

	p := NewRTTProber(reg, cfg, clock, zerolog.Nop())
	p.dial = func(ctx context.Context, ep registry.Endpoint, timeout time.Duration) (int64, bool) {
		if ep == ok {
			return 7, true
		}
		return 0, false
	}

	p.tick(context.Background())

	assert.Equal(t, int64(7), reg.RTTMillis(ok))
	assert.Equal(t, int64(-1), reg.RTTMillis(fail))

	snap := reg.Snapshot()
	for _, s := range snap.Servers {
		if s.Endpoint == fail {
			assert.Less(t, s.HealthScore, 100)
		}
	}
}

func TestRTTProberTickNoEndpointsIsNoOp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New(clock, zerolog.Nop())
	cfg := config.New(config.Default())
	p := NewRTTProber(reg, cfg, clock, zerolog.Nop())
	assert.NotPanics(t, func() { p.tick(context.Background()) })
}

func TestEvictorSweepRemovesStaleServers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New(clock, zerolog.Nop())
	cfg := config.New(config.Default())
	cfg.SetEvictionTimeoutMs(1000)

	stale := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	fresh := registry.Endpoint{Addr: "10.0.0.2", Port: 9002}
	reg.Register(stale)

	clock.Advance(2 * time.Second)
	reg.Register(fresh)

	e := NewEvictor(reg, cfg, clock, zerolog.Nop())
	e.sweep()

	assert.False(t, reg.IsRegistered(stale))
	assert.True(t, reg.IsRegistered(fresh))
}

func TestEvictorSweepIsNoOpBeforeTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New(clock, zerolog.Nop())
	cfg := config.New(config.Default())
	cfg.SetEvictionTimeoutMs(60000)

	ep := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(ep)

	clock.Advance(time.Second)

	e := NewEvictor(reg, cfg, clock, zerolog.Nop())
	e.sweep()

	require.True(t, reg.IsRegistered(ep))
}
