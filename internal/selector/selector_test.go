package selector

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clusterlb/internal/config"
	"clusterlb/internal/registry"
)

func newTestSelector(t *testing.T) (*Selector, *registry.Registry) {
	t.Helper()
	reg := registry.New(clockwork.NewFakeClock(), zerolog.Nop())
	return New(reg, zerolog.Nop()), reg
}

func TestSelectNoneAvailableOnEmptyCluster(t *testing.T) {
	sel, _ := newTestSelector(t)
	cfg := config.New(config.Default()).Snapshot()

	_, ok := sel.Select("alice", registry.ModeDynamic, cfg, "1.2.3.4")
	assert.False(t, ok)
}

func TestStaticWeightedRoundRobinLiteralExample(t *testing.T) {
	sel, reg := newTestSelector(t)
	a := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	b := registry.Endpoint{Addr: "10.0.0.2", Port: 9002}
	reg.Register(a)
	reg.Register(b)
	require.NoError(t, reg.SetWeight(a, 3))
	require.NoError(t, reg.SetWeight(b, 1))

	cfg := config.New(config.Default()).Snapshot()

	counts := map[registry.Endpoint]int{}
	var order []registry.Endpoint
	for i := 0; i < 8; i++ {
		ep, ok := sel.Select("client", registry.ModeStatic, cfg, "1.2.3.4")
		require.True(t, ok)
		counts[ep]++
		order = append(order, ep)
	}

	assert.Equal(t, 6, counts[a])
	assert.Equal(t, 2, counts[b])
	assert.Equal(t, []registry.Endpoint{a, a, a, b, a, a, a, b}, order)
}

func TestDynamicPicksLowestRTT(t *testing.T) {
	sel, reg := newTestSelector(t)
	a := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	b := registry.Endpoint{Addr: "10.0.0.2", Port: 9002}
	reg.Register(a)
	reg.Register(b)
	reg.PushPingOutcome(a, true, 50)
	reg.PushPingOutcome(b, true, 5)

	cfg := config.New(config.Default()).Snapshot()
	ep, ok := sel.Select("client", registry.ModeDynamic, cfg, "1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, b, ep)
}

func TestDynamicTieBreaksOnLiveCount(t *testing.T) {
	sel, reg := newTestSelector(t)
	a := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	b := registry.Endpoint{Addr: "10.0.0.2", Port: 9002}
	reg.Register(a)
	reg.Register(b)
	reg.PushPingOutcome(a, true, 20)
	reg.PushPingOutcome(b, true, 22) // within 10ms tie window
	reg.RecordReport(a, []registry.LiveClient{{Name: "x", IP: "1.1.1.1"}, {Name: "y", IP: "1.1.1.2"}})
	reg.RecordReport(b, nil)

	cfg := config.New(config.Default()).Snapshot()
	ep, ok := sel.Select("client", registry.ModeDynamic, cfg, "1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, b, ep, "b has fewer live clients within the tie window")
}

func TestDynamicFallsBackToStaticWithNoKnownRTT(t *testing.T) {
	sel, reg := newTestSelector(t)
	a := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(a)

	cfg := config.New(config.Default()).Snapshot()
	ep, ok := sel.Select("client", registry.ModeDynamic, cfg, "1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, a, ep)
}

func TestStickyReturnsRememberedEndpointThenFallsBackWhenDrained(t *testing.T) {
	sel, reg := newTestSelector(t)
	a := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	b := registry.Endpoint{Addr: "10.0.0.2", Port: 9002}
	reg.Register(a)

	cfg := config.New(config.Default()).Snapshot()
	ep, ok := sel.Select("carol", registry.ModeSticky, cfg, "1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, a, ep)

	require.NoError(t, reg.Drain(a))
	reg.Register(b)

	ep, ok = sel.Select("carol", registry.ModeSticky, cfg, "1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, b, ep)
}

func TestSchedulableExcludesDrained(t *testing.T) {
	sel, reg := newTestSelector(t)
	a := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(a)
	require.NoError(t, reg.Drain(a))

	cfg := config.New(config.Default()).Snapshot()
	_, ok := sel.Select("client", registry.ModeStatic, cfg, "1.2.3.4")
	assert.False(t, ok)
}

func TestMaxPerServerExcludesFullServer(t *testing.T) {
	sel, reg := newTestSelector(t)
	a := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(a)
	reg.RecordReport(a, []registry.LiveClient{{Name: "x", IP: "1.1.1.1"}})

	gc := config.New(config.Default())
	gc.SetMaxPerServer(1)

	_, ok := sel.Select("client", registry.ModeStatic, gc.Snapshot(), "1.2.3.4")
	assert.False(t, ok)
}
