package admin

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clusterlb/internal/config"
	"clusterlb/internal/registry"
)

func newTestInterpreter(t *testing.T) (*Interpreter, *registry.Registry, *config.GlobalConfig) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	reg := registry.New(clock, zerolog.Nop())
	cfg := config.New(config.Default())
	return New(reg, cfg, nil, clock, clock.Now()), reg, cfg
}

func TestServersListsRegisteredEndpoints(t *testing.T) {
	interp, reg, _ := newTestInterpreter(t)
	reg.Register(registry.Endpoint{Addr: "10.0.0.1", Port: 9001})

	lines := interp.Execute("servers")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "10.0.0.1:9001")
}

func TestDrainAllTogglesEveryEndpoint(t *testing.T) {
	interp, reg, _ := newTestInterpreter(t)
	a := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	b := registry.Endpoint{Addr: "10.0.0.2", Port: 9002}
	reg.Register(a)
	reg.Register(b)

	lines := interp.Execute("drain all")
	assert.Equal(t, []string{"OK"}, lines)
	assert.True(t, reg.IsDrained(a))
	assert.True(t, reg.IsDrained(b))
}

func TestSetWeightClampsAndRejectsUnknown(t *testing.T) {
	interp, reg, _ := newTestInterpreter(t)
	ep := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(ep)

	lines := interp.Execute("setweight 10.0.0.1:9001 0")
	assert.Equal(t, []string{"OK"}, lines)
	snap := reg.Snapshot()
	require.Len(t, snap.Servers, 1)
	assert.Equal(t, 1, snap.Servers[0].Weight)

	lines = interp.Execute("setweight 10.0.0.9:1 5")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "ERROR")
}

func TestBanNameThenUnban(t *testing.T) {
	interp, _, cfg := newTestInterpreter(t)

	interp.Execute("ban name Mallory")
	assert.True(t, cfg.IsBannedName("Mallory"))

	interp.Execute("unban name Mallory")
	assert.False(t, cfg.IsBannedName("Mallory"))
}

func TestSetPingFloorsAndInvokesRestartHook(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New(clock, zerolog.Nop())
	cfg := config.New(config.Default())
	var restarted int
	interp := New(reg, cfg, func(ms int) { restarted = ms }, clock, clock.Now())

	lines := interp.Execute("set ping 10")
	assert.Equal(t, []string{"OK"}, lines)
	assert.Equal(t, 200, restarted)
	assert.Equal(t, 200, cfg.Snapshot().PingIntervalMs)
}

func TestUptimeReflectsElapsedTimeSinceStart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New(clock, zerolog.Nop())
	cfg := config.New(config.Default())
	interp := New(reg, cfg, nil, clock, clock.Now())

	clock.Advance(90 * time.Second)
	lines := interp.Execute("uptime")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "1m30s")
}

func TestHelpListsGrammar(t *testing.T) {
	interp, _, _ := newTestInterpreter(t)
	lines := interp.Execute("help")
	assert.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "uptime")
}

func TestModeDefaultRejectsSticky(t *testing.T) {
	interp, _, cfg := newTestInterpreter(t)
	lines := interp.Execute("mode default sticky")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "ERROR")
	assert.Equal(t, "static", cfg.Snapshot().DefaultMode)
}

func TestClearEmptiesAssignmentHistory(t *testing.T) {
	interp, reg, _ := newTestInterpreter(t)
	ep := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(ep)
	reg.RecordSelection(ep, "alice", registry.ModeStatic, "1.2.3.4")

	lines := interp.Execute("clear")
	assert.Equal(t, []string{"OK"}, lines)
	assert.Empty(t, reg.Snapshot().RecentAssignments)
}

func TestUnknownVerbRespondsUnknown(t *testing.T) {
	interp, _, _ := newTestInterpreter(t)
	lines := interp.Execute("frobnicate")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Unknown")
}

func TestRemoveMalformedHostPortErrors(t *testing.T) {
	interp, _, _ := newTestInterpreter(t)
	lines := interp.Execute("remove not-a-host-port")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "ERROR")
}
