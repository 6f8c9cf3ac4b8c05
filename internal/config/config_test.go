package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClampsInitialPingInterval(t *testing.T) {
	static := Default()
	static.InitialPingIntervalMs = 10
	g := New(static)
	assert.Equal(t, minPingIntervalMs, g.Snapshot().PingIntervalMs)
}

func TestSetPingIntervalMsClampsAndReturnsClampedValue(t *testing.T) {
	g := New(Default())
	got := g.SetPingIntervalMs(1)
	assert.Equal(t, minPingIntervalMs, got)
	assert.Equal(t, minPingIntervalMs, g.Snapshot().PingIntervalMs)

	got = g.SetPingIntervalMs(500)
	assert.Equal(t, 500, got)
}

func TestSetDefaultModeRejectsSticky(t *testing.T) {
	g := New(Default())
	require.False(t, g.SetDefaultMode("sticky"))
	assert.Equal(t, "static", g.Snapshot().DefaultMode)

	require.True(t, g.SetDefaultMode("dynamic"))
	assert.Equal(t, "dynamic", g.Snapshot().DefaultMode)
}

func TestBanUnbanIPRoundTrip(t *testing.T) {
	g := New(Default())
	g.BanIP("10.0.0.9")
	assert.True(t, g.IsBannedIP("10.0.0.9"))

	g.UnbanIP("10.0.0.9")
	assert.False(t, g.IsBannedIP("10.0.0.9"))
}

func TestSnapshotBannedSetsAreMembershipTestable(t *testing.T) {
	g := New(Default())
	g.BanName("Mallory")

	snap := g.Snapshot()
	set := snap.BannedNameSet()
	assert.True(t, set["Mallory"])
	assert.False(t, set["Alice"])
}

func TestSetMaxPerServerRejectsNegative(t *testing.T) {
	g := New(Default())
	g.SetMaxPerServer(-5)
	assert.Equal(t, 0, g.Snapshot().MaxPerServer)
}
