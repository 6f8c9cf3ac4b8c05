// Package config holds the load balancer's process-wide, admin-mutable
// configuration behind a single accessor, plus the startup-only static
// configuration (ports, initial state) loaded from defaults, an optional
// TOML file and CLI flags, in that order of increasing precedence.
package config

import (
	"sync"
)

const (
	DefaultClientPort = 11114
	DefaultRegPort    = 11115
	DefaultStatusPort = 11116
	DefaultAdminPort  = 11117

	minPingIntervalMs        = 200
	DefaultPingIntervalMs    = 1000
	DefaultEvictionTimeoutMs = 15000
	MinWeight                = 1

	evictorInterval = 5 // seconds, fixed per spec, not admin-mutable
)

// StaticConfig is fixed for the lifetime of the process once startup
// finishes: listener ports and the initial registry/config seed values an
// operator may supply via a TOML file or CLI flags.
type StaticConfig struct {
	ClientPort int
	RegPort    int
	StatusPort int
	AdminPort  int

	InitialDefaultMode       string
	InitialWeights           map[string]int
	InitialBannedIPs         []string
	InitialBannedNames       []string
	InitialPingIntervalMs    int
	InitialEvictionTimeoutMs int
}

// Default returns the compiled-in defaults named in the spec.
func Default() StaticConfig {
	return StaticConfig{
		ClientPort:               DefaultClientPort,
		RegPort:                  DefaultRegPort,
		StatusPort:               DefaultStatusPort,
		AdminPort:                DefaultAdminPort,
		InitialDefaultMode:       "static",
		InitialPingIntervalMs:    DefaultPingIntervalMs,
		InitialEvictionTimeoutMs: DefaultEvictionTimeoutMs,
	}
}

// Snapshot is an immutable point-in-time copy of GlobalConfig, read by every
// listener on each request.
type Snapshot struct {
	DefaultMode       string
	MaxPerServer      int // 0 means unbounded
	PingIntervalMs    int
	EvictionTimeoutMs int
	BannedIPs         []string
	BannedNames       []string
}

// GlobalConfig is the LB's single mutable configuration record. Every
// listener reads the current value via Snapshot on each request rather than
// holding a stale copy.
type GlobalConfig struct {
	mu sync.RWMutex

	defaultMode       string
	maxPerServer      int
	pingIntervalMs    int
	evictionTimeoutMs int
	bannedIPs         map[string]struct{}
	bannedNames       map[string]struct{}
}

// New seeds a GlobalConfig from a StaticConfig.
func New(static StaticConfig) *GlobalConfig {
	g := &GlobalConfig{
		defaultMode:       static.InitialDefaultMode,
		pingIntervalMs:    clampPingInterval(static.InitialPingIntervalMs),
		evictionTimeoutMs: static.InitialEvictionTimeoutMs,
		bannedIPs:         make(map[string]struct{}),
		bannedNames:       make(map[string]struct{}),
	}
	if g.defaultMode == "" {
		g.defaultMode = "static"
	}
	if g.evictionTimeoutMs <= 0 {
		g.evictionTimeoutMs = DefaultEvictionTimeoutMs
	}
	for _, ip := range static.InitialBannedIPs {
		g.bannedIPs[ip] = struct{}{}
	}
	for _, name := range static.InitialBannedNames {
		g.bannedNames[name] = struct{}{}
	}
	return g
}

// EvictorIntervalSeconds is fixed and not admin-mutable.
func EvictorIntervalSeconds() int { return evictorInterval }

func clampPingInterval(ms int) int {
	if ms < minPingIntervalMs {
		return minPingIntervalMs
	}
	return ms
}

// Snapshot copies the current configuration for a single request/decision.
func (g *GlobalConfig) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ips := make([]string, 0, len(g.bannedIPs))
	for ip := range g.bannedIPs {
		ips = append(ips, ip)
	}
	names := make([]string, 0, len(g.bannedNames))
	for name := range g.bannedNames {
		names = append(names, name)
	}

	return Snapshot{
		DefaultMode:       g.defaultMode,
		MaxPerServer:      g.maxPerServer,
		PingIntervalMs:    g.pingIntervalMs,
		EvictionTimeoutMs: g.evictionTimeoutMs,
		BannedIPs:         ips,
		BannedNames:       names,
	}
}

// BannedIPSet and BannedNameSet convert the snapshot's ban slices into
// membership-testable sets, for callers that need to check more than once.
func (s Snapshot) BannedIPSet() map[string]bool {
	set := make(map[string]bool, len(s.BannedIPs))
	for _, ip := range s.BannedIPs {
		set[ip] = true
	}
	return set
}

func (s Snapshot) BannedNameSet() map[string]bool {
	set := make(map[string]bool, len(s.BannedNames))
	for _, name := range s.BannedNames {
		set[name] = true
	}
	return set
}

// SetDefaultMode updates the fallback mode. "sticky" is not a valid
// default per the spec's admin grammar.
func (g *GlobalConfig) SetDefaultMode(mode string) bool {
	if mode != "static" && mode != "dynamic" {
		return false
	}
	g.mu.Lock()
	g.defaultMode = mode
	g.mu.Unlock()
	return true
}

// SetMaxPerServer sets the live-client cap considered schedulable; 0 or
// negative means unbounded.
func (g *GlobalConfig) SetMaxPerServer(n int) {
	if n < 0 {
		n = 0
	}
	g.mu.Lock()
	g.maxPerServer = n
	g.mu.Unlock()
}

// SetPingIntervalMs clamps ms to the 200ms floor and returns the value
// actually stored.
func (g *GlobalConfig) SetPingIntervalMs(ms int) int {
	ms = clampPingInterval(ms)
	g.mu.Lock()
	g.pingIntervalMs = ms
	g.mu.Unlock()
	return ms
}

// SetEvictionTimeoutMs updates the eviction threshold.
func (g *GlobalConfig) SetEvictionTimeoutMs(ms int) {
	if ms < 0 {
		ms = 0
	}
	g.mu.Lock()
	g.evictionTimeoutMs = ms
	g.mu.Unlock()
}

// BanIP / UnbanIP / BanName / UnbanName mutate ban-set membership.
func (g *GlobalConfig) BanIP(ip string) {
	g.mu.Lock()
	g.bannedIPs[ip] = struct{}{}
	g.mu.Unlock()
}

func (g *GlobalConfig) UnbanIP(ip string) {
	g.mu.Lock()
	delete(g.bannedIPs, ip)
	g.mu.Unlock()
}

func (g *GlobalConfig) BanName(name string) {
	g.mu.Lock()
	g.bannedNames[name] = struct{}{}
	g.mu.Unlock()
}

func (g *GlobalConfig) UnbanName(name string) {
	g.mu.Lock()
	delete(g.bannedNames, name)
	g.mu.Unlock()
}

// IsBannedIP / IsBannedName test ban-set membership.
func (g *GlobalConfig) IsBannedIP(ip string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, banned := g.bannedIPs[ip]
	return banned
}

func (g *GlobalConfig) IsBannedName(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, banned := g.bannedNames[name]
	return banned
}
