// Package admin implements the admin command grammar shared by the
// ADMIN_PORT listener and the stdin console: one line in, zero or more
// response lines out. AdminEndpoint appends the END sentinel; the stdin
// console does not.
package admin

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	pkgerrors "github.com/pkg/errors"

	"clusterlb/internal/config"
	"clusterlb/internal/lberrors"
	"clusterlb/internal/registry"
)

// Interpreter parses admin verbs and mutates the registry/config.
type Interpreter struct {
	reg *registry.Registry
	cfg *config.GlobalConfig

	// restartProber is invoked with the clamped value after "set ping";
	// the prober itself re-reads the interval before each wait. nil in
	// tests that don't care.
	restartProber func(newIntervalMs int)

	clock   clockwork.Clock
	upSince time.Time
}

// New constructs an Interpreter. upSince marks process start for the
// uptime verb; clock lets tests advance time deterministically.
func New(reg *registry.Registry, cfg *config.GlobalConfig, restartProber func(int), clock clockwork.Clock, upSince time.Time) *Interpreter {
	return &Interpreter{reg: reg, cfg: cfg, restartProber: restartProber, clock: clock, upSince: upSince}
}

// Execute parses and runs one admin command line, returning its response
// lines (never including the END sentinel).
func (in *Interpreter) Execute(line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return []string{"Unknown: (empty command)"}
	}

	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "servers":
		return in.cmdServers()
	case "live":
		return in.cmdLive()
	case "status":
		return append(in.cmdServers(), in.cmdLive()...)
	case "weights":
		return in.cmdWeights()
	case "drained":
		return in.cmdDrained()
	case "bans":
		return in.cmdBans()
	case "drain":
		return in.cmdDrainToggle(args, true)
	case "undrain":
		return in.cmdDrainToggle(args, false)
	case "setweight":
		return in.cmdSetWeight(args)
	case "remove":
		return in.cmdRemove(args)
	case "ban":
		return in.cmdBanUnban(args, true)
	case "unban":
		return in.cmdBanUnban(args, false)
	case "set":
		return in.cmdSet(args)
	case "mode":
		return in.cmdMode(args)
	case "clear":
		in.reg.ClearAssignments()
		return []string{"OK"}
	case "uptime":
		return in.cmdUptime()
	case "help":
		return in.cmdHelp()
	default:
		return []string{"Unknown: " + fields[0]}
	}
}

func (in *Interpreter) cmdServers() []string {
	snap := in.reg.Snapshot()
	sortServers(snap.Servers)

	out := make([]string, 0, len(snap.Servers)+1)
	out = append(out, fmt.Sprintf("servers: %d", len(snap.Servers)))
	for _, s := range snap.Servers {
		rtt := "unknown"
		if s.RTTMs >= 0 {
			rtt = strconv.FormatInt(s.RTTMs, 10) + "ms"
		}
		out = append(out, fmt.Sprintf(
			"%s rtt=%s weight=%d live=%d requests=%d health=%d%% drained=%t",
			s.Endpoint, rtt, s.Weight, len(s.LiveClients), s.RequestCount, s.HealthScore, s.Drained,
		))
	}
	return out
}

func (in *Interpreter) cmdLive() []string {
	snap := in.reg.Snapshot()
	sortServers(snap.Servers)

	out := []string{"live:"}
	for _, s := range snap.Servers {
		if len(s.LiveClients) == 0 {
			out = append(out, fmt.Sprintf("%s: (none)", s.Endpoint))
			continue
		}
		names := make([]string, 0, len(s.LiveClients))
		for _, c := range s.LiveClients {
			names = append(names, fmt.Sprintf("%s@%s", c.Name, c.IP))
		}
		out = append(out, fmt.Sprintf("%s: %s", s.Endpoint, strings.Join(names, ", ")))
	}
	return out
}

func (in *Interpreter) cmdWeights() []string {
	snap := in.reg.Snapshot()
	sortServers(snap.Servers)

	out := []string{"weights:"}
	for _, s := range snap.Servers {
		if s.Weight != 1 {
			out = append(out, fmt.Sprintf("%s=%d", s.Endpoint, s.Weight))
		}
	}
	return out
}

func (in *Interpreter) cmdDrained() []string {
	snap := in.reg.Snapshot()
	sortServers(snap.Servers)

	out := []string{"drained:"}
	for _, s := range snap.Servers {
		if s.Drained {
			out = append(out, s.Endpoint.String())
		}
	}
	return out
}

func (in *Interpreter) cmdBans() []string {
	cfg := in.cfg.Snapshot()
	ips := append([]string(nil), cfg.BannedIPs...)
	names := append([]string(nil), cfg.BannedNames...)
	sort.Strings(ips)
	sort.Strings(names)

	out := []string{"banned ips: " + strings.Join(ips, ", ")}
	out = append(out, "banned names: "+strings.Join(names, ", "))
	return out
}

func (in *Interpreter) cmdDrainToggle(args []string, drain bool) []string {
	if len(args) != 1 {
		return []string{"ERROR: usage: drain|undrain <host:port|all>"}
	}
	if strings.EqualFold(args[0], "all") {
		in.reg.DrainAll(drain)
		return []string{"OK"}
	}

	ep, err := registry.ParseEndpoint(args[0])
	if err != nil {
		return []string{errorLine(err)}
	}
	if drain {
		err = in.reg.Drain(ep)
	} else {
		err = in.reg.Undrain(ep)
	}
	if err != nil {
		return []string{errorLine(err)}
	}
	return []string{"OK"}
}

func (in *Interpreter) cmdSetWeight(args []string) []string {
	if len(args) != 2 {
		return []string{"ERROR: usage: setweight <host:port> <N>"}
	}
	ep, err := registry.ParseEndpoint(args[0])
	if err != nil {
		return []string{errorLine(err)}
	}
	n, err := parseInt(args[1])
	if err != nil {
		return []string{errorLine(err)}
	}
	if n < config.MinWeight {
		n = config.MinWeight
	}
	if err := in.reg.SetWeight(ep, n); err != nil {
		return []string{errorLine(err)}
	}
	return []string{"OK"}
}

func (in *Interpreter) cmdRemove(args []string) []string {
	if len(args) != 1 {
		return []string{"ERROR: usage: remove <host:port>"}
	}
	ep, err := registry.ParseEndpoint(args[0])
	if err != nil {
		return []string{errorLine(err)}
	}
	in.reg.Remove(ep)
	return []string{"OK"}
}

func (in *Interpreter) cmdBanUnban(args []string, ban bool) []string {
	if len(args) != 2 {
		return []string{"ERROR: usage: ban|unban ip|name <value>"}
	}
	kind := strings.ToLower(args[0])
	value := args[1]

	switch kind {
	case "ip":
		if ban {
			in.cfg.BanIP(value)
		} else {
			in.cfg.UnbanIP(value)
		}
	case "name":
		if ban {
			in.cfg.BanName(value)
		} else {
			in.cfg.UnbanName(value)
		}
	default:
		return []string{"ERROR: usage: ban|unban ip|name <value>"}
	}
	return []string{"OK"}
}

func (in *Interpreter) cmdSet(args []string) []string {
	if len(args) != 2 {
		return []string{"ERROR: usage: set ping|maxconn|evict <value>"}
	}
	key := strings.ToLower(args[0])
	n, err := parseInt(args[1])
	if err != nil {
		return []string{errorLine(err)}
	}

	switch key {
	case "ping":
		clamped := in.cfg.SetPingIntervalMs(n)
		if in.restartProber != nil {
			in.restartProber(clamped)
		}
	case "maxconn":
		in.cfg.SetMaxPerServer(n)
	case "evict":
		in.cfg.SetEvictionTimeoutMs(n)
	default:
		return []string{"ERROR: usage: set ping|maxconn|evict <value>"}
	}
	return []string{"OK"}
}

func (in *Interpreter) cmdMode(args []string) []string {
	if len(args) != 2 || !strings.EqualFold(args[0], "default") {
		return []string{"ERROR: usage: mode default <static|dynamic>"}
	}
	if !in.cfg.SetDefaultMode(strings.ToLower(args[1])) {
		return []string{"ERROR: invalid default mode: " + args[1]}
	}
	return []string{"OK"}
}

func (in *Interpreter) cmdUptime() []string {
	elapsed := in.clock.Now().Sub(in.upSince).Truncate(time.Second)
	return []string{fmt.Sprintf("uptime: %s (since %s)", elapsed, in.upSince.Format(time.RFC3339))}
}

func (in *Interpreter) cmdHelp() []string {
	return []string{
		"servers, live, status, weights, drained, bans",
		"drain <host:port|all>, undrain <host:port|all>",
		"setweight <host:port> <N>, remove <host:port>",
		"ban ip|name <value>, unban ip|name <value>",
		"set ping|maxconn|evict <value>",
		"mode default <static|dynamic>",
		"clear, uptime, help",
	}
}

// errorLine formats an error for the wire, classifying it via errors.Is so
// an unknown-endpoint failure and a bad-argument failure read distinctly.
func errorLine(err error) string {
	switch {
	case errors.Is(err, lberrors.ErrUnknownEndpoint):
		return "ERROR: unknown endpoint: " + err.Error()
	case errors.Is(err, lberrors.ErrConfigValue):
		return "ERROR: invalid value: " + err.Error()
	default:
		return "ERROR: " + err.Error()
	}
}

// parseInt wraps strconv.Atoi's failure in lberrors.ErrConfigValue so admin
// argument errors share the same sentinel as a bad host:port argument.
func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, pkgerrors.Wrapf(lberrors.ErrConfigValue, "not a number: %q", s)
	}
	return n, nil
}

func sortServers(servers []registry.ServerSnapshot) {
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Endpoint.String() < servers[j].Endpoint.String()
	})
}
