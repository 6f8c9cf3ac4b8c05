// Package status implements the STATUS_PORT listener: on each accepted
// connection it emits exactly one JSON document describing the whole
// cluster state, then closes.
package status

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/rs/zerolog"

	"clusterlb/internal/config"
	"clusterlb/internal/lifecycle"
	"clusterlb/internal/registry"
)

// Endpoint serves the cluster-status document.
type Endpoint struct {
	reg     *registry.Registry
	cfg     *config.GlobalConfig
	upSince time.Time
	logger  zerolog.Logger
}

// New constructs an Endpoint. upSince is stamped once at process start.
func New(reg *registry.Registry, cfg *config.GlobalConfig, upSince time.Time, logger zerolog.Logger) *Endpoint {
	return &Endpoint{
		reg:     reg,
		cfg:     cfg,
		upSince: upSince,
		logger:  logger.With().Str("component", "status-endpoint").Logger(),
	}
}

// Serve accepts connections on ln until ctx is canceled.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) {
	for {
		if ctx.Err() != nil {
			return
		}
		if tl, ok := ln.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(lifecycle.AcceptTimeout))
		}

		conn, err := ln.Accept()
		if err != nil {
			if lifecycle.IsTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		go e.handle(conn)
	}
}

func (e *Endpoint) handle(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("status handler panicked, connection dropped")
		}
	}()

	doc := e.buildDocument()
	_ = json.NewEncoder(conn).Encode(doc)
}

type serverDoc struct {
	Addr         string          `json:"addr"`
	Port         int             `json:"port"`
	RTTMs        int64           `json:"rttMs"`
	Weight       int             `json:"weight"`
	Drained      bool            `json:"drained"`
	LiveCount    int             `json:"liveCount"`
	RequestCount int64           `json:"requestCount"`
	HealthScore  int             `json:"healthScore"`
	LastSeenMs   int64           `json:"lastSeenMs"`
	LiveClients  []liveClientDoc `json:"liveClients"`
}

type liveClientDoc struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

type assignmentDoc struct {
	ClientName string `json:"clientName"`
	Mode       string `json:"mode"`
	Server     string `json:"server"`
	AssignedAt int64  `json:"assignedAt"`
}

type document struct {
	UpSince           int64           `json:"upSince"`
	DefaultMode       string          `json:"defaultMode"`
	MaxPerServer      int             `json:"maxPerServer"`
	PingIntervalMs    int             `json:"pingIntervalMs"`
	EvictionTimeoutMs int             `json:"evictionTimeoutMs"`
	BannedIPs         []string        `json:"bannedIps"`
	BannedNames       []string        `json:"bannedNames"`
	Servers           []serverDoc     `json:"servers"`
	RecentAssignments []assignmentDoc `json:"recentAssignments"`
}

const maxRecentAssignments = 20

func (e *Endpoint) buildDocument() document {
	snap := e.reg.Snapshot()
	cfg := e.cfg.Snapshot()

	servers := make([]serverDoc, 0, len(snap.Servers))
	for _, s := range snap.Servers {
		clients := make([]liveClientDoc, 0, len(s.LiveClients))
		for _, c := range s.LiveClients {
			clients = append(clients, liveClientDoc{Name: c.Name, IP: c.IP})
		}
		servers = append(servers, serverDoc{
			Addr:         s.Endpoint.Addr,
			Port:         s.Endpoint.Port,
			RTTMs:        s.RTTMs,
			Weight:       s.Weight,
			Drained:      s.Drained,
			LiveCount:    len(s.LiveClients),
			RequestCount: s.RequestCount,
			HealthScore:  s.HealthScore,
			LastSeenMs:   s.LastSeenAt.UnixMilli(),
			LiveClients:  clients,
		})
	}

	recent := snap.RecentAssignments
	if len(recent) > maxRecentAssignments {
		recent = recent[len(recent)-maxRecentAssignments:]
	}
	assignments := make([]assignmentDoc, 0, len(recent))
	for _, a := range recent {
		assignments = append(assignments, assignmentDoc{
			ClientName: a.ClientName,
			Mode:       string(a.Mode),
			Server:     a.Server.String(),
			AssignedAt: a.AssignedAt.UnixMilli(),
		})
	}

	bannedIPs := cfg.BannedIPs
	if bannedIPs == nil {
		bannedIPs = []string{}
	}
	bannedNames := cfg.BannedNames
	if bannedNames == nil {
		bannedNames = []string{}
	}

	return document{
		UpSince:           e.upSince.UnixMilli(),
		DefaultMode:       cfg.DefaultMode,
		MaxPerServer:      cfg.MaxPerServer,
		PingIntervalMs:    cfg.PingIntervalMs,
		EvictionTimeoutMs: cfg.EvictionTimeoutMs,
		BannedIPs:         bannedIPs,
		BannedNames:       bannedNames,
		Servers:           servers,
		RecentAssignments: assignments,
	}
}
