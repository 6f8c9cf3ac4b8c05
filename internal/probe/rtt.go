// Package probe runs the two background sweeps the load balancer depends
// on: RTTProber (periodic parallel ping of every registered server) and
// Evictor (periodic removal of servers gone silent past the eviction
// timeout).
package probe

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"clusterlb/internal/config"
	"clusterlb/internal/registry"
)

// RTTProber schedules a ping/pong probe of every registered endpoint every
// pingIntervalMs. It reads the current interval fresh before each sleep, so
// an admin change to pingIntervalMs takes effect on the next cycle without
// an explicit restart.
type RTTProber struct {
	reg    *registry.Registry
	cfg    *config.GlobalConfig
	clock  clockwork.Clock
	logger zerolog.Logger

	// dial is overridable in tests to avoid real sockets.
	dial func(ctx context.Context, ep registry.Endpoint, timeout time.Duration) (int64, bool)
}

// NewRTTProber constructs an RTTProber. It probes over real TCP by default.
func NewRTTProber(reg *registry.Registry, cfg *config.GlobalConfig, clock clockwork.Clock, logger zerolog.Logger) *RTTProber {
	p := &RTTProber{
		reg:    reg,
		cfg:    cfg,
		clock:  clock,
		logger: logger.With().Str("component", "rtt-prober").Logger(),
	}
	p.dial = p.tcpPing
	return p
}

// Run blocks, running probe cycles until ctx is canceled.
func (p *RTTProber) Run(ctx context.Context) {
	for {
		interval := time.Duration(p.cfg.Snapshot().PingIntervalMs) * time.Millisecond

		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(interval):
		}

		p.tick(ctx)
	}
}

func (p *RTTProber) tick(ctx context.Context) {
	endpoints := p.reg.Endpoints()
	if len(endpoints) == 0 {
		return
	}

	cycleID := ksuid.New().String()
	timeout := p.probeTimeout()

	g, gctx := errgroup.WithContext(ctx)
	var successes int64
	for _, ep := range endpoints {
		ep := ep
		g.Go(func() error {
			rtt, ok := p.dial(gctx, ep, timeout)
			p.reg.PushPingOutcome(ep, ok, rtt)
			if ok {
				atomic.AddInt64(&successes, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Debug().
		Str("cycle", cycleID).
		Int("endpoints", len(endpoints)).
		Int64("successes", successes).
		Msg("probe cycle complete")
}

func (p *RTTProber) probeTimeout() time.Duration {
	ms := p.cfg.Snapshot().PingIntervalMs / 2
	if ms < 200 {
		ms = 200
	}
	return time.Duration(ms) * time.Millisecond
}

// tcpPing opens a TCP connection to ep, sends "ping\n" and expects "pong"
// back (trimmed, case-insensitive), returning the observed RTT in
// milliseconds on success.
func (p *RTTProber) tcpPing(ctx context.Context, ep registry.Endpoint, timeout time.Duration) (int64, bool) {
	start := time.Now()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		return 0, false
	}
	defer conn.Close()

	_ = conn.SetDeadline(start.Add(timeout))

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		return 0, false
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return 0, false
	}

	elapsed := time.Since(start)
	if !strings.EqualFold(strings.TrimSpace(reply), "pong") {
		return 0, false
	}
	return elapsed.Nanoseconds() / 1_000_000, true
}
