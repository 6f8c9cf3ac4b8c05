// Package testserver implements a synthetic compute node: it speaks the
// load balancer's registration wire protocol (!join / !report / !leave)
// against REG_PORT and answers ping/pong probes on its own listening port,
// so the load balancer's behavior can be exercised end to end without a
// real workload behind it.
package testserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// LiveClient is a synthetic client this server reports as currently
// connected to it, included verbatim in every !report.
type LiveClient struct {
	Name string
	IP   string
}

// Config controls one synthetic server's identity and timing.
type Config struct {
	ID                  string
	Port                int
	RegAddr             string // host:port of the load balancer's REG_PORT
	HeartbeatIntervalMs int    // !join re-announce cadence
	ReportIntervalMs    int    // !report cadence
}

func (c Config) withDefaults() Config {
	if c.HeartbeatIntervalMs <= 0 {
		c.HeartbeatIntervalMs = 5000
	}
	if c.ReportIntervalMs <= 0 {
		c.ReportIntervalMs = 2000
	}
	return c
}

// Server is a synthetic backend node.
type Server struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	liveClients []LiveClient
}

// New constructs a Server. Call Run to start it.
func New(cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "testserver").Str("id", cfg.ID).Logger(),
	}
}

// SetLiveClients replaces the synthetic client list reported on the next
// !report tick.
func (s *Server) SetLiveClients(clients []LiveClient) {
	s.mu.Lock()
	s.liveClients = append([]LiveClient(nil), clients...)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []LiveClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LiveClient(nil), s.liveClients...)
}

// Run starts the ping responder and the join/report heartbeat, blocking
// until ctx is canceled. It sends !leave on the way out.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return errors.Wrapf(err, "testserver %s: listen on port %d", s.cfg.ID, s.cfg.Port)
	}
	defer ln.Close()

	go s.pingResponderLoop(ctx, ln)

	if err := s.join(); err != nil {
		s.logger.Warn().Err(err).Msg("initial !join failed")
	}

	heartbeat := time.NewTicker(time.Duration(s.cfg.HeartbeatIntervalMs) * time.Millisecond)
	report := time.NewTicker(time.Duration(s.cfg.ReportIntervalMs) * time.Millisecond)
	defer heartbeat.Stop()
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.leave(); err != nil {
				s.logger.Warn().Err(err).Msg("!leave failed")
			}
			return nil
		case <-heartbeat.C:
			if err := s.join(); err != nil {
				s.logger.Warn().Err(err).Msg("!join failed")
			}
		case <-report.C:
			if err := s.report(); err != nil {
				s.logger.Warn().Err(err).Msg("!report failed")
			}
		}
	}
}

func (s *Server) pingResponderLoop(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		go s.handlePing(conn)
	}
}

func (s *Server) handlePing(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	if strings.EqualFold(strings.TrimSpace(line), "ping") {
		_, _ = conn.Write([]byte("pong\n"))
	}
}

func (s *Server) join() error {
	return s.oneShot(fmt.Sprintf("!join %s %d\n", s.cfg.ID, s.cfg.Port))
}

func (s *Server) leave() error {
	return s.oneShot(fmt.Sprintf("!leave %s %d\n", s.cfg.ID, s.cfg.Port))
}

func (s *Server) report() error {
	clients := s.snapshotClients()
	tokens := make([]string, 0, len(clients))
	for _, c := range clients {
		tokens = append(tokens, fmt.Sprintf("%s@%s", c.Name, c.IP))
	}
	line := fmt.Sprintf("!report %d clients %d %s\n", s.cfg.Port, len(clients), strings.Join(tokens, " "))
	return s.oneShot(line)
}

func (s *Server) oneShot(line string) error {
	conn, err := net.DialTimeout("tcp", s.cfg.RegAddr, 2*time.Second)
	if err != nil {
		return errors.Wrapf(err, "dial %s", s.cfg.RegAddr)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(line)); err != nil {
		return errors.Wrap(err, "write")
	}
	// Best-effort read of the ack/bye reply; !report gets none.
	_, _ = bufio.NewReader(conn).ReadString('\n')
	return nil
}
