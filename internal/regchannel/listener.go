// Package regchannel implements the REG_PORT listener: servers send one of
// !join, !leave or !report per connection. Join and leave are acknowledged;
// report is fire-and-forget.
package regchannel

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clusterlb/internal/lberrors"
	"clusterlb/internal/lifecycle"
	"clusterlb/internal/ratelimit"
	"clusterlb/internal/registry"
)

const readTimeout = time.Second

// Listener accepts server registration/heartbeat/report connections.
type Listener struct {
	reg     *registry.Registry
	limiter *ratelimit.Limiter
	logger  zerolog.Logger

	// initialWeights seeds a server's weight the first time it joins,
	// keyed by "addr:port". Nil or a missing key leaves the default of 1.
	initialWeights map[string]int
}

// New constructs a Listener.
func New(reg *registry.Registry, limiter *ratelimit.Limiter, initialWeights map[string]int, logger zerolog.Logger) *Listener {
	return &Listener{
		reg:            reg,
		limiter:        limiter,
		initialWeights: initialWeights,
		logger:         logger.With().Str("component", "reg-listener").Logger(),
	}
}

// Serve accepts connections on ln until ctx is canceled.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) {
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
			l.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("server handler panicked, connection dropped")
		}
	}()

	remoteIP := hostOf(conn.RemoteAddr().String())
	if l.limiter != nil && !l.limiter.Allow(remoteIP) {
		l.rejectProtocol(conn, lberrors.ErrProtocol)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		l.rejectProtocol(conn, lberrors.ErrProtocol)
		return
	}

	switch strings.ToLower(fields[0]) {
	case "!join":
		l.handleJoin(conn, remoteIP, fields)
	case "!leave":
		l.handleLeave(conn, remoteIP, fields)
	case "!report":
		l.handleReport(remoteIP, fields)
	default:
		l.rejectProtocol(conn, lberrors.ErrProtocol)
	}
}

// rejectProtocol logs a protocol-level failure via errors.Is and writes the
// wire-level "!err" reply.
func (l *Listener) rejectProtocol(conn net.Conn, err error) {
	if errors.Is(err, lberrors.ErrProtocol) {
		l.logger.Debug().Err(err).Msg("rejected malformed registration line")
	}
	l.reply(conn, "!err")
}

// handleJoin expects the last token to be an integer TCP port; any tokens
// in between (e.g. a descriptive tag) are ignored.
func (l *Listener) handleJoin(conn net.Conn, remoteIP string, fields []string) {
	port, err := lastToken(fields)
	if err != nil {
		l.rejectProtocol(conn, err)
		return
	}
	ep := registry.Endpoint{Addr: remoteIP, Port: port}
	if isNew := l.reg.Register(ep); isNew {
		if w, ok := l.initialWeights[ep.String()]; ok {
			_ = l.reg.SetWeight(ep, w)
		}
	}
	l.reply(conn, "!ack")
}

func (l *Listener) handleLeave(conn net.Conn, remoteIP string, fields []string) {
	port, err := lastToken(fields)
	if err != nil {
		l.rejectProtocol(conn, err)
		return
	}
	ep := registry.Endpoint{Addr: remoteIP, Port: port}
	l.reg.Leave(ep)
	l.reply(conn, "!bye")
}

// handleReport parses "!report <port> clients <n> <name>@<ip> ...". It
// never replies, matching the fire-and-forget wire contract.
func (l *Listener) handleReport(remoteIP string, fields []string) {
	if len(fields) < 4 {
		return
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return
	}
	if !strings.EqualFold(fields[2], "clients") {
		return
	}
	n, err := strconv.Atoi(fields[3])
	if err != nil || n < 0 {
		return
	}

	tokens := fields[4:]
	if n > len(tokens) {
		n = len(tokens)
	}

	clients := make([]registry.LiveClient, 0, n)
	for i := 0; i < n; i++ {
		clients = append(clients, splitClientToken(tokens[i]))
	}

	ep := registry.Endpoint{Addr: remoteIP, Port: port}
	l.reg.RecordReport(ep, clients)
}

func splitClientToken(tok string) registry.LiveClient {
	idx := strings.LastIndex(tok, "@")
	if idx < 0 {
		return registry.LiveClient{Name: tok, IP: "unknown"}
	}
	return registry.LiveClient{Name: tok[:idx], IP: tok[idx+1:]}
}

func lastToken(fields []string) (int, error) {
	if len(fields) < 2 {
		return 0, lberrors.ErrProtocol
	}
	port, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, lberrors.ErrProtocol
	}
	return port, nil
}

func (l *Listener) reply(conn net.Conn, msg string) {
	_, _ = conn.Write([]byte(msg + "\n"))
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
