// Package clientlisten implements the CLIENT_PORT listener: clients open a
// short-lived connection, send one HELLO line, receive one assignment line,
// and disconnect. The LB keeps no state about the client connection itself
// once the reply is written.
package clientlisten

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"clusterlb/internal/config"
	"clusterlb/internal/lberrors"
	"clusterlb/internal/lifecycle"
	"clusterlb/internal/registry"
	"clusterlb/internal/selector"
)

const readTimeout = time.Second

// Listener accepts client handshakes and replies with a chosen server's
// "host:port" or NO_SERVER_AVAILABLE.
type Listener struct {
	sel    *selector.Selector
	cfg    *config.GlobalConfig
	logger zerolog.Logger

	anonCounter int64 // atomic, backs the Client-<N> fallback name
}

// New constructs a Listener.
func New(sel *selector.Selector, cfg *config.GlobalConfig, logger zerolog.Logger) *Listener {
	return &Listener{
		sel:    sel,
		cfg:    cfg,
		logger: logger.With().Str("component", "client-listener").Logger(),
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
			l.logger.Error().Interface("panic", r).Msg("client handler panicked, connection dropped")
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	remoteIP := hostOf(conn.RemoteAddr().String())
	cfg := l.cfg.Snapshot()

	name, mode, err := parseHello(strings.TrimSpace(line), cfg.DefaultMode)
	if err != nil {
		l.reject(conn, err)
		return
	}
	if name == "" {
		name = l.anonName()
	}

	if cfg.BannedNameSet()[name] || cfg.BannedIPSet()[remoteIP] {
		l.reject(conn, lberrors.ErrNoCapacity)
		return
	}

	target, ok := l.sel.Select(name, mode, cfg, remoteIP)
	if !ok {
		l.reject(conn, lberrors.ErrNoCapacity)
		return
	}

	l.writeReply(conn, target.String())
}

// reject logs err's classification via errors.Is and writes the wire-level
// reply every rejection reduces to: the client protocol has only one
// failure response regardless of cause.
func (l *Listener) reject(conn net.Conn, err error) {
	switch {
	case errors.Is(err, lberrors.ErrProtocol):
		l.logger.Debug().Err(err).Msg("rejected malformed handshake")
	case errors.Is(err, lberrors.ErrNoCapacity):
		l.logger.Debug().Err(err).Msg("no server available for handshake")
	default:
		l.logger.Warn().Err(err).Msg("rejected handshake")
	}
	l.writeReply(conn, "NO_SERVER_AVAILABLE")
}

// writeReply strips any '/' the LB might have picked up in its own reply
// bytes before sending, an inherited defensive behavior with no real
// semantic meaning for a bare host:port or NO_SERVER_AVAILABLE reply.
func (l *Listener) writeReply(conn net.Conn, msg string) {
	msg = strings.ReplaceAll(msg, "/", "")
	_, _ = conn.Write([]byte(msg + "\n"))
}

func (l *Listener) anonName() string {
	n := atomic.AddInt64(&l.anonCounter, 1)
	return "Client-" + strconv.FormatInt(n, 10)
}

// parseHello recognizes "HELLO <name> [mode]", case-insensitive on HELLO
// and the mode token. mode defaults to defaultMode when absent or
// unrecognized. It returns lberrors.ErrProtocol only for a line that isn't
// HELLO at all.
func parseHello(line, defaultMode string) (name string, mode registry.Mode, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "HELLO") {
		return "", "", lberrors.ErrProtocol
	}

	if len(fields) >= 2 {
		name = fields[1]
	}

	mode = registry.Mode(strings.ToLower(defaultMode))
	if len(fields) >= 3 {
		switch strings.ToLower(fields[2]) {
		case "static":
			mode = registry.ModeStatic
		case "dynamic":
			mode = registry.ModeDynamic
		case "sticky":
			mode = registry.ModeSticky
		}
	}

	return name, mode, nil
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
