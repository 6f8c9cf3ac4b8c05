package admin

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clusterlb/internal/lifecycle"
	"clusterlb/internal/ratelimit"
)

const readTimeout = 5 * time.Second

// endSentinel terminates every admin response over the wire so a client can
// tell where one command's output ends without closing the connection.
const endSentinel = "END"

// Endpoint serves the admin command grammar over ADMIN_PORT. Each connection
// may send multiple commands, one per line, until it closes.
type Endpoint struct {
	interp  *Interpreter
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// NewEndpoint constructs an Endpoint around a shared Interpreter. limiter may
// be nil to admit every connection unconditionally.
func NewEndpoint(interp *Interpreter, limiter *ratelimit.Limiter, logger zerolog.Logger) *Endpoint {
	return &Endpoint{
		interp:  interp,
		limiter: limiter,
		logger:  logger.With().Str("component", "admin-endpoint").Logger(),
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

		go e.handle(ctx, conn)
	}
}

func (e *Endpoint) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	log := e.logger.With().Str("connID", connID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("admin handler panicked, connection dropped")
		}
	}()

	if e.limiter != nil {
		remoteIP := hostOf(conn.RemoteAddr().String())
		if !e.limiter.Allow(remoteIP) {
			_, _ = conn.Write([]byte("ERROR: rate limited\n" + endSentinel + "\n"))
			return
		}
	}

	reader := bufio.NewReader(conn)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		line, err := reader.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			log.Debug().Str("command", trimmed).Msg("admin command received")
			for _, resp := range e.interp.Execute(trimmed) {
				if _, werr := conn.Write([]byte(resp + "\n")); werr != nil {
					return
				}
			}
			if _, werr := conn.Write([]byte(endSentinel + "\n")); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
