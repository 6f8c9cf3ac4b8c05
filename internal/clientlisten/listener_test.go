package clientlisten

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clusterlb/internal/config"
	"clusterlb/internal/registry"
	"clusterlb/internal/selector"
)

func newTestListener(t *testing.T) (*Listener, *registry.Registry, *config.GlobalConfig) {
	t.Helper()
	reg := registry.New(clockwork.NewFakeClock(), zerolog.Nop())
	cfg := config.New(config.Default())
	sel := selector.New(reg, zerolog.Nop())
	return New(sel, cfg, zerolog.Nop()), reg, cfg
}

func roundTrip(t *testing.T, l *Listener, request string) string {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		l.handle(server)
		close(done)
	}()

	_, err := client.Write([]byte(request))
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, _ := bufio.NewReader(client).ReadString('\n')
	<-done
	return strings.TrimSpace(reply)
}

func TestHelloWithNoServersReturnsNoServerAvailable(t *testing.T) {
	l, _, _ := newTestListener(t)
	reply := roundTrip(t, l, "HELLO Alice dynamic\n")
	assert.Equal(t, "NO_SERVER_AVAILABLE", reply)
}

func TestHelloAssignsRegisteredServer(t *testing.T) {
	l, reg, _ := newTestListener(t)
	ep := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(ep)

	reply := roundTrip(t, l, "HELLO Bob static\n")
	assert.Equal(t, ep.String(), reply)
}

func TestHelloAnonymousNameFallsBackToClientN(t *testing.T) {
	l, reg, _ := newTestListener(t)
	ep := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(ep)

	reply := roundTrip(t, l, "HELLO\n")
	assert.Equal(t, ep.String(), reply)

	target, ok := reg.StickyTarget("Client-1")
	require.True(t, ok)
	assert.Equal(t, ep, target)
}

func TestHelloBannedNameIsRejected(t *testing.T) {
	l, reg, cfg := newTestListener(t)
	ep := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(ep)
	cfg.BanName("Mallory")

	reply := roundTrip(t, l, "HELLO Mallory static\n")
	assert.Equal(t, "NO_SERVER_AVAILABLE", reply)
}

func TestHelloNonHelloLineRejected(t *testing.T) {
	l, reg, _ := newTestListener(t)
	ep := registry.Endpoint{Addr: "10.0.0.1", Port: 9001}
	reg.Register(ep)

	reply := roundTrip(t, l, "garbage\n")
	assert.Equal(t, "NO_SERVER_AVAILABLE", reply)
}
