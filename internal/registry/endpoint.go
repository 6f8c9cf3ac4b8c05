// Package registry owns the authoritative set of registered servers and
// their derived state: weight, drain flag, last-seen time, request count,
// RTT, ping history and live-client list. It also owns sticky-session
// memory and the weighted ring consulted by static selection.
package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"clusterlb/internal/lberrors"
)

// Endpoint identifies a registered server by address and port. Identity is
// structural equality of both fields; it is immutable once constructed and
// safe to use as a map key.
type Endpoint struct {
	Addr string
	Port int
}

// String renders the endpoint the way it appears on the wire: "addr:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// ParseEndpoint splits a "host:port" string on the LAST colon, so that a
// bracketed or numeric IPv6 host does not split prematurely.
func ParseEndpoint(s string) (Endpoint, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 || idx == len(s)-1 {
		return Endpoint{}, errors.Wrapf(errUnparseable, "%q", s)
	}
	host := s[:idx]
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Endpoint{}, errors.Wrapf(errUnparseable, "%q", s)
	}
	if host == "" {
		return Endpoint{}, errors.Wrapf(errUnparseable, "%q", s)
	}
	return Endpoint{Addr: host, Port: port}, nil
}

var errUnparseable = errors.Wrap(lberrors.ErrConfigValue, "not a host:port pair")
