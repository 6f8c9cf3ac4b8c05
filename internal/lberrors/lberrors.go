// Package lberrors defines the sentinel error taxonomy shared by every
// listener so protocol failures, capacity failures and config failures can be
// told apart with errors.Is instead of string matching.
package lberrors

import "errors"

var (
	// ErrProtocol marks a malformed line on any of the four listeners.
	ErrProtocol = errors.New("protocol error")

	// ErrNoCapacity marks a selection that found no schedulable server.
	ErrNoCapacity = errors.New("no server available")

	// ErrUnknownEndpoint marks an admin/registry operation naming an
	// endpoint that isn't registered.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrConfigValue marks an admin command with an unparseable argument.
	ErrConfigValue = errors.New("invalid config value")
)
