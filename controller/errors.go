package main

import (
	"context"
	"errors"
	"net"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

// ErrorClass buckets agent errors for user display and retry policy.
type ErrorClass string

const (
	ErrorClassAuth       ErrorClass = "auth"
	ErrorClassConnection ErrorClass = "connection"
	ErrorClassNetwork    ErrorClass = "network"
	ErrorClassServer     ErrorClass = "server"
	ErrorClassPermission ErrorClass = "permission"
	ErrorClassUnknown    ErrorClass = "unknown"
)

// ClassifyError maps a client error to its display class. Authentication
// classes trigger a credential re-prompt; connection classes mark the
// device offline; permission classes surface the whitelist explanation.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}

	var api *apiError
	if errors.As(err, &api) {
		switch api.Tag {
		case protocol.ErrUnauthenticated, protocol.ErrAuthFailed, protocol.ErrTokenExpired:
			return ErrorClassAuth
		case protocol.ErrForbidden, protocol.ErrCommandNotAllowed, protocol.ErrIPBlacklisted:
			return ErrorClassPermission
		case protocol.ErrInternal:
			return ErrorClassServer
		default:
			return ErrorClassServer
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorClassNetwork
		}
		return ErrorClassConnection
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassNetwork
	}

	return ErrorClassUnknown
}
