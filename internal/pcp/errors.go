package pcp

import "errors"

// Sentinel errors mirror the named statuses the PCP handler returns to
// the application.
var (
	ErrAlreadyAdvertising      = errors.New("pcp: already advertising")
	ErrAlreadyDiscovering      = errors.New("pcp: already discovering")
	ErrOutOfOrderAPICall       = errors.New("pcp: strategy mismatches an active session")
	ErrAlreadyConnected        = errors.New("pcp: already connected to endpoint under this strategy")
	ErrEndpointIOError         = errors.New("pcp: endpoint io error")
	ErrConnectionTimeout       = errors.New("pcp: connection request timed out")
	ErrAuthenticationFailed    = errors.New("pcp: authentication failed")
	ErrUnknownEndpoint         = errors.New("pcp: unknown endpoint")
	ErrUnexpectedFrame         = errors.New("pcp: unexpected frame for current state")
	ErrConnectionRejected      = errors.New("pcp: connection rejected by peer")
	ErrNoMediumSucceeded       = errors.New("pcp: no candidate medium produced a connection")
)
