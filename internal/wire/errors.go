package wire

import "errors"

// Sentinel errors surfaced across the resolver, publisher, and registry
// layers, always checked with errors.Is.
var (
	ErrResolveFailed   = errors.New("wire: resolve failed")
	ErrPathNotFound    = errors.New("wire: no such value")
	ErrAccessDenied    = errors.New("wire: access denied")
	ErrAuthFailed      = errors.New("wire: authentication failed")
	ErrTimedOut        = errors.New("wire: timed out")
	ErrConnectionDied  = errors.New("wire: connection died")
	ErrInvalidData     = errors.New("wire: invalid data")
	ErrHungPublisher   = errors.New("wire: publisher appears hung")
)
