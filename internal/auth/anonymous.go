package auth

import "time"

// AnonymousContext is the zero-handshake credential context used when a
// publisher or resolver requires no authentication. Step completes
// immediately; Wrap/Unwrap are the identity transform.
type AnonymousContext struct{}

func (AnonymousContext) Step(peerToken []byte) ([]byte, bool, error) { return nil, false, nil }
func (AnonymousContext) TTL() time.Duration                          { return 0 }
func (AnonymousContext) Wrap(p []byte) ([]byte, error)               { return p, nil }
func (AnonymousContext) Unwrap(c []byte) ([]byte, error)             { return c, nil }
