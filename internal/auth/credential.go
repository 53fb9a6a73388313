// Package auth models the opaque credential context a connection actor
// negotiates during its handshake with a publisher, and the per-message
// wrap/unwrap transform bound once that handshake succeeds. Kerberos,
// TLS client certs, or any other stateful credential scheme is expected
// to sit behind this same interface; this package ships a JWT-backed
// implementation plus the zero-handshake anonymous default.
package auth

import "time"

// Context is a stateful, multi-step credential handshake plus the
// symmetric transform it establishes for message integrity once bound to
// a Channel. Step is called with the peer's most recent token (nil on
// the first call) and returns the next token to send, or ok=false once
// the handshake is complete and no further token is needed.
type Context interface {
	Step(peerToken []byte) (next []byte, ok bool, err error)
	TTL() time.Duration
	Wrap(plaintext []byte) ([]byte, error)
	Unwrap(ciphertext []byte) ([]byte, error)
}
