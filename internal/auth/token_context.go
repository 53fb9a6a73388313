package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrHandshakeMisbehavior is returned when the peer sends a second
// token after the handshake has already completed, mirroring the
// double-token check a Kerberos exchange must make.
var ErrHandshakeMisbehavior = errors.New("auth: unexpected second handshake token")

// TokenContext is a single-round-trip, JWT-backed Context: the client
// sends a signed token, the publisher verifies it and replies with its
// own signed token. The secretbox key for subsequent message wrapping
// is derived via HKDF from the client's initial token bytes.
type TokenContext struct {
	manager *JWTManager
	subject string
	ttl     time.Duration

	step    int
	key     [32]byte
	keyDone bool
}

// NewTokenContext builds a client-side or server-side handshake
// participant. subject identifies the principal this side asserts.
func NewTokenContext(manager *JWTManager, subject string, ttl time.Duration) *TokenContext {
	return &TokenContext{manager: manager, subject: subject, ttl: ttl}
}

func (t *TokenContext) Step(peerToken []byte) ([]byte, bool, error) {
	switch t.step {
	case 0:
		t.step++
		tok, err := t.manager.Generate(t.subject, t.subject, "subscriber")
		if err != nil {
			return nil, false, fmt.Errorf("auth: generate token: %w", err)
		}
		t.deriveKey([]byte(tok))
		return []byte(tok), true, nil
	case 1:
		if peerToken == nil {
			return nil, false, errors.New("auth: expected reply token")
		}
		if _, err := t.manager.Verify(string(peerToken)); err != nil {
			return nil, false, fmt.Errorf("auth: %w: %v", ErrAuthFailedSentinel, err)
		}
		t.step++
		return nil, false, nil
	default:
		return nil, false, ErrHandshakeMisbehavior
	}
}

func (t *TokenContext) deriveKey(secret []byte) {
	h := hkdf.New(sha256.New, secret, nil, []byte("valuemesh-subscriber-channel"))
	io.ReadFull(h, t.key[:])
	t.keyDone = true
}

func (t *TokenContext) TTL() time.Duration { return t.ttl }

func (t *TokenContext) Wrap(plaintext []byte) ([]byte, error) {
	if !t.keyDone {
		return plaintext, nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 24, 24+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &t.key), nil
}

func (t *TokenContext) Unwrap(ciphertext []byte) ([]byte, error) {
	if !t.keyDone {
		return ciphertext, nil
	}
	if len(ciphertext) < 24 {
		return nil, errors.New("auth: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	out, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &t.key)
	if !ok {
		return nil, errors.New("auth: message authentication failed")
	}
	return out, nil
}

// ErrAuthFailedSentinel mirrors wire.ErrAuthFailed without importing the
// wire package, keeping auth dependency-free of the wire protocol types.
var ErrAuthFailedSentinel = errors.New("authentication failed")
