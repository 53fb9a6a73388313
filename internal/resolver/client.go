// Package resolver implements the subscriber-side client of the
// resolver lookup protocol: given a batch of paths, it returns the set
// of publisher addresses hosting each one. The resolver server itself
// is a separate, out-of-scope collaborator; this package only speaks
// its external contract.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/valuemesh/subscriber/internal/wire"
)

// Client resolves batches of paths to publisher addresses.
type Client interface {
	Resolve(ctx context.Context, paths []wire.Path) (wire.Resolved, error)
}

// Config mirrors the teacher's broker reconnect-policy shape, repurposed
// here as a retry-across-endpoints policy for resolver RPCs.
type Config struct {
	Addrs           []string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

// DefaultConfig returns sane defaults for a single-resolver deployment.
func DefaultConfig(addr string) Config {
	return Config{
		Addrs:           []string{addr},
		MaxReconnects:   5,
		ReconnectWait:   time.Second,
		ReconnectJitter: 200 * time.Millisecond,
	}
}

type httpClient struct {
	cfg Config
	hc  *http.Client
}

// New builds an HTTP+msgpack resolver client from cfg.
func New(cfg Config) Client {
	return &httpClient{cfg: cfg, hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *httpClient) Resolve(ctx context.Context, paths []wire.Path) (wire.Resolved, error) {
	body, err := msgpack.Marshal(paths)
	if err != nil {
		return wire.Resolved{}, fmt.Errorf("resolver: encode request: %w", err)
	}

	var lastErr error
	addrs := c.shuffledAddrs()
	attempts := c.cfg.MaxReconnects
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		addr := addrs[i%len(addrs)]
		resolved, err := c.resolveOnce(ctx, addr, body)
		if err == nil {
			return resolved, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return wire.Resolved{}, fmt.Errorf("%w: %v", wire.ErrTimedOut, ctx.Err())
		case <-time.After(c.backoff(i)):
		}
	}
	return wire.Resolved{}, fmt.Errorf("%w: %v", wire.ErrResolveFailed, lastErr)
}

func (c *httpClient) resolveOnce(ctx context.Context, addr string, body []byte) (wire.Resolved, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/resolve", bytes.NewReader(body))
	if err != nil {
		return wire.Resolved{}, err
	}
	req.Header.Set("Content-Type", "application/msgpack")

	resp, err := c.hc.Do(req)
	if err != nil {
		return wire.Resolved{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return wire.Resolved{}, fmt.Errorf("resolver: status %d", resp.StatusCode)
	}

	var out wire.Resolved
	dec := msgpack.NewDecoder(resp.Body)
	if err := dec.Decode(&out); err != nil {
		return wire.Resolved{}, fmt.Errorf("resolver: decode reply: %w", err)
	}
	return out, nil
}

func (c *httpClient) shuffledAddrs() []string {
	addrs := append([]string(nil), c.cfg.Addrs...)
	rand.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })
	return addrs
}

func (c *httpClient) backoff(attempt int) time.Duration {
	wait := c.cfg.ReconnectWait * time.Duration(attempt+1)
	if c.cfg.ReconnectJitter > 0 {
		wait += time.Duration(rand.Int64N(int64(c.cfg.ReconnectJitter)))
	}
	return wait
}

// PickAddr chooses one candidate address at random from a resolved
// path's hosting set, matching the registry's connect-phase behavior.
func PickAddr(candidates []wire.AddrToken) (wire.AddrToken, bool) {
	if len(candidates) == 0 {
		return wire.AddrToken{}, false
	}
	return candidates[rand.IntN(len(candidates))], true
}
