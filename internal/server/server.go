// Package server wires a Subscriber together with its debug
// introspection feed and Prometheus metrics endpoint into one daemon
// process, with the teacher's graceful-shutdown orchestration: ordered
// teardown driven by a context cancellation and a WaitGroup with a
// bounded wait.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valuemesh/subscriber/internal/auth"
	"github.com/valuemesh/subscriber/internal/config"
	"github.com/valuemesh/subscriber/internal/debugws"
	"github.com/valuemesh/subscriber/internal/metrics"
	"github.com/valuemesh/subscriber/internal/registry"
	"github.com/valuemesh/subscriber/internal/resolver"
	"github.com/valuemesh/subscriber/internal/wire"
	"github.com/valuemesh/subscriber/pkg/subscriber"
)

// hubSink feeds every registry state transition into the debug
// websocket hub as an Event, implementing registry.EventSink.
type hubSink struct{ hub *debugws.Hub }

func (h hubSink) ConnectionUp(addr string) {
	h.hub.Publish(debugws.Event{Type: debugws.EventConnectionUp, Timestamp: time.Now().UnixMilli(), Addr: addr})
}

func (h hubSink) ConnectionDown(addr string) {
	h.hub.Publish(debugws.Event{Type: debugws.EventConnectionDown, Timestamp: time.Now().UnixMilli(), Addr: addr})
}

func (h hubSink) SubscribedPath(p wire.Path) {
	h.hub.Publish(debugws.Event{Type: debugws.EventSubscribedPath, Timestamp: time.Now().UnixMilli(), Path: string(p)})
}

func (h hubSink) UnsubscribedPath(p wire.Path) {
	h.hub.Publish(debugws.Event{Type: debugws.EventUnsubscribedPath, Timestamp: time.Now().UnixMilli(), Path: string(p)})
}

func (h hubSink) DurableStateChanged(subID wire.SubID, alive bool) {
	h.hub.Publish(debugws.Event{Type: debugws.EventDurableStateChanged, Timestamp: time.Now().UnixMilli(), SubID: uint64(subID), Alive: alive})
}

var _ registry.EventSink = hubSink{}
var _ registry.MetricsSink = (*metrics.Registry)(nil)

// Server bundles a Subscriber with its operational surface (debug
// websocket feed, Prometheus metrics, health endpoint).
type Server struct {
	cfg    *config.Config
	logger *log.Logger

	sub *subscriber.Subscriber
	hub *debugws.Hub
	reg *metrics.Registry
	sys *metrics.SystemSampler

	httpServer *http.Server
	jwtMgr     *auth.JWTManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component from cfg.
func New(cfg *config.Config) *Server {
	logger := log.New(os.Stdout, "[subscriber] ", log.LstdFlags)
	ctx, cancel := context.WithCancel(context.Background())

	reg := metrics.NewRegistry()
	sys := metrics.NewSystemSampler()
	hub := debugws.NewHub(logger)

	resolverCfg := resolver.Config{
		Addrs:           cfg.Resolver.Addrs,
		MaxReconnects:   cfg.Resolver.MaxReconnects,
		ReconnectWait:   cfg.ReconnectWait(),
		ReconnectJitter: cfg.ReconnectJitter(),
	}

	var authFn func(addr, spn string) auth.Context
	var jwtMgr *auth.JWTManager
	if cfg.Auth.Mode == "token" {
		jwtMgr = auth.NewJWTManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenExpiration)*time.Second)
		authFn = func(addr, spn string) auth.Context {
			return auth.NewTokenContext(jwtMgr, spn, time.Duration(cfg.Auth.TokenExpiration)*time.Second)
		}
	}

	sub := subscriber.New(subscriber.Config{
		Resolver:    resolverCfg,
		AuthContext: authFn,
		Logger:      logger,
	})
	sub.SetEventSink(hubSink{hub: hub})
	sub.SetMetricsSink(reg)

	return &Server{
		cfg:    cfg,
		logger: logger,
		sub:    sub,
		hub:    hub,
		reg:    reg,
		sys:    sys,
		jwtMgr: jwtMgr,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscriber exposes the underlying Subscriber for callers embedding
// Server in their own process (e.g. the demo CLI).
func (s *Server) Subscriber() *subscriber.Subscriber { return s.sub }

// setupHTTPServer wires the debug/metrics surface, gated behind the JWT
// manager's AuthMiddleware/WebSocketAuth whenever cfg.Auth.Mode is
// "token" — an operator pointing the debug feed at a publicly reachable
// host doesn't get anonymous read access to connection/subscribe state
// for free.
func (s *Server) setupHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/debug/ws", s.handleDebugWS)
	mux.HandleFunc("/debug/system", s.protect(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.sys.Info())
	}))
	if s.cfg.Metrics.EnablePrometheus {
		mux.Handle(s.cfg.Metrics.MetricsPath, s.protect(promhttp.Handler().ServeHTTP))
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Debug.Host, s.cfg.Debug.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: corsMiddleware(mux)}
}

// protect wraps next with JWT auth when a manager is configured, and is
// a no-op otherwise.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	if s.jwtMgr == nil {
		return next
	}
	return s.jwtMgr.AuthMiddleware(next)
}

func (s *Server) handleDebugWS(w http.ResponseWriter, r *http.Request) {
	if s.jwtMgr != nil {
		if _, err := s.jwtMgr.WebSocketAuth(r); err != nil {
			http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}
	}
	if err := debugws.ServeWS(s.hub, w, r, s.logger); err != nil {
		s.logger.Printf("server: debug websocket upgrade failed: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": s.reg.Uptime().String(),
	})
}

// Start runs the debug HTTP server (when enabled) and the system
// metrics sampler, then blocks until a shutdown signal arrives.
func (s *Server) Start() error {
	if s.cfg.Debug.Enable {
		s.setupHTTPServer()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Printf("server: debug HTTP listening on %s", s.httpServer.Addr)
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Printf("server: http server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		metrics.RunSampler(s.sys, s.reg, s.cfg.MetricsUpdateInterval(), s.ctx.Done())
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		s.logger.Printf("server: received signal %v, shutting down", sig)
	case <-s.ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown performs ordered teardown: cancel, stop HTTP with a bounded
// timeout, stop the subscriber, then wait (with a bound) for every
// background goroutine to exit.
func (s *Server) Shutdown() error {
	s.cancel()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("server: http shutdown error: %v", err)
		}
	}

	s.hub.Shutdown()
	s.sub.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Printf("server: shutdown timed out waiting for goroutines")
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
