// Copyright 2026 The Netsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command netsyncd is the netsync server: it accepts connections,
// drives one session per connection, and exposes Prometheus metrics
// and an adminsvc introspection endpoint alongside the raw listener.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/opensync/netsync/adminsvc"
	"github.com/opensync/netsync/merkle"
	"github.com/opensync/netsync/metrics"
	"github.com/opensync/netsync/session"
	"github.com/opensync/netsync/storage"
	"github.com/opensync/netsync/storage/memstore"
	"github.com/opensync/netsync/storage/sqlstore"
	"github.com/opensync/netsync/transport"
)

var (
	listenAddr   = flag.String("port", fmt.Sprintf(":%d", transport.DefaultPort), "address to listen for netsync connections on")
	adminAddr    = flag.String("admin-addr", ":4692", "address to serve /metrics and adminsvc on")
	dbBackend    = flag.String("db-backend", "memory", "storage backend: memory, mysql, or postgres")
	dsn          = flag.String("dsn", "", "database/sql data source name, required unless -db-backend=memory")
	maxSessions  = flag.Int64("max-sessions", 256, "maximum concurrently open sessions")
	idleTimeout  = flag.Duration("idle-timeout", 5*time.Minute, "close a session after this much inactivity")
	localKeyID   = flag.String("key-id", "netsyncd", "local signing key identifier advertised in hello")
)

type allowAllPolicy struct{}

func (allowAllPolicy) ReadAllowed(context.Context, string, string) (bool, error)  { return true, nil }
func (allowAllPolicy) WriteAllowed(context.Context, string, string) (bool, error) { return true, nil }
func (allowAllPolicy) RememberServerKey(context.Context, string, []byte) error    { return nil }

func openStore() (storage.ObjectStore, storage.AncestryProvider, error) {
	switch *dbBackend {
	case "memory":
		m := memstore.New()
		return m, m, nil
	case "mysql":
		s, err := sqlstore.OpenMySQL(*dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		s, err := sqlstore.OpenPostgres(*dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("netsyncd: unknown -db-backend %q", *dbBackend)
	}
}

func main() {
	flag.Parse()

	store, ancestry, err := openStore()
	if err != nil {
		glog.Exitf("netsyncd: opening storage: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	registry := adminsvc.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		admin := adminsvc.New(registry, nil)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.Handle("/sessions", admin)
		mux.Handle("/sessions/", admin)
		mux.Handle("/known-servers/", admin)
		srv := &http.Server{Addr: *adminAddr, Handler: mux}
		go func() {
			<-gctx.Done()
			srv.Close()
		}()
		glog.Infof("netsyncd: admin/metrics listening on %s", *adminAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return acceptLoop(gctx, store, ancestry, m, registry)
	})

	if err := g.Wait(); err != nil {
		glog.Errorf("netsyncd: exiting: %v", err)
		os.Exit(1)
	}
}

func acceptLoop(ctx context.Context, store storage.ObjectStore, ancestry storage.AncestryProvider, m *metrics.Metrics, registry *adminsvc.Registry) error {
	ln, err := transport.ListenTCP(*listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", *listenAddr, err)
	}
	defer ln.Close()
	glog.Infof("netsyncd: listening on %s", *listenAddr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var open int64
	var nextID uint64

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if atomic.LoadInt64(&open) >= *maxSessions {
			conn.Write(session.RefuseDisabled(nil))
			conn.Close()
			continue
		}

		atomic.AddInt64(&open, 1)
		m.SessionsActive.Inc()
		m.SessionsTotal.Inc()
		id := fmt.Sprintf("s%d", atomic.AddUint64(&nextID, 1))

		go func() {
			defer func() {
				atomic.AddInt64(&open, -1)
				m.SessionsActive.Dec()
				registry.Unregister(id)
				conn.Close()
			}()
			if err := serveConn(ctx, conn, id, store, ancestry, m, registry); err != nil {
				glog.Warningf("netsyncd: session %s: %v", id, err)
			}
		}()
	}
}

func serveConn(ctx context.Context, conn net.Conn, id string, store storage.ObjectStore, ancestry storage.AncestryProvider, m *metrics.Metrics, registry *adminsvc.Registry) error {
	cfg := session.Config{
		Voice:       session.ServerVoice,
		Role:        3, // wire.RoleSourceAndSink; avoids importing wire here just for one constant
		LocalKeyID:  *localKeyID,
		Store:       store,
		Ancestry:    ancestry,
		Keys:        nil,
		Policy:      allowAllPolicy{},
		Matcher:     memstore.GlobMatcher{},
		Metrics:     m,
		IdleTimeout: *idleTimeout,
	}
	s := session.New(cfg)
	registry.Register(id, conn.RemoteAddr().String(), session.ServerVoice, s)

	var serverKey [merkle.IDLen]byte
	if _, err := rand.Read(serverKey[:]); err != nil {
		return fmt.Errorf("generating ephemeral server key: %w", err)
	}
	if err := s.SendHello(ctx, *localKeyID, serverKey[:]); err != nil {
		return err
	}
	if _, err := conn.Write(s.OutgoingBytes()); err != nil {
		return err
	}
	// The real key exchange is excluded crypto (spec.md §1); this
	// placeholder key stands in for it until the client's side installs
	// the matching key out of band, the same stand-in cmd/netsync uses.
	s.SetSessionKey([]byte("placeholder-session-key"))

	r := bufio.NewReader(conn)
	buf := make([]byte, 64*1024)
	for {
		if s.ReadyToClose() {
			return nil
		}
		if s.IdleExceeded() {
			return fmt.Errorf("idle timeout")
		}
		n, err := r.Read(buf)
		if n > 0 {
			if derr := s.DeliverInput(ctx, buf[:n]); derr != nil {
				conn.Write(s.OutgoingBytes())
				return derr
			}
			if out := s.OutgoingBytes(); len(out) > 0 {
				if _, werr := conn.Write(out); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			return err
		}
	}
}
