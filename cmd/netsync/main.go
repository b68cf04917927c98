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

// Command netsync is the netsync client: it dials a server, drives one
// session to completion against a local object store, and persists
// trust-on-first-use server fingerprints in a small JSON file.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/opensync/netsync/session"
	"github.com/opensync/netsync/storage"
	"github.com/opensync/netsync/storage/memstore"
	"github.com/opensync/netsync/transport"
	"github.com/opensync/netsync/wire"
)

var (
	serverAddr  = flag.String("server", "", "host:port of the netsync server to sync with")
	role        = flag.String("role", "source-and-sink", "role to request: source, sink, or source-and-sink")
	include     = flag.String("include", "*", "branch include pattern")
	exclude     = flag.String("exclude", "", "branch exclude pattern")
	knownFile   = flag.String("known-servers-file", defaultKnownServersFile(), "path to the trust-on-first-use server key store")
	idleTimeout = flag.Duration("idle-timeout", 5*time.Minute, "abort the session after this much inactivity")
)

func defaultKnownServersFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netsync/known_servers.json"
	}
	return filepath.Join(home, ".netsync", "known_servers.json")
}

// knownServers is the on-disk trust-on-first-use server key store,
// mirroring monotone's known-servers file without its format.
type knownServers struct {
	path string
	mu   sync.Mutex
	data map[string]string // peer -> hex fingerprint
}

func loadKnownServers(path string) (*knownServers, error) {
	ks := &knownServers{path: path, data: make(map[string]string)}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &ks.data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return ks, nil
}

func (ks *knownServers) save() error {
	if err := os.MkdirAll(filepath.Dir(ks.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(ks.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ks.path, b, 0o600)
}

// RememberServerKey implements storage.PolicyHooks's trust-on-first-use
// check: the first fingerprint seen for a peer is trusted and recorded;
// any later mismatch is a fatal error, per original_source/netsync.cc's
// process_hello_cmd.
func (ks *knownServers) RememberServerKey(ctx context.Context, peer string, fingerprint []byte) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	fp := fmt.Sprintf("%x", fingerprint)
	if existing, ok := ks.data[peer]; ok {
		if existing != fp {
			return fmt.Errorf("server key for %s changed from %s to %s; remove it from %s if this is expected", peer, existing, fp, ks.path)
		}
		return nil
	}
	ks.data[peer] = fp
	glog.Infof("netsync: trusting new server key for %s on first use", peer)
	return ks.save()
}

// Forget implements adminsvc.KnownServerForgetter.
func (ks *knownServers) Forget(host string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.data, host)
	return ks.save()
}

func (ks *knownServers) ReadAllowed(context.Context, string, string) (bool, error)  { return true, nil }
func (ks *knownServers) WriteAllowed(context.Context, string, string) (bool, error) { return true, nil }

func parseRole(s string) (wire.Role, error) {
	switch s {
	case "source":
		return wire.RoleSource, nil
	case "sink":
		return wire.RoleSink, nil
	case "source-and-sink":
		return wire.RoleSourceAndSink, nil
	default:
		return 0, fmt.Errorf("netsync: unknown -role %q", s)
	}
}

func main() {
	flag.Parse()
	if *serverAddr == "" {
		glog.Exit("netsync: -server is required")
	}

	r, err := parseRole(*role)
	if err != nil {
		glog.Exit(err)
	}

	ks, err := loadKnownServers(*knownFile)
	if err != nil {
		glog.Exit(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	conn, err := transport.DialTCP(ctx, *serverAddr)
	if err != nil {
		glog.Exit(err)
	}
	defer conn.Close()

	store := memstore.New()
	cfg := session.Config{
		Voice:       session.ClientVoice,
		Role:        r,
		Include:     *include,
		Exclude:     *exclude,
		PeerAddr:    *serverAddr,
		Store:       store,
		Ancestry:    store,
		Policy:      ks,
		Matcher:     memstore.GlobMatcher{},
		IdleTimeout: *idleTimeout,
	}
	s := session.New(cfg)

	if err := runClientSession(ctx, conn, s); err != nil {
		glog.Exitf("netsync: session failed: %v", err)
	}
	glog.Info("netsync: sync complete")
}

func runClientSession(ctx context.Context, conn net.Conn, s *session.Session) error {
	r := bufio.NewReader(conn)
	buf := make([]byte, 64*1024)
	sentAnonymous := false

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if derr := s.DeliverInput(ctx, buf[:n]); derr != nil {
				conn.Write(s.OutgoingBytes())
				return derr
			}
			if !sentAnonymous && s.State() == session.Authenticating {
				sentAnonymous = true
				// The key exchange itself is the excluded crypto
				// handshake of spec.md §1; a real deployment negotiates
				// this key out of band before calling SetSessionKey.
				s.SetSessionKey([]byte("placeholder-session-key"))
				if werr := s.SendAnonymous(nil); werr != nil {
					return werr
				}
			}
			if out := s.OutgoingBytes(); len(out) > 0 {
				if _, werr := conn.Write(out); werr != nil {
					return werr
				}
			}
		}
		if s.ReadyToClose() {
			return nil
		}
		if err != nil {
			return err
		}
		if s.IdleExceeded() {
			return fmt.Errorf("idle timeout")
		}
	}
}

var _ storage.PolicyHooks = (*knownServers)(nil)
