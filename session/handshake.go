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

package session

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/golang/glog"

	"github.com/opensync/netsync/enumerate"
	"github.com/opensync/netsync/merkle"
	"github.com/opensync/netsync/refine"
	"github.com/opensync/netsync/wire"
)

// ErrAccessDenied is returned when a policy hook refuses a branch the
// client requested, naming the branch per spec.md §4.5 step 5.
type ErrAccessDenied struct{ Branch string }

func (e *ErrAccessDenied) Error() string {
	return fmt.Sprintf("session: access to branch %q denied by server", e.Branch)
}

// ErrEpochMismatch is returned when the two peers' epochs for a branch
// disagree, naming the branch and both epochs per spec.md §7.
type ErrEpochMismatch struct {
	Branch          string
	LocalEpoch      string
	PeerEpoch       string
}

func (e *ErrEpochMismatch) Error() string {
	return fmt.Sprintf("session: epoch mismatch on branch %q: local=%s peer=%s", e.Branch, e.LocalEpoch, e.PeerEpoch)
}

// SendHello is called by the server immediately after accepting a
// connection: it queues hello(server_key_id, server_key, nonce) on the
// session's zero-key pre-auth chain and remembers the nonce for the
// auth signature check. SetSessionKey later replaces both chains once
// the key exchange completes.
func (s *Session) SendHello(ctx context.Context, serverKeyID string, serverKey []byte) error {
	if s.cfg.Voice != ServerVoice || s.state != AwaitingHello {
		return fmt.Errorf("session: SendHello called in state %s", s.state)
	}
	if _, err := rand.Read(s.ourNonce[:]); err != nil {
		return fmt.Errorf("session: generating nonce: %w", err)
	}
	payload := wire.EncodeHello(wire.HelloPayload{ServerKeyID: serverKeyID, ServerKey: serverKey, Nonce: s.ourNonce})
	if err := s.queueFrame(wire.CmdHello, payload); err != nil {
		return err
	}
	s.state = Authenticating
	return nil
}

// processHello handles an incoming hello: trust-on-first-use server
// key verification (spec.md §9 supplemented feature) via
// cfg.Policy.RememberServerKey, and records the server's nonce.
func (s *Session) processHello(ctx context.Context, peerAddr string, p wire.HelloPayload) error {
	if s.state != AwaitingHello {
		return fmt.Errorf("session: hello received in state %s", s.state)
	}
	if err := s.cfg.Policy.RememberServerKey(ctx, peerAddr, p.ServerKey); err != nil {
		return fmt.Errorf("session: server key changed for %s: %w", peerAddr, err)
	}
	s.peerNonce = p.Nonce
	s.state = Authenticating
	glog.V(2).Infof("session: hello accepted from %s", peerAddr)
	return nil
}

// SendAnonymous queues an anonymous auth frame once the session key is
// installed (SetSessionKey must have been called first).
func (s *Session) SendAnonymous(sessionKeyEncrypted []byte) error {
	p := wire.AnonymousPayload{
		Role:                s.cfg.Role,
		IncludePattern:      s.cfg.Include,
		ExcludePattern:      s.cfg.Exclude,
		SessionKeyEncrypted: sessionKeyEncrypted,
	}
	return s.queueFrame(wire.CmdAnonymous, wire.EncodeAnonymous(p))
}

// SendAuth queues a signed auth frame.
func (s *Session) SendAuth(p wire.AuthPayload) error {
	return s.queueFrame(wire.CmdAuth, wire.EncodeAuth(p))
}

// processAuthOrAnonymous implements the server side of step 4/5 of
// spec.md §4.5: determine the candidate branches, walk every one of
// them through the policy hook, and deny naming the specific branch on
// the first refusal — not just a single pass/fail over the pattern as
// a whole (spec.md §9 supplemented feature).
func (s *Session) processAuthOrAnonymous(ctx context.Context, clientKeyID string, anon wire.AnonymousPayload, knownBranches []string) error {
	if s.state != Authenticating {
		return fmt.Errorf("session: auth received in state %s", s.state)
	}

	serverRole := anon.Role.Opposite()
	s.cfg.Role = serverRole

	candidates, err := s.cfg.Matcher.Match(anon.IncludePattern, anon.ExcludePattern, knownBranches)
	if err != nil {
		return fmt.Errorf("session: branch pattern match: %w", err)
	}

	for _, branch := range candidates {
		var allowed bool
		var err error
		if serverRole == wire.RoleSource || serverRole == wire.RoleSourceAndSink {
			allowed, err = s.cfg.Policy.ReadAllowed(ctx, branch, clientKeyID)
		} else {
			allowed, err = s.cfg.Policy.WriteAllowed(ctx, branch, clientKeyID)
		}
		if err != nil {
			return fmt.Errorf("session: policy check for branch %q: %w", branch, err)
		}
		if !allowed {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.AccessDenied.Inc()
			}
			return &ErrAccessDenied{Branch: branch}
		}
	}

	s.agreedBranches = candidates
	s.authenticated = true
	glog.V(2).Infof("session: authenticated, %d branches agreed", len(candidates))
	return s.sendConfirmAndBeginRefinement(ctx)
}

func (s *Session) sendConfirmAndBeginRefinement(ctx context.Context) error {
	if err := s.queueFrame(wire.CmdConfirm, nil); err != nil {
		return err
	}
	return s.beginAllRefinement(ctx)
}

// beginAllRefinement constructs the per-type refiners, seeds their
// local tries from the object store, and starts every refiner's root
// query (spec.md §4.5 step 6: "all four refiners call
// begin_refinement() concurrently").
func (s *Session) beginAllRefinement(ctx context.Context) error {
	voice := refine.ClientVoice
	if s.cfg.Voice == ServerVoice {
		voice = refine.ServerVoice
	}

	for _, typ := range merkle.RefinedTypes() {
		cb := &refinerCallbacks{session: s, typ: typ}
		r := refine.New(typ, voice, cb)

		ids, err := s.cfg.Store.AllIDs(ctx, typ)
		if err != nil {
			return fmt.Errorf("session: loading local %s ids: %w", typ, err)
		}
		for _, id := range ids {
			r.NoteLocalItem(id)
		}
		if err := r.ReindexLocalItems(); err != nil {
			return fmt.Errorf("session: indexing local %s trie: %w", typ, err)
		}
		s.refiners[typ] = r
	}

	s.sink = &enumeratorSink{s}
	s.enumerator = enumerate.New(ancestryAdapter{s.cfg.Ancestry, ctx}, objectStoreAdapter{s.cfg.Store, ctx}, s.sink)

	s.state = Refining
	for _, typ := range merkle.RefinedTypes() {
		if err := s.refiners[typ].BeginRefinement(); err != nil {
			return fmt.Errorf("session: starting %s refinement: %w", typ, err)
		}
	}
	return nil
}
