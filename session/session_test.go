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
	"errors"
	"testing"
	"time"

	"github.com/opensync/netsync/merkle"
	"github.com/opensync/netsync/metrics"
	"github.com/opensync/netsync/storage/memstore"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensync/netsync/wire"
)

func idWithFirstByte(b byte) merkle.ID {
	var id merkle.ID
	id[0] = b
	return id
}

type allowAllPolicy struct{}

func (allowAllPolicy) ReadAllowed(ctx context.Context, branch, clientKeyID string) (bool, error) {
	return true, nil
}
func (allowAllPolicy) WriteAllowed(ctx context.Context, branch, clientKeyID string) (bool, error) {
	return true, nil
}
func (allowAllPolicy) RememberServerKey(ctx context.Context, peer string, fingerprint []byte) error {
	return nil
}

type noopKeyStore struct{}

func (noopKeyStore) Sign(ctx context.Context, keyID string, data []byte) ([]byte, error) { return nil, nil }
func (noopKeyStore) Verify(ctx context.Context, keyID string, data, sig []byte) (bool, error) {
	return true, nil
}
func (noopKeyStore) Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
func (noopKeyStore) GetPublicKey(ctx context.Context, keyID string) ([]byte, error) { return nil, nil }

func newTestConfig(voice Voice, store *memstore.Store) Config {
	reg := prometheus.NewRegistry()
	return Config{
		Voice:       voice,
		Role:        wire.RoleSourceAndSink,
		Include:     "*",
		Store:       store,
		Ancestry:    store,
		Keys:        noopKeyStore{},
		Policy:      allowAllPolicy{},
		Matcher:     memstore.GlobMatcher{},
		Metrics:     metrics.New(reg),
		IdleTimeout: time.Hour,
	}
}

func TestSessionIdleExceeded(t *testing.T) {
	s := New(newTestConfig(ClientVoice, memstore.New()))
	s.cfg.IdleTimeout = time.Nanosecond
	time.Sleep(time.Millisecond)
	if !s.IdleExceeded() {
		t.Error("IdleExceeded() = false after timeout elapsed")
	}
}

func TestSessionEpochGateBlocksNonEpochBeforeValveOpen(t *testing.T) {
	s := New(newTestConfig(ServerVoice, memstore.New()))
	if s.epochGateAllows(merkle.ObjectRevision) {
		t.Error("epochGateAllows(revision) = true before valve opened")
	}
	if !s.epochGateAllows(merkle.ObjectEpoch) {
		t.Error("epochGateAllows(epoch) = false, want always true")
	}
	s.epochValveOpen = true
	if !s.epochGateAllows(merkle.ObjectRevision) {
		t.Error("epochGateAllows(revision) = false after valve opened")
	}
}

func TestRefuseDisabledProducesDecodeableErrorFrame(t *testing.T) {
	key := []byte("k")
	frame := RefuseDisabled(key)
	if len(frame) == 0 {
		t.Fatal("RefuseDisabled returned empty frame")
	}
	rd := wire.NewChainedHMAC(key)
	f, consumed, ok, err := wire.ReadFrame(rd, frame)
	if err != nil || !ok {
		t.Fatalf("ReadFrame: ok=%v err=%v", ok, err)
	}
	if consumed != len(frame) {
		t.Errorf("consumed %d, want %d", consumed, len(frame))
	}
	if f.Cmd != wire.CmdError {
		t.Errorf("cmd = %v, want error", f.Cmd)
	}
	p, err := wire.DecodeErrorPayload(f.Payload)
	if err != nil {
		t.Fatalf("DecodeErrorPayload: %v", err)
	}
	if p.Message != "service temporarily disabled" {
		t.Errorf("message = %q", p.Message)
	}
}

func TestCheckEpochAgreementDetectsMismatch(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := New(newTestConfig(ServerVoice, store))

	localID := idWithFirstByte(0x01)
	if err := store.Put(ctx, merkle.ObjectEpoch, localID, encodeEpochPayload("branchA", []byte("epoch-local"))); err != nil {
		t.Fatal(err)
	}

	err := s.checkEpochAgreement(ctx, encodeEpochPayload("branchA", []byte("epoch-peer")))
	var mismatch *ErrEpochMismatch
	if err == nil {
		t.Fatal("checkEpochAgreement returned nil, want *ErrEpochMismatch")
	}
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want *ErrEpochMismatch", err)
	}
	if mismatch.Branch != "branchA" {
		t.Errorf("Branch = %q, want branchA", mismatch.Branch)
	}
}

func TestCheckEpochAgreementAllowsMatchingEpoch(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := New(newTestConfig(ServerVoice, store))

	localID := idWithFirstByte(0x01)
	if err := store.Put(ctx, merkle.ObjectEpoch, localID, encodeEpochPayload("branchA", []byte("same-epoch"))); err != nil {
		t.Fatal(err)
	}

	if err := s.checkEpochAgreement(ctx, encodeEpochPayload("branchA", []byte("same-epoch"))); err != nil {
		t.Errorf("checkEpochAgreement = %v, want nil", err)
	}
}

func TestEnumeratorSinkRefusesToSendWhenSinkOnly(t *testing.T) {
	store := memstore.New()
	cfg := newTestConfig(ClientVoice, store)
	cfg.Role = wire.RoleSink
	s := New(cfg)
	sink := &enumeratorSink{session: s}

	if err := sink.QueueData(merkle.ObjectKey, idWithFirstByte(0x02), []byte("payload")); err != nil {
		t.Fatalf("QueueData: %v", err)
	}
	if len(s.OutgoingBytes()) != 0 {
		t.Error("sink-role session queued an outgoing data frame")
	}
}

// TestTwoSessionConvergence drives a client and server session through
// a full handshake and refinement round entirely in memory (no
// sockets), the way a real connection would exchange frames, and
// checks that each side ends up holding the other's revision. This is
// the wire-level counterpart to the narrower unit tests above.
func TestTwoSessionConvergence(t *testing.T) {
	ctx := context.Background()

	clientStore := memstore.New()
	serverStore := memstore.New()

	clientOnly := idWithFirstByte(0xAA)
	serverOnly := idWithFirstByte(0xBB)
	if err := clientStore.Put(ctx, merkle.ObjectRevision, clientOnly, []byte("client revision")); err != nil {
		t.Fatal(err)
	}
	if err := serverStore.Put(ctx, merkle.ObjectRevision, serverOnly, []byte("server revision")); err != nil {
		t.Fatal(err)
	}

	client := New(newTestConfig(ClientVoice, clientStore))
	server := New(newTestConfig(ServerVoice, serverStore))

	sessionKey := []byte("shared-session-key")

	if err := server.SendHello(ctx, "server-key", []byte("server-public-key")); err != nil {
		t.Fatalf("server.SendHello: %v", err)
	}
	server.SetSessionKey(sessionKey)

	helloBytes := server.OutgoingBytes()
	if err := client.DeliverInput(ctx, helloBytes); err != nil {
		t.Fatalf("client processing hello: %v", err)
	}
	if client.State() != Authenticating {
		t.Fatalf("client state = %s, want authenticating", client.State())
	}
	client.SetSessionKey(sessionKey)
	if err := client.SendAnonymous(nil); err != nil {
		t.Fatalf("client.SendAnonymous: %v", err)
	}

	turn, other := server, client
	pending := client.OutgoingBytes()
	for i := 0; i < 200 && len(pending) > 0; i++ {
		if err := turn.DeliverInput(ctx, pending); err != nil {
			t.Fatalf("DeliverInput: %v", err)
		}
		pending = turn.OutgoingBytes()
		turn, other = other, turn
	}

	if client.State() != Goodbye || server.State() != Goodbye {
		t.Fatalf("client state=%s server state=%s, want goodbye/goodbye", client.State(), server.State())
	}
	if !client.ReadyToClose() || !server.ReadyToClose() {
		t.Fatalf("client/server not ready to close")
	}

	for _, id := range []merkle.ID{clientOnly, serverOnly} {
		if _, err := clientStore.Get(ctx, merkle.ObjectRevision, id); err != nil {
			t.Errorf("client missing revision %s: %v", id, err)
		}
		if _, err := serverStore.Get(ctx, merkle.ObjectRevision, id); err != nil {
			t.Errorf("server missing revision %s: %v", id, err)
		}
	}
}
