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

// Package session implements the top-level netsync state machine:
// handshake and authentication (handshake.go), incoming command
// dispatch (dispatch.go), and graceful/error shutdown (shutdown.go).
// It drives one Merkle refiner per refined object type plus one
// revision enumerator, and is the only package that touches the wire
// frame codec directly. Grounded on original_source/netsync.cc's
// session struct and its process()/dispatch_payload() methods.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/opensync/netsync/enumerate"
	"github.com/opensync/netsync/merkle"
	"github.com/opensync/netsync/metrics"
	"github.com/opensync/netsync/refine"
	"github.com/opensync/netsync/storage"
	"github.com/opensync/netsync/wire"
)

// State is one state of the session state machine (spec.md §4.5).
type State int

const (
	AwaitingHello State = iota
	Authenticating
	Refining
	Draining
	Goodbye
	ErrorUnwind
)

func (s State) String() string {
	switch s {
	case AwaitingHello:
		return "awaiting_hello"
	case Authenticating:
		return "authenticating"
	case Refining:
		return "refining"
	case Draining:
		return "draining"
	case Goodbye:
		return "goodbye"
	case ErrorUnwind:
		return "error_unwind"
	default:
		return "unknown"
	}
}

// Voice is which side of the connection a session plays: the side
// that dialed (client) or accepted (server).
type Voice int

const (
	ClientVoice Voice = iota
	ServerVoice
)

// Config bundles a session's collaborators and policy parameters. The
// host constructs one Config per accepted connection (server) or
// outgoing dial (client).
type Config struct {
	Voice    Voice
	Role     wire.Role // the role this side wishes to play (client) or was told to assume (server, after Opposite())
	Include  string
	Exclude  string

	LocalKeyID string

	// PeerAddr identifies the remote side for RememberServerKey's
	// trust-on-first-use bookkeeping (client voice only; a server has
	// no use for it since it is the one being identified).
	PeerAddr string

	Store    storage.ObjectStore
	Ancestry storage.AncestryProvider
	Keys     storage.KeyStore
	Policy   storage.PolicyHooks
	Matcher  storage.BranchMatcher

	Metrics *metrics.Metrics

	IdleTimeout time.Duration
}

// Session is one live netsync connection: its state, refiners,
// enumerator, and the HMAC-chained frame transport. Session owns no
// network I/O itself; the caller feeds it bytes via DeliverInput and
// drains OutgoingBytes, the way an event-loop-driven design requires
// (spec.md §5).
type Session struct {
	cfg   Config
	state State

	readChain  *wire.ChainedHMAC
	writeChain *wire.ChainedHMAC

	inbuf  []byte
	outbuf []byte

	authenticated  bool
	sentGoodbye    bool
	recvGoodbye    bool
	encounteredErr bool

	lastIO time.Time

	agreedBranches []string

	refiners       map[merkle.ObjectType]*refine.Refiner
	enumerator     *enumerate.Enumerator
	sink           *enumeratorSink
	epochValveOpen bool
	dataSent       map[merkle.ObjectType]bool

	peerNonce [merkle.IDLen]byte
	ourNonce  [merkle.IDLen]byte

	branchCatalog []string
	itemsArrived  map[merkle.ObjectType]int
}

// New constructs a Session in its initial state. The caller must call
// SetSessionKey once the key exchange (excluded crypto, spec.md §1) has
// produced the shared session key, before any frame beyond hello can
// be verified.
func New(cfg Config) *Session {
	s := &Session{
		cfg:   cfg,
		state: AwaitingHello,
		// hello is exchanged before any session key exists, authenticated
		// (loosely) by a zero-key chain; SetSessionKey replaces both
		// chains once the key exchange completes.
		readChain:    wire.NewChainedHMAC(nil),
		writeChain:   wire.NewChainedHMAC(nil),
		lastIO:       time.Now(),
		refiners:     make(map[merkle.ObjectType]*refine.Refiner),
		itemsArrived: make(map[merkle.ObjectType]int),
		dataSent:     make(map[merkle.ObjectType]bool),
	}
	return s
}

// SetSessionKey installs the negotiated session key into both HMAC
// chains. Called once, after the handshake's key exchange completes.
func (s *Session) SetSessionKey(key []byte) {
	s.readChain = wire.NewChainedHMAC(key)
	s.writeChain = wire.NewChainedHMAC(key)
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// touch records that I/O occurred, for idle-timeout accounting.
func (s *Session) touch() { s.lastIO = time.Now() }

// IdleExceeded reports whether the session has been idle longer than
// cfg.IdleTimeout, measured with the monotonic clock (spec.md §9 Open
// Questions: time.Since never performs a wall-clock subtraction).
func (s *Session) IdleExceeded() bool {
	if s.cfg.IdleTimeout <= 0 {
		return false
	}
	return time.Since(s.lastIO) > s.cfg.IdleTimeout
}

// queueFrame encodes cmd/payload and appends it to the outgoing byte
// queue.
func (s *Session) queueFrame(cmd wire.CommandCode, payload []byte) error {
	frame, err := wire.WriteFrame(s.writeChain, cmd, payload)
	if err != nil {
		return err
	}
	s.outbuf = append(s.outbuf, frame...)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FramesWritten.Inc()
		s.cfg.Metrics.BytesWritten.Add(float64(len(frame)))
	}
	return nil
}

// OutgoingBytes returns and clears the pending output queue; the
// caller is responsible for writing it to the socket.
func (s *Session) OutgoingBytes() []byte {
	out := s.outbuf
	s.outbuf = nil
	return out
}

// HasPendingOutput reports whether bytes remain to be drained, used by
// the caller's event loop to decide when it is safe to close after
// goodbye or error-unwind.
func (s *Session) HasPendingOutput() bool { return len(s.outbuf) > 0 }

// DeliverInput appends freshly-read bytes to the input queue and
// processes every complete frame currently available. If the session
// is in ErrorUnwind, incoming bytes are silently dropped per spec.md
// §4.5.
func (s *Session) DeliverInput(ctx context.Context, b []byte) error {
	s.touch()
	if s.state == ErrorUnwind {
		return nil
	}
	s.inbuf = append(s.inbuf, b...)

	for {
		frame, consumed, ok, err := wire.ReadFrame(s.readChain, s.inbuf)
		if err != nil {
			if s.cfg.Metrics != nil && errors.Is(err, wire.ErrBadMAC) {
				s.cfg.Metrics.MACFailures.Inc()
			}
			return s.fatal(fmt.Errorf("frame decode: %w", err))
		}
		if !ok {
			break
		}
		s.inbuf = s.inbuf[consumed:]
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.FramesRead.Inc()
			s.cfg.Metrics.BytesRead.Add(float64(consumed))
		}
		if err := s.dispatch(ctx, frame); err != nil {
			return s.fatal(err)
		}
	}
	return nil
}

// fatal enters error-unwind: queues an error frame naming err, marks
// the session so no further input is trusted, and lets output drain.
// Grounded on netsync.cc's session::error()/encountered_error handling
// (spec.md §4.5, §7).
func (s *Session) fatal(err error) error {
	glog.Errorf("session: fatal error, entering error-unwind: %v", err)
	s.encounteredErr = true
	s.state = ErrorUnwind
	// New always creates the write chain, so an error frame is queued
	// even before SetSessionKey; until then it is authenticated with the
	// zero-key pre-auth chain.
	if s.writeChain != nil {
		_ = s.queueFrame(wire.CmdError, wire.EncodeError(wire.ErrorPayload{Message: err.Error()}))
	}
	s.sentGoodbye = true
	return err
}

// RefuseDisabled implements the "service disabled" supplemented
// feature (spec.md §9 Open Questions): a server not currently
// accepting sessions always answers with one error frame and closes,
// rather than hanging up silently. Callers invoke this instead of New
// when refusing a connection outright.
func RefuseDisabled(key []byte) []byte {
	chain := wire.NewChainedHMAC(key)
	frame, err := wire.WriteFrame(chain, wire.CmdError, wire.EncodeError(wire.ErrorPayload{Message: "service temporarily disabled"}))
	if err != nil {
		// EncodeError/WriteFrame cannot fail for a short fixed message;
		// if they ever do, there is nothing more useful to return here.
		return nil
	}
	return frame
}

// maybeAdvanceToDraining moves Refining -> Draining once every refiner
// has finished, every refiner's outgoing items have been sent, and
// every refiner's incoming items have all arrived (spec.md §4.5:
// draining requires all refiners done and all items sent, and bye is
// only queued once nothing remains to receive either).
func (s *Session) maybeAdvanceToDraining(ctx context.Context) error {
	if s.state != Refining {
		return nil
	}
	if err := s.maybeNoteEpochFinished(); err != nil {
		return err
	}
	if err := s.maybeSendAllData(ctx); err != nil {
		return err
	}
	for _, typ := range merkle.RefinedTypes() {
		r, ok := s.refiners[typ]
		if !ok || !r.Done() {
			return nil
		}
		if !s.dataSent[typ] {
			return nil
		}
		if s.itemsArrived[typ] < r.ItemsToReceive() {
			return nil
		}
	}
	s.state = Draining
	return s.maybeSayGoodbye()
}

// maybeNoteEpochFinished implements the epoch valve of spec.md §4.5:
// the database writer (here, simply a boolean guarding Put calls made
// by the enumerator/dispatch) stays closed until the epoch refiner is
// done and either announced no items to receive or every announced
// epoch item has arrived.
func (s *Session) maybeNoteEpochFinished() error {
	if s.epochValveOpen {
		return nil
	}
	epoch, ok := s.refiners[merkle.ObjectEpoch]
	if !ok {
		return nil
	}
	if !epoch.Done() {
		return nil
	}
	if epoch.ItemsToReceive() == 0 || s.itemsArrived[merkle.ObjectEpoch] >= epoch.ItemsToReceive() {
		s.epochValveOpen = true
	}
	return nil
}

// maybeSendAllData queues each refined type's outgoing items exactly
// once, as soon as that type's own refiner reports Done, independent
// of whether the other refiners have finished. Revisions route through
// the enumerator's topological walk (and additionally wait for the
// epoch valve, since a revision's meaning depends on epoch agreement);
// every other refined type is sent directly. Grounded on
// original_source/netsync.cc, which fires send_all_data off each
// refiner's own done() rather than waiting for every refiner to finish.
func (s *Session) maybeSendAllData(ctx context.Context) error {
	for _, typ := range merkle.RefinedTypes() {
		if s.dataSent[typ] {
			continue
		}
		r, ok := s.refiners[typ]
		if !ok || !r.Done() {
			continue
		}
		if typ == merkle.ObjectRevision {
			if !s.epochValveOpen || s.enumerator == nil {
				continue
			}
			if err := s.enumerator.EnumerateRevisions(r.ItemsToSend()); err != nil {
				return err
			}
		} else {
			if err := s.sendAllDataFor(ctx, typ, r.ItemsToSend()); err != nil {
				return err
			}
		}
		s.dataSent[typ] = true
	}
	return nil
}

// sendAllDataFor queues a data frame per id for refined types whose
// items are sent directly rather than through the enumerator's
// revision walk (keys, certs, epochs).
func (s *Session) sendAllDataFor(ctx context.Context, typ merkle.ObjectType, ids []merkle.ID) error {
	for _, id := range ids {
		body, err := s.cfg.Store.Get(ctx, typ, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		if err := s.sink.QueueData(typ, id, body); err != nil {
			return err
		}
	}
	return nil
}

// maybeSayGoodbye queues bye once draining is complete, per spec.md
// §4.5's shutdown rule.
func (s *Session) maybeSayGoodbye() error {
	if s.state != Draining || s.sentGoodbye {
		return nil
	}
	if err := s.queueFrame(wire.CmdBye, nil); err != nil {
		return err
	}
	s.sentGoodbye = true
	return s.maybeClose()
}

func (s *Session) maybeClose() error {
	if s.sentGoodbye && s.recvGoodbye {
		s.state = Goodbye
	}
	return nil
}

// ReadyToClose reports whether the caller may close the underlying
// socket: either a clean goodbye exchange with drained output, or an
// error-unwind with drained output.
func (s *Session) ReadyToClose() bool {
	if s.HasPendingOutput() {
		return false
	}
	switch s.state {
	case Goodbye:
		return true
	case ErrorUnwind:
		return s.sentGoodbye
	default:
		return false
	}
}
