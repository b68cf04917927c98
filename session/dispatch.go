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
	"fmt"

	"github.com/golang/glog"

	"github.com/opensync/netsync/merkle"
	"github.com/opensync/netsync/refine"
	"github.com/opensync/netsync/storage"
	"github.com/opensync/netsync/wire"
)

// dispatch routes one decoded frame to the right handler, validating
// that the command is legal in the session's current state the way
// netsync.cc's dispatch_payload enforces with require() calls.
func (s *Session) dispatch(ctx context.Context, frame wire.Frame) error {
	switch frame.Cmd {
	case wire.CmdError:
		p, err := wire.DecodeErrorPayload(frame.Payload)
		if err != nil {
			return err
		}
		return fmt.Errorf("session: peer reported error: %s", p.Message)

	case wire.CmdBye:
		return s.processBye()

	case wire.CmdHello:
		if s.cfg.Voice != ClientVoice {
			return fmt.Errorf("session: unexpected hello in server voice")
		}
		p, err := wire.DecodeHello(frame.Payload)
		if err != nil {
			return err
		}
		return s.processHello(ctx, s.cfg.PeerAddr, p)

	case wire.CmdAnonymous:
		if s.cfg.Voice != ServerVoice {
			return fmt.Errorf("session: unexpected anonymous in client voice")
		}
		p, err := wire.DecodeAnonymous(frame.Payload)
		if err != nil {
			return err
		}
		return s.processAuthOrAnonymous(ctx, "", p, s.knownBranches())

	case wire.CmdAuth:
		if s.cfg.Voice != ServerVoice {
			return fmt.Errorf("session: unexpected auth in client voice")
		}
		p, err := wire.DecodeAuth(frame.Payload)
		if err != nil {
			return err
		}
		return s.processAuthOrAnonymous(ctx, merkle.ID(p.ClientKeyID).String(), p.Anonymous, s.knownBranches())

	case wire.CmdConfirm:
		if s.cfg.Voice != ClientVoice || s.state != Authenticating {
			return fmt.Errorf("session: unexpected confirm in state %s", s.state)
		}
		return s.beginAllRefinement(ctx)

	case wire.CmdRefine:
		if s.state != Refining {
			return fmt.Errorf("session: refine command received in state %s", s.state)
		}
		p, err := wire.DecodeRefine(frame.Payload)
		if err != nil {
			return err
		}
		r, ok := s.refiners[p.Node.Type]
		if !ok {
			return fmt.Errorf("session: refine command for unknown type %s", p.Node.Type)
		}
		kind := refine.Query
		if p.Kind == wire.RefineResponse {
			kind = refine.Response
		}
		if err := r.ProcessRefinementCommand(kind, p.Node.Level, p.Node.Prefix, p.Node); err != nil {
			return err
		}
		if kind == refine.Response && s.cfg.Metrics != nil {
			s.cfg.Metrics.QueriesInFlight.WithLabelValues(p.Node.Type.String()).Dec()
		}
		return s.maybeAdvanceToDraining(ctx)

	case wire.CmdDone:
		if s.state != Refining {
			return fmt.Errorf("session: done command received in state %s", s.state)
		}
		p, err := wire.DecodeDone(frame.Payload)
		if err != nil {
			return err
		}
		r, ok := s.refiners[p.Type]
		if !ok {
			return fmt.Errorf("session: done command for unknown type %s", p.Type)
		}
		if err := r.ProcessDoneCommand(int(p.NItems)); err != nil {
			return err
		}
		return s.maybeAdvanceToDraining(ctx)

	case wire.CmdSendData:
		p, err := wire.DecodeSendData(frame.Payload)
		if err != nil {
			return err
		}
		return s.processSendData(ctx, p)

	case wire.CmdSendDelta:
		p, err := wire.DecodeSendDelta(frame.Payload)
		if err != nil {
			return err
		}
		return s.processSendDelta(ctx, p)

	case wire.CmdData:
		p, err := wire.DecodeData(frame.Payload)
		if err != nil {
			return err
		}
		if err := s.processData(ctx, p); err != nil {
			return err
		}
		return s.maybeAdvanceToDraining(ctx)

	case wire.CmdDelta:
		p, err := wire.DecodeDelta(frame.Payload)
		if err != nil {
			return err
		}
		if err := s.processDelta(ctx, p); err != nil {
			return err
		}
		return s.maybeAdvanceToDraining(ctx)

	case wire.CmdNonexistent:
		p, err := wire.DecodeNonexistent(frame.Payload)
		if err != nil {
			return err
		}
		glog.Warningf("session: peer reports %s %s nonexistent", p.Type, p.ID)
		s.noteItemArrived(p.Type)
		return s.maybeAdvanceToDraining(ctx)

	case wire.CmdUsher, wire.CmdUsherReply:
		// Usher multiplexing is out of scope (spec.md §1). The wire
		// package defines these command codes but no payload codec for
		// them, and a session always rejects them as a protocol error.
		return fmt.Errorf("session: usher command received with no usher hook configured")

	default:
		return fmt.Errorf("session: unknown command code %d", byte(frame.Cmd))
	}
}

// knownBranches is a placeholder seam for the host's branch catalog,
// installed with WithKnownBranches. Neither the tests nor the cmd/
// binaries install one, so there the catalog is empty, pattern
// matching yields no candidate branches, and no per-branch policy
// check runs.
func (s *Session) knownBranches() []string { return s.branchCatalog }

// WithKnownBranches installs the branch name catalog a server session
// evaluates include/exclude patterns against.
func (s *Session) WithKnownBranches(branches []string) *Session {
	s.branchCatalog = branches
	return s
}

func (s *Session) processSendData(ctx context.Context, p wire.SendDataPayload) error {
	if !s.epochGateAllows(p.Type) {
		return fmt.Errorf("session: send_data for %s requested before epoch agreement", p.Type)
	}
	body, err := s.cfg.Store.Get(ctx, p.Type, p.ID)
	if err != nil {
		if isNotFound(err) {
			return s.queueFrame(wire.CmdNonexistent, wire.EncodeNonexistent(wire.NonexistentPayload{Type: p.Type, ID: p.ID}))
		}
		return err
	}
	return s.queueFrame(wire.CmdData, wire.EncodeData(wire.DataPayload{Type: p.Type, ID: p.ID, Payload: body}))
}

func (s *Session) processSendDelta(ctx context.Context, p wire.SendDeltaPayload) error {
	delta, err := s.cfg.Store.GetFileDelta(ctx, p.BaseID, p.TargetID)
	if err != nil {
		if isNotFound(err) {
			return s.queueFrame(wire.CmdNonexistent, wire.EncodeNonexistent(wire.NonexistentPayload{Type: p.Type, ID: p.TargetID}))
		}
		return err
	}
	return s.queueFrame(wire.CmdDelta, wire.EncodeDelta(wire.DeltaPayload{Type: p.Type, BaseID: p.BaseID, TargetID: p.TargetID, Delta: delta}))
}

func (s *Session) processData(ctx context.Context, p wire.DataPayload) error {
	if !s.epochGateAllows(p.Type) {
		return fmt.Errorf("session: data for %s committed before epoch agreement", p.Type)
	}
	if p.Type == merkle.ObjectEpoch {
		if err := s.checkEpochAgreement(ctx, p.Payload); err != nil {
			return err
		}
	}
	if err := s.cfg.Store.Put(ctx, p.Type, p.ID, p.Payload); err != nil {
		return err
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ItemsReceived.WithLabelValues(p.Type.String()).Inc()
	}
	s.noteItemArrived(p.Type)
	return nil
}

func (s *Session) processDelta(ctx context.Context, p wire.DeltaPayload) error {
	base, err := s.cfg.Store.Get(ctx, p.Type, p.BaseID)
	if err != nil {
		return fmt.Errorf("session: applying delta: missing base %s: %w", p.BaseID, err)
	}
	_ = base // delta application is the excluded diff/merge machinery (spec.md §1); the host supplies it via ObjectStore.Put below in a real deployment
	if err := s.cfg.Store.Put(ctx, p.Type, p.TargetID, p.Delta); err != nil {
		return err
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ItemsReceived.WithLabelValues(p.Type.String()).Inc()
	}
	s.noteItemArrived(p.Type)
	return nil
}

// noteItemArrived counts one more arrived item of typ, including items
// the peer reported nonexistent, so maybeAdvanceToDraining's
// itemsArrived >= ItemsToReceive check is met even when some items
// never arrive (original_source/netsync.cc's note_item_arrived).
func (s *Session) noteItemArrived(typ merkle.ObjectType) {
	s.itemsArrived[typ]++
	if typ == merkle.ObjectEpoch {
		_ = s.maybeNoteEpochFinished()
	}
}

// epochGateAllows implements the database-writer valve of spec.md
// §4.5: no type other than epoch itself may commit data until the
// epoch refiner has finished and every epoch item it announced has
// arrived (see maybeNoteEpochFinished).
func (s *Session) epochGateAllows(typ merkle.ObjectType) bool {
	if typ == merkle.ObjectEpoch {
		return true
	}
	return s.epochValveOpen
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
