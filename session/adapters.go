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

	"github.com/opensync/netsync/merkle"
	"github.com/opensync/netsync/refine"
	"github.com/opensync/netsync/storage"
	"github.com/opensync/netsync/wire"
)

// refinerCallbacks implements refine.Callbacks by queuing wire frames
// on the owning session.
type refinerCallbacks struct {
	session *Session
	typ     merkle.ObjectType
}

func (c *refinerCallbacks) QueueRefineCmd(kind refine.Kind, node *merkle.Node) error {
	wireKind := wire.RefineQuery
	if kind == refine.Response {
		wireKind = wire.RefineResponse
	}
	payload, err := wire.EncodeRefine(wire.RefinePayload{Kind: wireKind, Node: node})
	if err != nil {
		return err
	}
	if wireKind == wire.RefineQuery && c.session.cfg.Metrics != nil {
		c.session.cfg.Metrics.QueriesInFlight.WithLabelValues(c.typ.String()).Inc()
	}
	return c.session.queueFrame(wire.CmdRefine, payload)
}

func (c *refinerCallbacks) QueueDoneCmd(level int, typ merkle.ObjectType, nItems int) error {
	payload := wire.EncodeDone(wire.DonePayload{Level: uint64(level), Type: typ, NItems: uint64(nItems)})
	return c.session.queueFrame(wire.CmdDone, payload)
}

// ancestryAdapter narrows storage.AncestryProvider to the smaller
// surface enumerate.AncestryProvider needs, binding a fixed context.
type ancestryAdapter struct {
	store storage.AncestryProvider
	ctx   context.Context
}

func (a ancestryAdapter) Parents(rev merkle.ID) ([]merkle.ID, error) {
	return a.store.Parents(a.ctx, rev)
}

// objectStoreAdapter adapts storage.ObjectStore to enumerate.ObjectStore.
type objectStoreAdapter struct {
	store storage.ObjectStore
	ctx   context.Context
}

func (a objectStoreAdapter) Get(typ merkle.ObjectType, id merkle.ID) ([]byte, error) {
	return a.store.Get(a.ctx, typ, id)
}

func (a objectStoreAdapter) FilesReferencedBy(rev merkle.ID) ([]merkle.ID, error) {
	// File references are part of the excluded revision data model
	// (spec.md §1). storage.ObjectStore has no accessor for them, so
	// this adapter reports no files and the enumerator sends none.
	return nil, nil
}

func (a objectStoreAdapter) DeltaBase(fileID merkle.ID) (merkle.ID, bool, error) {
	return merkle.ID{}, false, nil
}

func (a objectStoreAdapter) CertsFor(rev merkle.ID) ([]merkle.ID, error) {
	return nil, nil
}

// enumeratorSink implements enumerate.Sink by queuing wire frames.
type enumeratorSink struct {
	session *Session
}

// QueueData queues an outgoing data frame, unless this side's agreed
// role is sink-only: a sink never pushes data to its peer, it only
// receives (spec.md §4.5 Role semantics). Grounded on
// original_source/netsync.cc's queue_data_cmd, which returns
// immediately when role == sink_role.
func (s *enumeratorSink) QueueData(typ merkle.ObjectType, id merkle.ID, payload []byte) error {
	if s.session.cfg.Role == wire.RoleSink {
		return nil
	}
	if err := s.session.queueFrame(wire.CmdData, wire.EncodeData(wire.DataPayload{Type: typ, ID: id, Payload: payload})); err != nil {
		return err
	}
	if s.session.cfg.Metrics != nil {
		s.session.cfg.Metrics.ItemsSent.WithLabelValues(typ.String()).Inc()
	}
	return nil
}

// QueueDelta is QueueData's delta-frame counterpart; see its role check.
func (s *enumeratorSink) QueueDelta(typ merkle.ObjectType, baseID, targetID merkle.ID, delta []byte) error {
	if s.session.cfg.Role == wire.RoleSink {
		return nil
	}
	if err := s.session.queueFrame(wire.CmdDelta, wire.EncodeDelta(wire.DeltaPayload{Type: typ, BaseID: baseID, TargetID: targetID, Delta: delta})); err != nil {
		return err
	}
	if s.session.cfg.Metrics != nil {
		s.session.cfg.Metrics.ItemsSent.WithLabelValues(typ.String()).Inc()
	}
	return nil
}
