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

// Package refine implements the stateful set-reconciliation engine
// that runs one instance per object type over a session: it consumes
// peer Merkle nodes and emits sub-queries/responses until the local
// and peer object sets' difference is fully determined. Ported from
// original_source/refiner.cc's process_refinement_command case table.
package refine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang/glog"

	"github.com/opensync/netsync/merkle"
)

// ErrQueriesInFlightUnderflow is returned when an incoming response
// would decrement queries-in-flight below zero, a fatal protocol
// violation (spec.md §4.3, §7).
var ErrQueriesInFlightUnderflow = errors.New("refine: queries_in_flight underflow")

// Kind mirrors wire.RefineKind without importing the wire package,
// keeping refine independent of the frame/command encoding.
type Kind int

const (
	Query Kind = iota
	Response
)

// Callbacks is how a Refiner talks to its session: queuing outgoing
// refine/done commands. The session supplies the concrete
// implementation (wire encoding, socket write queue); the refiner
// itself never touches the network. Grounded on
// original_source/refiner.hh's refiner_callbacks interface.
type Callbacks interface {
	QueueRefineCmd(kind Kind, node *merkle.Node) error
	QueueDoneCmd(level int, typ merkle.ObjectType, nItems int) error
}

// Voice is which side of the session a refiner belongs to: the
// "client" sends the first done and waits for the server's echo.
type Voice int

const (
	ClientVoice Voice = iota
	ServerVoice
)

// Refiner drives set reconciliation for one object type over one
// session. One is constructed per refined type (merkle.RefinedTypes);
// NoteLocalItem/ReindexLocalItems populate its trie before
// BeginRefinement starts the exchange.
type Refiner struct {
	Type  merkle.ObjectType
	Voice Voice
	cb    Callbacks

	trie *merkle.Trie

	localItems map[merkle.ID]bool
	peerItems  map[merkle.ID]bool

	queriesInFlight int
	done            bool
	calculatedItems bool

	itemsToSend   []merkle.ID
	itemsToReceive int

	localDoneSent bool
	peerDoneSeen  bool
}

// New constructs a refiner for typ, bound to cb for outgoing commands.
func New(typ merkle.ObjectType, voice Voice, cb Callbacks) *Refiner {
	return &Refiner{
		Type:       typ,
		Voice:      voice,
		cb:         cb,
		trie:       merkle.NewTrie(typ),
		localItems: make(map[merkle.ID]bool),
		peerItems:  make(map[merkle.ID]bool),
	}
}

// NoteLocalItem records a locally-present id, to be indexed into the
// trie by the next ReindexLocalItems call.
func (r *Refiner) NoteLocalItem(id merkle.ID) {
	r.localItems[id] = true
	r.trie.Insert(id, true)
}

// ReindexLocalItems recomputes the local trie's node hashes after a
// batch of NoteLocalItem calls. Must be called before BeginRefinement.
func (r *Refiner) ReindexLocalItems() error {
	_, err := r.trie.RecomputeCodes()
	return err
}

// BeginRefinement queues the initial root-node query and sets
// queries_in_flight to 1, starting the exchange (spec.md §4.3).
func (r *Refiner) BeginRefinement() error {
	root, ok := r.trie.Root()
	if !ok {
		root = merkle.NewEmptyNode(r.Type, 0, nil)
	}
	if err := r.cb.QueueRefineCmd(Query, root); err != nil {
		return err
	}
	r.queriesInFlight = 1
	return nil
}

// Done reports whether this refiner has finished: both sides have
// exchanged done for this type.
func (r *Refiner) Done() bool { return r.done }

// ItemsToSend returns local ids absent from the peer, valid once Done
// reports true.
func (r *Refiner) ItemsToSend() []merkle.ID { return r.itemsToSend }

// ItemsToReceive returns the count the peer reported it will send,
// valid once Done reports true.
func (r *Refiner) ItemsToReceive() int { return r.itemsToReceive }

// ProcessRefinementCommand implements the case table of spec.md §4.3:
// for every slot of the peer node, compare against the corresponding
// local node and react per the (peer slot, local slot) case, tracking
// peer_items and emitting queries/a response as required.
func (r *Refiner) ProcessRefinementCommand(kind Kind, level int, prefix []byte, peerNode *merkle.Node) error {
	if peerNode.Level != level || len(peerNode.Prefix) != len(prefix) {
		return fmt.Errorf("refine: peer node level/prefix mismatch at level %d", level)
	}

	localNode, haveLocal := r.trie.Node(level, prefix)
	if !haveLocal {
		localNode = merkle.NewEmptyNode(r.Type, level, prefix)
	}

	for slot := 0; slot < merkle.NumSlots; slot++ {
		peerSlot := peerNode.Slots[slot]
		localSlot := localNode.Slots[slot]

		if peerSlot.State == merkle.SlotLiveLeaf {
			r.peerItems[peerSlot.Value] = true
		}

		if kind != Query {
			continue
		}

		childPrefix := merkle.ExtendPrefix(prefix, level, slot)

		switch {
		case peerSlot.State == merkle.SlotLiveLeaf && localSlot.State == merkle.SlotSubtree:
			found, err := r.trie.Locate(peerSlot.Value, level+1, childPrefix)
			if err != nil {
				return err
			}
			if found {
				child, ok := r.trie.Node(level+1, childPrefix)
				if ok {
					if err := r.sendQuery(child); err != nil {
						return err
					}
				}
			}

		case peerSlot.State == merkle.SlotSubtree && localSlot.State == merkle.SlotLiveLeaf:
			if err := r.sendSyntheticSubquery(level+1, childPrefix, localSlot.Value); err != nil {
				return err
			}

		case peerSlot.State == merkle.SlotSubtree && localSlot.State == merkle.SlotSubtree:
			if peerSlot.Value == localSlot.Value {
				leaves, err := r.trie.CollectLiveLeaves(level+1, childPrefix)
				if err != nil {
					return err
				}
				for _, id := range leaves {
					r.peerItems[id] = true
				}
			} else {
				child, ok := r.trie.Node(level+1, childPrefix)
				if !ok {
					child = merkle.NewEmptyNode(r.Type, level+1, childPrefix)
				}
				if err := r.sendQuery(child); err != nil {
					return err
				}
			}
		}
	}

	if kind == Query {
		if err := r.cb.QueueRefineCmd(Response, localNode); err != nil {
			return err
		}
	} else {
		r.queriesInFlight--
		if r.queriesInFlight < 0 {
			return ErrQueriesInFlightUnderflow
		}
		if r.queriesInFlight == 0 && r.Voice == ClientVoice && !r.localDoneSent {
			if err := r.sendDone(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Refiner) sendQuery(node *merkle.Node) error {
	if err := r.cb.QueueRefineCmd(Query, node); err != nil {
		return err
	}
	r.queriesInFlight++
	return nil
}

// sendSyntheticSubquery fabricates a one-slot node carrying our own
// leaf at level/prefix and sends it as a query, the workaround for the
// subtree/leaf asymmetry spec.md §4.3 calls out: it preserves the
// invariant that only a query may initiate another query.
func (r *Refiner) sendSyntheticSubquery(level int, prefix []byte, leaf merkle.ID) error {
	node := merkle.NewEmptyNode(r.Type, level, prefix)
	slot := merkle.SlotIndex(leaf, level)
	node.Slots[slot] = merkle.Slot{State: merkle.SlotLiveLeaf, Value: leaf}
	node.TotalLeaves = 1
	glog.V(2).Infof("refine[%s]: sending synthetic subquery at level %d for leaf %s", r.Type, level, leaf)
	return r.sendQuery(node)
}

func (r *Refiner) sendDone() error {
	r.calculateItemsToSend()
	r.localDoneSent = true
	return r.cb.QueueDoneCmd(0, r.Type, len(r.itemsToSend))
}

func (r *Refiner) calculateItemsToSend() {
	if r.calculatedItems {
		return
	}
	var toSend []merkle.ID
	for id, live := range r.localItems {
		if live && !r.peerItems[id] {
			toSend = append(toSend, id)
		}
	}
	sort.Slice(toSend, func(i, j int) bool { return toSend[i].Less(toSend[j]) })
	r.itemsToSend = toSend
	r.calculatedItems = true
}

// ProcessDoneCommand handles a peer's done(n_items): records
// items_to_receive, echoes our own done if we're the server voice, and
// marks the refiner complete once both sides have exchanged done.
func (r *Refiner) ProcessDoneCommand(nItems int) error {
	r.itemsToReceive = nItems
	r.peerDoneSeen = true

	if r.Voice == ServerVoice && !r.localDoneSent {
		if err := r.sendDone(); err != nil {
			return err
		}
	}

	if r.localDoneSent && r.peerDoneSeen {
		r.done = true
		r.trie = merkle.NewTrie(r.Type) // release trie memory once refinement is complete
		glog.V(2).Infof("refine[%s]: complete, items_to_send=%d items_to_receive=%d", r.Type, len(r.itemsToSend), r.itemsToReceive)
	}
	return nil
}
