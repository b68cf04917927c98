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

package refine

import (
	"sort"
	"testing"

	"github.com/opensync/netsync/merkle"
)

// pairHarness wires two refiners back to back in-process, the way
// original_source/refiner.cc's unit tests used a refiner_pair: each
// side's outgoing commands are queued and drained into the other
// side's Process* calls until both report Done.
type pairHarness struct {
	t           *testing.T
	a, b        *Refiner
	aOutbox     []queued
	bOutbox     []queued
}

type queued struct {
	isDone bool
	kind   Kind
	node   *merkle.Node
	nItems int
}

type sideCallbacks struct {
	h      *pairHarness
	isSide string
}

func (s *sideCallbacks) QueueRefineCmd(kind Kind, node *merkle.Node) error {
	q := queued{kind: kind, node: node}
	if s.isSide == "a" {
		s.h.aOutbox = append(s.h.aOutbox, q)
	} else {
		s.h.bOutbox = append(s.h.bOutbox, q)
	}
	return nil
}

func (s *sideCallbacks) QueueDoneCmd(level int, typ merkle.ObjectType, nItems int) error {
	q := queued{isDone: true, nItems: nItems}
	if s.isSide == "a" {
		s.h.aOutbox = append(s.h.aOutbox, q)
	} else {
		s.h.bOutbox = append(s.h.bOutbox, q)
	}
	return nil
}

func runPair(t *testing.T, idsA, idsB []merkle.ID) (*Refiner, *Refiner) {
	t.Helper()
	h := &pairHarness{t: t}
	a := New(merkle.ObjectRevision, ClientVoice, &sideCallbacks{h: h, isSide: "a"})
	b := New(merkle.ObjectRevision, ServerVoice, &sideCallbacks{h: h, isSide: "b"})
	h.a, h.b = a, b

	for _, id := range idsA {
		a.NoteLocalItem(id)
	}
	for _, id := range idsB {
		b.NoteLocalItem(id)
	}
	if err := a.ReindexLocalItems(); err != nil {
		t.Fatalf("a.ReindexLocalItems: %v", err)
	}
	if err := b.ReindexLocalItems(); err != nil {
		t.Fatalf("b.ReindexLocalItems: %v", err)
	}

	if err := a.BeginRefinement(); err != nil {
		t.Fatalf("a.BeginRefinement: %v", err)
	}
	if err := b.BeginRefinement(); err != nil {
		t.Fatalf("b.BeginRefinement: %v", err)
	}

	for i := 0; i < 10000 && !(a.Done() && b.Done()); i++ {
		drained := false
		for len(h.aOutbox) > 0 {
			msg := h.aOutbox[0]
			h.aOutbox = h.aOutbox[1:]
			deliverTo(t, b, msg)
			drained = true
		}
		for len(h.bOutbox) > 0 {
			msg := h.bOutbox[0]
			h.bOutbox = h.bOutbox[1:]
			deliverTo(t, a, msg)
			drained = true
		}
		if !drained {
			break
		}
	}

	if !a.Done() || !b.Done() {
		t.Fatalf("refinement did not converge: a.Done=%v b.Done=%v", a.Done(), b.Done())
	}
	return a, b
}

func deliverTo(t *testing.T, r *Refiner, msg queued) {
	t.Helper()
	if msg.isDone {
		if err := r.ProcessDoneCommand(msg.nItems); err != nil {
			t.Fatalf("ProcessDoneCommand: %v", err)
		}
		return
	}
	if err := r.ProcessRefinementCommand(msg.kind, msg.node.Level, msg.node.Prefix, msg.node); err != nil {
		t.Fatalf("ProcessRefinementCommand: %v", err)
	}
}

func sortedIDs(ids []merkle.ID) []merkle.ID {
	out := append([]merkle.ID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func idsEqual(t *testing.T, got, want []merkle.ID) {
	t.Helper()
	got = sortedIDs(got)
	want = sortedIDs(want)
	if len(got) != len(want) {
		t.Fatalf("got %d ids, want %d: got=%v want=%v", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("ids differ at %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func id(b byte) merkle.ID {
	var out merkle.ID
	out[0] = b
	out[1] = b ^ 0x5A
	out[2] = b >> 1
	return out
}

func TestRefinerEmptyVsEmpty(t *testing.T) {
	a, b := runPair(t, nil, nil)
	if len(a.ItemsToSend()) != 0 || len(b.ItemsToSend()) != 0 {
		t.Errorf("expected no items to send either way, got a=%v b=%v", a.ItemsToSend(), b.ItemsToSend())
	}
	if a.ItemsToReceive() != 0 || b.ItemsToReceive() != 0 {
		t.Errorf("expected zero items_to_receive, got a=%d b=%d", a.ItemsToReceive(), b.ItemsToReceive())
	}
}

func TestRefinerOneSidedSmallDelta(t *testing.T) {
	id1, id2, id3 := id(1), id(2), id(3)
	a, b := runPair(t, []merkle.ID{id1, id2, id3}, []merkle.ID{id1, id2})

	idsEqual(t, a.ItemsToSend(), []merkle.ID{id3})
	idsEqual(t, b.ItemsToSend(), nil)
	if a.ItemsToReceive() != 0 {
		t.Errorf("a.ItemsToReceive() = %d, want 0", a.ItemsToReceive())
	}
	if b.ItemsToReceive() != 1 {
		t.Errorf("b.ItemsToReceive() = %d, want 1", b.ItemsToReceive())
	}
}

func TestRefinerSymmetricDifference(t *testing.T) {
	id1, id2, id3, id4, id5 := id(1), id(2), id(3), id(4), id(5)
	a, b := runPair(t, []merkle.ID{id1, id2, id3}, []merkle.ID{id1, id4, id5})

	idsEqual(t, a.ItemsToSend(), []merkle.ID{id2, id3})
	idsEqual(t, b.ItemsToSend(), []merkle.ID{id4, id5})
	if a.ItemsToReceive() != 2 {
		t.Errorf("a.ItemsToReceive() = %d, want 2", a.ItemsToReceive())
	}
	if b.ItemsToReceive() != 2 {
		t.Errorf("b.ItemsToReceive() = %d, want 2", b.ItemsToReceive())
	}
}

func TestRefinerLargeSharedCore(t *testing.T) {
	shared := make([]merkle.ID, 0, 1000)
	for i := 0; i < 1000; i++ {
		var idv merkle.ID
		idv[0] = byte(i)
		idv[1] = byte(i >> 8)
		idv[2] = byte(i >> 16)
		shared = append(shared, idv)
	}
	onlyA := id(0xAA)
	onlyB := id(0xBB)

	a, b := runPair(t, append(append([]merkle.ID(nil), shared...), onlyA), append(append([]merkle.ID(nil), shared...), onlyB))

	idsEqual(t, a.ItemsToSend(), []merkle.ID{onlyA})
	idsEqual(t, b.ItemsToSend(), []merkle.ID{onlyB})
}
