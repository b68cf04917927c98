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

// Package enumerate walks the revision items a refiner decided to
// send and produces the ordered stream of data/delta commands needed
// to transmit them, per spec.md §4.4. No equivalent file survived in
// the retained original_source set; the callback shape here is modeled
// on netsync.cc's note_rev/note_file_data/note_file_delta/
// process_this_rev calls.
package enumerate

import (
	"fmt"
	"sort"

	"github.com/golang/glog"

	"github.com/opensync/netsync/merkle"
)

// AncestryProvider is the excluded collaborator that supplies revision
// graph structure (spec.md §6).
type AncestryProvider interface {
	Parents(rev merkle.ID) ([]merkle.ID, error)
}

// ObjectStore is the excluded collaborator that supplies object bytes
// and, for files, the set of referenced file ids plus any usable delta
// base (spec.md §6).
type ObjectStore interface {
	Get(typ merkle.ObjectType, id merkle.ID) ([]byte, error)
	FilesReferencedBy(rev merkle.ID) ([]merkle.ID, error)
	DeltaBase(fileID merkle.ID) (base merkle.ID, ok bool, err error)
	CertsFor(rev merkle.ID) ([]merkle.ID, error)
}

// Sink is how the enumerator emits commands; the session supplies the
// concrete implementation (wire encoding and the session's outgoing
// queue).
type Sink interface {
	QueueData(typ merkle.ObjectType, id merkle.ID, payload []byte) error
	QueueDelta(typ merkle.ObjectType, baseID, targetID merkle.ID, delta []byte) error
}

// Enumerator walks a revision items_to_send set in topological order,
// emitting the commands needed to transmit each revision's metadata,
// referenced files, and certs.
type Enumerator struct {
	ancestry AncestryProvider
	store    ObjectStore
	sink     Sink

	// sentFiles tracks file ids already queued this session, so a file
	// referenced by multiple revisions in the batch is sent only once.
	sentFiles map[merkle.ID]bool
}

// New constructs an Enumerator bound to its collaborators.
func New(ancestry AncestryProvider, store ObjectStore, sink Sink) *Enumerator {
	return &Enumerator{
		ancestry:  ancestry,
		store:     store,
		sink:      sink,
		sentFiles: make(map[merkle.ID]bool),
	}
}

// EnumerateRevisions walks itemsToSend (revision ids the local
// refiner determined the peer lacks) in ancestors-before-descendants
// order and queues the commands required to transmit each one.
func (e *Enumerator) EnumerateRevisions(itemsToSend []merkle.ID) error {
	ordered, err := topoSort(itemsToSend, e.ancestry)
	if err != nil {
		return err
	}
	for _, rev := range ordered {
		if err := e.enumerateOne(rev); err != nil {
			return fmt.Errorf("enumerate: revision %s: %w", rev, err)
		}
	}
	return nil
}

func (e *Enumerator) enumerateOne(rev merkle.ID) error {
	body, err := e.store.Get(merkle.ObjectRevision, rev)
	if err != nil {
		return err
	}
	if err := e.sink.QueueData(merkle.ObjectRevision, rev, body); err != nil {
		return err
	}
	glog.V(2).Infof("enumerate: queued revision %s (%d bytes)", rev, len(body))

	files, err := e.store.FilesReferencedBy(rev)
	if err != nil {
		return err
	}
	for _, f := range files {
		if e.sentFiles[f] {
			continue
		}
		if err := e.enumerateFile(f); err != nil {
			return err
		}
		e.sentFiles[f] = true
	}

	certs, err := e.store.CertsFor(rev)
	if err != nil {
		return err
	}
	for _, c := range certs {
		body, err := e.store.Get(merkle.ObjectCert, c)
		if err != nil {
			return err
		}
		if err := e.sink.QueueData(merkle.ObjectCert, c, body); err != nil {
			return err
		}
	}
	return nil
}

func (e *Enumerator) enumerateFile(target merkle.ID) error {
	base, haveBase, err := e.store.DeltaBase(target)
	if err != nil {
		return err
	}
	if haveBase {
		delta, err := e.store.Get(merkle.ObjectFile, target)
		if err != nil {
			return err
		}
		return e.sink.QueueDelta(merkle.ObjectFile, base, target, delta)
	}
	body, err := e.store.Get(merkle.ObjectFile, target)
	if err != nil {
		return err
	}
	return e.sink.QueueData(merkle.ObjectFile, target, body)
}

// topoSort orders revs so that every revision appears after all of its
// ancestors that are also in revs, using a standard DFS-based
// topological sort. Revisions outside the set are not visited.
func topoSort(revs []merkle.ID, ancestry AncestryProvider) ([]merkle.ID, error) {
	in := make(map[merkle.ID]bool, len(revs))
	for _, r := range revs {
		in[r] = true
	}

	visited := make(map[merkle.ID]int) // 0=unvisited 1=in-progress 2=done
	var order []merkle.ID

	// Sort the input first so that when multiple valid orderings exist,
	// the result is deterministic across runs.
	sorted := append([]merkle.ID(nil), revs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	var visit func(r merkle.ID) error
	visit = func(r merkle.ID) error {
		switch visited[r] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("enumerate: cycle detected in revision ancestry at %s", r)
		}
		visited[r] = 1
		parents, err := ancestry.Parents(r)
		if err != nil {
			return err
		}
		sortedParents := append([]merkle.ID(nil), parents...)
		sort.Slice(sortedParents, func(i, j int) bool { return sortedParents[i].Less(sortedParents[j]) })
		for _, p := range sortedParents {
			if !in[p] {
				continue
			}
			if err := visit(p); err != nil {
				return err
			}
		}
		visited[r] = 2
		order = append(order, r)
		return nil
	}

	for _, r := range sorted {
		if err := visit(r); err != nil {
			return nil, err
		}
	}
	return order, nil
}
