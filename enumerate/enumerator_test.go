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

package enumerate

import (
	"fmt"
	"testing"

	"github.com/opensync/netsync/merkle"
)

type fakeAncestry struct {
	parents map[merkle.ID][]merkle.ID
}

func (f *fakeAncestry) Parents(rev merkle.ID) ([]merkle.ID, error) {
	return f.parents[rev], nil
}

type fakeStore struct {
	revBody map[merkle.ID][]byte
	files   map[merkle.ID][]merkle.ID
	certs   map[merkle.ID][]merkle.ID
}

func (f *fakeStore) Get(typ merkle.ObjectType, id merkle.ID) ([]byte, error) {
	if b, ok := f.revBody[id]; ok {
		return b, nil
	}
	return []byte(fmt.Sprintf("body-%s-%s", typ, id)), nil
}

func (f *fakeStore) FilesReferencedBy(rev merkle.ID) ([]merkle.ID, error) { return f.files[rev], nil }

func (f *fakeStore) DeltaBase(fileID merkle.ID) (merkle.ID, bool, error) { return merkle.ID{}, false, nil }

func (f *fakeStore) CertsFor(rev merkle.ID) ([]merkle.ID, error) { return f.certs[rev], nil }

type recordingSink struct {
	dataCalls  []string
	deltaCalls []string
}

func (s *recordingSink) QueueData(typ merkle.ObjectType, id merkle.ID, payload []byte) error {
	s.dataCalls = append(s.dataCalls, fmt.Sprintf("%s:%s", typ, id))
	return nil
}

func (s *recordingSink) QueueDelta(typ merkle.ObjectType, baseID, targetID merkle.ID, delta []byte) error {
	s.deltaCalls = append(s.deltaCalls, fmt.Sprintf("%s:%s->%s", typ, baseID, targetID))
	return nil
}

func revID(b byte) merkle.ID {
	var id merkle.ID
	id[0] = b
	return id
}

func TestEnumeratorOrdersAncestorsBeforeDescendants(t *testing.T) {
	root := revID(1)
	child := revID(2)
	grandchild := revID(3)

	ancestry := &fakeAncestry{parents: map[merkle.ID][]merkle.ID{
		child:      {root},
		grandchild: {child},
	}}
	store := &fakeStore{
		revBody: map[merkle.ID][]byte{},
		files:   map[merkle.ID][]merkle.ID{},
		certs:   map[merkle.ID][]merkle.ID{},
	}
	sink := &recordingSink{}
	e := New(ancestry, store, sink)

	if err := e.EnumerateRevisions([]merkle.ID{grandchild, root, child}); err != nil {
		t.Fatalf("EnumerateRevisions: %v", err)
	}

	want := []string{
		fmt.Sprintf("revision:%s", root),
		fmt.Sprintf("revision:%s", child),
		fmt.Sprintf("revision:%s", grandchild),
	}
	if len(sink.dataCalls) != len(want) {
		t.Fatalf("got %d data calls, want %d: %v", len(sink.dataCalls), len(want), sink.dataCalls)
	}
	for i, w := range want {
		if sink.dataCalls[i] != w {
			t.Errorf("data call %d = %q, want %q", i, sink.dataCalls[i], w)
		}
	}
}

func TestEnumeratorSendsEachFileOnce(t *testing.T) {
	rev1 := revID(1)
	rev2 := revID(2)
	file := revID(0x10)

	ancestry := &fakeAncestry{}
	store := &fakeStore{
		revBody: map[merkle.ID][]byte{},
		files: map[merkle.ID][]merkle.ID{
			rev1: {file},
			rev2: {file},
		},
		certs: map[merkle.ID][]merkle.ID{},
	}
	sink := &recordingSink{}
	e := New(ancestry, store, sink)

	if err := e.EnumerateRevisions([]merkle.ID{rev1, rev2}); err != nil {
		t.Fatalf("EnumerateRevisions: %v", err)
	}

	fileSends := 0
	for _, c := range sink.dataCalls {
		if c == fmt.Sprintf("file:%s", file) {
			fileSends++
		}
	}
	if fileSends != 1 {
		t.Errorf("file %s sent %d times, want 1", file, fileSends)
	}
}
