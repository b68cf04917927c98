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

// Package memstore is an in-memory reference implementation of the
// storage package's collaborator interfaces, used by tests and
// demonstrations. It is intentionally simple: a handful of maps
// guarded by one mutex, matching the scale trillian's own in-memory
// test storage (storage/testonly) targets.
package memstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/opensync/netsync/merkle"
	"github.com/opensync/netsync/storage"
)

type objectKey struct {
	typ merkle.ObjectType
	id  merkle.ID
}

// Store is an in-memory ObjectStore and AncestryProvider.
type Store struct {
	mu      sync.RWMutex
	objects map[objectKey][]byte
	parents map[merkle.ID][]merkle.ID
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		objects: make(map[objectKey][]byte),
		parents: make(map[merkle.ID][]merkle.ID),
	}
}

func (s *Store) Exists(_ context.Context, typ merkle.ObjectType, id merkle.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[objectKey{typ, id}]
	return ok, nil
}

func (s *Store) Get(_ context.Context, typ merkle.ObjectType, id merkle.ID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[objectKey{typ, id}]
	if !ok {
		return nil, fmt.Errorf("memstore: %s %s: %w", typ, id, storage.ErrNotFound)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (s *Store) Put(_ context.Context, typ merkle.ObjectType, id merkle.ID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[objectKey{typ, id}] = cp
	return nil
}

func (s *Store) GetFileDelta(ctx context.Context, srcID, dstID merkle.ID) ([]byte, error) {
	return nil, fmt.Errorf("memstore: file deltas not computed in-memory: %w", storage.ErrNotFound)
}

func (s *Store) AllIDs(_ context.Context, typ merkle.ObjectType) ([]merkle.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []merkle.ID
	for k := range s.objects {
		if k.typ == typ {
			out = append(out, k.id)
		}
	}
	return out, nil
}

// SetParents records the parent revisions of rev, for AncestryProvider.
func (s *Store) SetParents(rev merkle.ID, parents []merkle.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parents[rev] = append([]merkle.ID(nil), parents...)
}

func (s *Store) Parents(_ context.Context, revision merkle.ID) ([]merkle.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]merkle.ID(nil), s.parents[revision]...), nil
}

func (s *Store) Children(_ context.Context, revision merkle.ID) ([]merkle.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []merkle.ID
	for rev, parents := range s.parents {
		for _, p := range parents {
			if p == revision {
				out = append(out, rev)
			}
		}
	}
	return out, nil
}

func (s *Store) RevisionsInBranches(_ context.Context, branches []string) ([]merkle.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []merkle.ID
	for k := range s.objects {
		if k.typ == merkle.ObjectRevision {
			out = append(out, k.id)
		}
	}
	return out, nil
}

// GlobMatcher is a trivial filepath.Match-based BranchMatcher,
// sufficient for tests; real glob semantics (the host's branch
// pattern language) are outside the core's scope per spec.md §1.
type GlobMatcher struct{}

func (GlobMatcher) Match(include, exclude string, knownBranches []string) ([]string, error) {
	var out []string
	for _, b := range knownBranches {
		inc, err := filepath.Match(include, b)
		if err != nil {
			return nil, err
		}
		if !inc {
			continue
		}
		if exclude != "" {
			exc, err := filepath.Match(exclude, b)
			if err != nil {
				return nil, err
			}
			if exc {
				continue
			}
		}
		out = append(out, b)
	}
	return out, nil
}
