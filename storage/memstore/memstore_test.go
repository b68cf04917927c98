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

package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/opensync/netsync/merkle"
	"github.com/opensync/netsync/storage"
)

func TestStorePutGetExists(t *testing.T) {
	ctx := context.Background()
	s := New()
	var id merkle.ID
	id[0] = 0x42

	ok, err := s.Exists(ctx, merkle.ObjectCert, id)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatal("Exists = true before Put")
	}

	if err := s.Put(ctx, merkle.ObjectCert, id, []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err = s.Exists(ctx, merkle.ObjectCert, id)
	if err != nil || !ok {
		t.Fatalf("Exists after Put = %v, %v, want true, nil", ok, err)
	}

	got, err := s.Get(ctx, merkle.ObjectCert, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get = %q, want %q", got, "hello")
	}
}

func TestStoreGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	var id merkle.ID
	_, err := s.Get(ctx, merkle.ObjectKey, id)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get on missing object: err = %v, want wrapping ErrNotFound", err)
	}
}

func TestStoreAncestry(t *testing.T) {
	ctx := context.Background()
	s := New()
	var root, child merkle.ID
	root[0], child[0] = 1, 2
	s.SetParents(child, []merkle.ID{root})

	parents, err := s.Parents(ctx, child)
	if err != nil || len(parents) != 1 || parents[0] != root {
		t.Fatalf("Parents(child) = %v, %v, want [root], nil", parents, err)
	}

	children, err := s.Children(ctx, root)
	if err != nil || len(children) != 1 || children[0] != child {
		t.Fatalf("Children(root) = %v, %v, want [child], nil", children, err)
	}
}
