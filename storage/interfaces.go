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

// Package storage specifies the collaborator interfaces a host
// application must supply: the object store, ancestry graph, signing
// key access, and access-control hooks that spec.md §1 treats as
// external to the synchronization core. Concrete implementations live
// in storage/memstore (in-memory, for tests) and storage/sqlstore
// (database/sql, for MySQL and Postgres).
package storage

import (
	"context"
	"errors"

	"github.com/opensync/netsync/merkle"
)

// ErrNotFound is returned by ObjectStore.Get and KeyStore lookups when
// the requested object or key does not exist locally. The session
// turns this into a nonexistent reply rather than a fatal error
// (spec.md §7).
var ErrNotFound = errors.New("storage: object not found")

// ObjectStore is the opaque, content-addressed object store spec.md
// §6 requires: exists/get/put keyed by (type, id), plus a file-delta
// accessor the session uses to answer send_delta requests.
type ObjectStore interface {
	Exists(ctx context.Context, typ merkle.ObjectType, id merkle.ID) (bool, error)
	Get(ctx context.Context, typ merkle.ObjectType, id merkle.ID) ([]byte, error)
	Put(ctx context.Context, typ merkle.ObjectType, id merkle.ID, data []byte) error
	GetFileDelta(ctx context.Context, srcID, dstID merkle.ID) ([]byte, error)

	// AllIDs returns every id of the given type currently stored, used
	// to seed a refiner's local trie at the start of a session.
	AllIDs(ctx context.Context, typ merkle.ObjectType) ([]merkle.ID, error)
}

// AncestryProvider supplies the revision graph structure the
// enumerator and branch-filtering logic need.
type AncestryProvider interface {
	Parents(ctx context.Context, revision merkle.ID) ([]merkle.ID, error)
	Children(ctx context.Context, revision merkle.ID) ([]merkle.ID, error)
	RevisionsInBranches(ctx context.Context, branches []string) ([]merkle.ID, error)
}

// KeyStore is the opaque key-management collaborator: the core never
// handles private key material directly, only calls through this
// interface.
type KeyStore interface {
	Sign(ctx context.Context, keyID string, data []byte) ([]byte, error)
	Verify(ctx context.Context, keyID string, data, sig []byte) (bool, error)
	Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error)
	GetPublicKey(ctx context.Context, keyID string) ([]byte, error)
}

// PolicyHooks is the access-control collaborator: per-branch
// read/write permission checks and trust-on-first-use server key
// bookkeeping (spec.md §6, §9 supplemented feature).
type PolicyHooks interface {
	ReadAllowed(ctx context.Context, branch string, clientKeyID string) (bool, error)
	WriteAllowed(ctx context.Context, branch string, clientKeyID string) (bool, error)

	// RememberServerKey implements trust-on-first-use: it returns an
	// error if peer already has a different stored fingerprint, and
	// records fingerprint if peer is new.
	RememberServerKey(ctx context.Context, peer string, fingerprint []byte) error
}

// BranchMatcher evaluates include/exclude glob patterns against the
// set of branch names a host knows about. Glob syntax itself is
// outside the scope of the core (spec.md §1); the core only calls this
// interface.
type BranchMatcher interface {
	// Match returns every known branch name that matches include but
	// not exclude.
	Match(include, exclude string, knownBranches []string) ([]string, error)
}
