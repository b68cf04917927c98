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

package merkle

import "fmt"

// ObjectType is the closed set of object kinds synchronized by this
// protocol. Each non-file type owns one refiner and one Merkle trie per
// session; file objects are named by revisions and requested directly,
// never refined (spec.md §3).
type ObjectType uint8

// Object type codes, fixed by the wire protocol (spec.md §6).
const (
	ObjectFile     ObjectType = 2
	ObjectKey      ObjectType = 3
	ObjectRevision ObjectType = 4
	ObjectCert     ObjectType = 5
	ObjectEpoch    ObjectType = 6
)

// String renders the type the way monotone's netcmd_item_type_to_string
// did, for log messages.
func (t ObjectType) String() string {
	switch t {
	case ObjectFile:
		return "file"
	case ObjectKey:
		return "key"
	case ObjectRevision:
		return "revision"
	case ObjectCert:
		return "cert"
	case ObjectEpoch:
		return "epoch"
	default:
		return fmt.Sprintf("objecttype(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the five known object types.
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectFile, ObjectKey, ObjectRevision, ObjectCert, ObjectEpoch:
		return true
	}
	return false
}

// RefinedTypes lists the object types that own a refiner. File objects
// are excluded: they are requested directly once their owning revision
// is known, never refined (spec.md §3, §4.4).
func RefinedTypes() []ObjectType {
	return []ObjectType{ObjectKey, ObjectRevision, ObjectCert, ObjectEpoch}
}
