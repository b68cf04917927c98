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

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustID(t *testing.T, b byte) ID {
	t.Helper()
	var id ID
	id[0] = b
	id[1] = b ^ 0xFF
	return id
}

func TestNodeSerializeRoundTrip(t *testing.T) {
	n := NewEmptyNode(ObjectCert, 1, []byte{0x03})
	n.Slots[2] = Slot{State: SlotLiveLeaf, Value: mustID(t, 0x11)}
	n.Slots[5] = Slot{State: SlotDeadLeaf, Value: mustID(t, 0x22)}
	n.Slots[9] = Slot{State: SlotSubtree, Value: mustID(t, 0x33)}
	n.TotalLeaves = 4

	ser, err := n.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := DeserializeNode(ser)
	if err != nil {
		t.Fatalf("DeserializeNode: %v", err)
	}
	if diff := cmp.Diff(n, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDeserializeNodeRejectsBadHash(t *testing.T) {
	n := NewEmptyNode(ObjectKey, 0, nil)
	ser, err := n.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	ser[0] ^= 0xFF
	if _, err := DeserializeNode(ser); err == nil {
		t.Fatal("expected self-hash mismatch error, got nil")
	}
}

func TestDeserializeNodeRejectsTrailingBytes(t *testing.T) {
	n := NewEmptyNode(ObjectRevision, 0, nil)
	ser, err := n.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	ser = append(ser, 0x00)
	if _, err := DeserializeNode(ser); err == nil {
		t.Fatal("expected trailing-bytes error, got nil")
	}
}

func TestSlotIndexAndExtendPrefixRoundTrip(t *testing.T) {
	id := mustID(t, 0x5A)
	for level := 0; level < 4; level++ {
		slot := SlotIndex(id, level)
		prefix := ExtendPrefix(nil, 0, 0)
		_ = prefix
		// Build the prefix level-by-level and confirm SlotIndex at each
		// level matches the bits ExtendPrefix wrote.
		var built []byte
		for l := 0; l <= level; l++ {
			s := SlotIndex(id, l)
			built = ExtendPrefix(built, l, s)
		}
		if len(built) != PrefixByteLen(level+1) {
			t.Fatalf("level %d: built prefix len = %d, want %d", level, len(built), PrefixByteLen(level+1))
		}
		var fromPrefix ID
		copy(fromPrefix[:], built)
		if got := SlotIndex(fromPrefix, level); got != slot {
			t.Errorf("level %d: SlotIndex of built prefix = %d, want %d", level, got, slot)
		}
	}
}

func TestObjectTypeValid(t *testing.T) {
	for _, typ := range []ObjectType{ObjectFile, ObjectKey, ObjectRevision, ObjectCert, ObjectEpoch} {
		if !typ.Valid() {
			t.Errorf("%v: Valid() = false, want true", typ)
		}
	}
	if ObjectType(0).Valid() {
		t.Error("ObjectType(0).Valid() = true, want false")
	}
}
