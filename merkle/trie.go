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
	"errors"
	"fmt"
	"sort"
)

// ErrInvariant is returned when a trie operation would violate one of
// the structural invariants spec.md §3 requires of the Merkle trie.
var ErrInvariant = errors.New("merkle: invariant violated")

// nodeKey identifies a node by its path from the root: level and the
// packed prefix bits leading to it.
type nodeKey struct {
	level  int
	prefix string
}

func keyFor(level int, prefix []byte) nodeKey {
	return nodeKey{level: level, prefix: string(prefix)}
}

// Trie is an in-memory Merkle trie over the identifiers of one object
// type, as specified in spec.md §3. It holds live leaves directly and
// materializes internal nodes lazily from RecomputeCodes; callers that
// only need a diff against a peer do not need RecomputeCodes at every
// insert.
type Trie struct {
	Type ObjectType

	// leaves holds every live (and, if retained, dead) leaf id this
	// trie has been told about, independent of node materialization.
	leaves map[ID]bool // true = live, false = dead

	// nodes is populated by RecomputeCodes; it is the authoritative
	// node table used for lookups and serialization until the next
	// Insert invalidates it.
	nodes map[nodeKey]*Node
	dirty bool
}

// NewTrie returns an empty trie for the given object type.
func NewTrie(typ ObjectType) *Trie {
	return &Trie{
		Type:   typ,
		leaves: make(map[ID]bool),
		nodes:  make(map[nodeKey]*Node),
	}
}

// Insert adds id to the trie as a live or dead leaf. It does not
// recompute node hashes; call RecomputeCodes before reading Node or
// serializing. Matches monotone's two-phase build: insert every item,
// then calculate_merkle_codes once (original_source/merkle_tree.cc).
func (t *Trie) Insert(id ID, live bool) {
	t.leaves[id] = live
	t.dirty = true
}

// Contains reports whether id has been inserted as a live leaf.
func (t *Trie) Contains(id ID) bool {
	live, ok := t.leaves[id]
	return ok && live
}

// Len returns the number of live leaves in the trie.
func (t *Trie) Len() int {
	n := 0
	for _, live := range t.leaves {
		if live {
			n++
		}
	}
	return n
}

// sortedLeaves returns every inserted id (live and dead) in ascending
// order, for deterministic trie construction independent of insertion
// order.
func (t *Trie) sortedLeaves() []ID {
	out := make([]ID, 0, len(t.leaves))
	for id := range t.leaves {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// RecomputeCodes rebuilds every node of the trie from the current leaf
// set and returns the root node's fingerprint, the value two peers
// compare to decide whether their sets already agree. It corresponds
// to monotone's recalculate_merkle_codes.
func (t *Trie) RecomputeCodes() (ID, error) {
	t.nodes = make(map[nodeKey]*Node)
	root, err := t.buildNode(0, nil)
	if err != nil {
		return ID{}, err
	}
	t.dirty = false
	if root == nil {
		empty := NewEmptyNode(t.Type, 0, nil)
		t.nodes[keyFor(0, nil)] = empty
		return empty.Hash()
	}
	return root.Hash()
}

// buildNode recursively constructs the node at (level, prefix) from
// every leaf whose id shares that prefix, splitting into child
// subtrees on collision exactly as insert_into_merkle_tree does: a
// node holds leaves directly until a second leaf lands in the same
// slot, at which point the slot becomes a subtree and both leaves (and
// any further insertions) are pushed down.
func (t *Trie) buildNode(level int, prefix []byte) (*Node, error) {
	leaves := t.sortedLeaves()
	var here []ID
	for _, id := range leaves {
		if hasPrefix(id, prefix, level) {
			here = append(here, id)
		}
	}
	if len(here) == 0 {
		return nil, nil
	}

	node := NewEmptyNode(t.Type, level, prefix)
	buckets := make(map[int][]ID)
	for _, id := range here {
		slot := SlotIndex(id, level)
		buckets[slot] = append(buckets[slot], id)
	}

	var total uint64
	for slot, ids := range buckets {
		if len(ids) == 1 {
			id := ids[0]
			state := SlotLiveLeaf
			if !t.leaves[id] {
				state = SlotDeadLeaf
			}
			node.Slots[slot] = Slot{State: state, Value: id}
			if t.leaves[id] {
				total++
			}
			continue
		}
		if level+1 > MaxLevels {
			return nil, fmt.Errorf("%w: identifier collision exhausted %d trie levels", ErrInvariant, MaxLevels)
		}
		childPrefix := ExtendPrefix(prefix, level, slot)
		child, err := t.buildNode(level+1, childPrefix)
		if err != nil {
			return nil, err
		}
		childHash, err := child.Hash()
		if err != nil {
			return nil, err
		}
		t.nodes[keyFor(level+1, childPrefix)] = child
		node.Slots[slot] = Slot{State: SlotSubtree, Value: childHash}
		total += child.TotalLeaves
	}
	node.TotalLeaves = total
	t.nodes[keyFor(level, prefix)] = node
	return node, nil
}

// hasPrefix reports whether id's first level*FanoutBits bits equal
// prefix.
func hasPrefix(id ID, prefix []byte, level int) bool {
	for i := 0; i < level*FanoutBits; i++ {
		if bitAt(id[:], i) != bitAt(prefix, i) {
			return false
		}
	}
	return true
}

// Node returns the materialized node at (level, prefix), if any. The
// trie must not be dirty; callers call RecomputeCodes first.
func (t *Trie) Node(level int, prefix []byte) (*Node, bool) {
	n, ok := t.nodes[keyFor(level, prefix)]
	return n, ok
}

// Root returns the root node, equivalent to Node(0, nil).
func (t *Trie) Root() (*Node, bool) {
	return t.Node(0, nil)
}

// CollectLiveLeaves walks the subtree rooted at (level, prefix) and
// returns every live leaf id beneath it. Used by the refiner when a
// peer's subtree hash equals the local one, to record every id below
// it as shared without further messages.
func (t *Trie) CollectLiveLeaves(level int, prefix []byte) ([]ID, error) {
	node, ok := t.Node(level, prefix)
	if !ok {
		return nil, nil
	}
	var out []ID
	for slot := 0; slot < NumSlots; slot++ {
		s := node.Slots[slot]
		switch s.State {
		case SlotLiveLeaf:
			out = append(out, s.Value)
		case SlotSubtree:
			childPrefix := ExtendPrefix(prefix, level, slot)
			children, err := t.CollectLiveLeaves(level+1, childPrefix)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
	}
	return out, nil
}

// Locate reports whether id is present as a live leaf somewhere beneath
// the subtree rooted at (level, prefix), without walking the whole
// subtree when not necessary: it follows id's own slot path, matching
// monotone's locate_item.
func (t *Trie) Locate(id ID, level int, prefix []byte) (bool, error) {
	node, ok := t.Node(level, prefix)
	if !ok {
		return false, nil
	}
	slot := SlotIndex(id, level)
	s := node.Slots[slot]
	switch s.State {
	case SlotLiveLeaf:
		return s.Value == id, nil
	case SlotDeadLeaf:
		return false, nil
	case SlotSubtree:
		childPrefix := ExtendPrefix(prefix, level, slot)
		return t.Locate(id, level+1, childPrefix)
	default:
		return false, nil
	}
}
