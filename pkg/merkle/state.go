// Copyright 2026 Formal Kernel Authors

package merkle

import (
	"sort"
)

// leafForEntry hashes one canonical-state key/value pair into a 32-byte
// leaf. Keys are length-prefixed so that no (key, value) pair can be
// confused with a different split of the same concatenated bytes.
func leafForEntry(key string, value []byte) []byte {
	buf := make([]byte, 0, 8+len(key)+len(value))
	buf = appendUvarint(buf, uint64(len(key)))
	buf = append(buf, key...)
	buf = append(buf, value...)
	return HashData(buf)
}

func appendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// BuildFromState constructs a Merkle tree over a canonical state snapshot
// (the committed K->V map, spec §4.9/§4.10). Keys are sorted so the tree —
// and therefore its root — is a pure function of the state's contents, not
// of map iteration order or the sequence in which keys were written.
func BuildFromState(state map[string][]byte) (*Tree, error) {
	if len(state) == 0 {
		return nil, ErrEmptyTree
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	leaves := make([][]byte, len(keys))
	for i, k := range keys {
		leaves[i] = leafForEntry(k, state[k])
	}
	return BuildTree(leaves)
}

// DigestState returns just the root digest of a canonical state snapshot,
// for callers (the commit layer, crash recovery) that only need to compare
// roots and don't need inclusion proofs.
func DigestState(state map[string][]byte) ([]byte, error) {
	if len(state) == 0 {
		return nil, ErrEmptyTree
	}
	tree, err := BuildFromState(state)
	if err != nil {
		return nil, err
	}
	return tree.Root(), nil
}
