// Copyright 2026 Formal Kernel Authors

package merkle

import (
	"bytes"
	"testing"
)

func TestBuildFromState_DeterministicAcrossInsertionOrder(t *testing.T) {
	stateA := map[string][]byte{
		"balance_alice": []byte("100"),
		"balance_bob":   []byte("50"),
	}
	stateB := map[string][]byte{
		"balance_bob":   []byte("50"),
		"balance_alice": []byte("100"),
	}

	rootA, err := DigestState(stateA)
	if err != nil {
		t.Fatalf("DigestState(stateA): %v", err)
	}
	rootB, err := DigestState(stateB)
	if err != nil {
		t.Fatalf("DigestState(stateB): %v", err)
	}
	if !bytes.Equal(rootA, rootB) {
		t.Fatalf("expected identical roots regardless of map iteration order, got %x vs %x", rootA, rootB)
	}
}

func TestBuildFromState_DifferentValueChangesRoot(t *testing.T) {
	base := map[string][]byte{"balance_alice": []byte("100")}
	changed := map[string][]byte{"balance_alice": []byte("101")}

	rootBase, _ := DigestState(base)
	rootChanged, _ := DigestState(changed)
	if bytes.Equal(rootBase, rootChanged) {
		t.Fatal("expected different roots for different state contents")
	}
}

func TestBuildFromState_EmptyStateRejected(t *testing.T) {
	if _, err := DigestState(map[string][]byte{}); err != ErrEmptyTree {
		t.Fatalf("expected ErrEmptyTree for an empty state, got %v", err)
	}
}

func TestBuildFromState_InclusionProofRoundTrip(t *testing.T) {
	state := map[string][]byte{
		"balance_alice":   []byte("100"),
		"balance_bob":     []byte("50"),
		"balance_charlie": []byte("25"),
	}
	tree, err := BuildFromState(state)
	if err != nil {
		t.Fatalf("BuildFromState: %v", err)
	}

	leaf := leafForEntry("balance_bob", []byte("50"))
	proof, err := tree.GenerateProofByHash(leaf)
	if err != nil {
		t.Fatalf("GenerateProofByHash: %v", err)
	}
	valid, err := VerifyProof(leaf, proof, tree.Root())
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if !valid {
		t.Fatal("expected a valid inclusion proof for a present state key")
	}
}
