// Copyright 2026 Formal Kernel Authors

package bls

import (
	"bytes"
	"testing"
)

func TestInitialize(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := Initialize(); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
}

func TestGenerateKeyPair(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if !IsValidPrivateKeySize(sk.Bytes()) {
		t.Errorf("got private key size %d, want %d", len(sk.Bytes()), PrivateKeySize)
	}
	if !IsValidPublicKeySize(pk.Bytes()) {
		t.Errorf("got public key size %d, want %d", len(pk.Bytes()), PublicKeySize)
	}
}

func TestGenerateKeyPairFromSeed(t *testing.T) {
	seed := []byte("deterministic test seed for oracle key derivation - 32+ bytes")

	sk1, pk1, err := GenerateKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed: %v", err)
	}
	sk2, pk2, err := GenerateKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed (second): %v", err)
	}
	if !bytes.Equal(sk1.Bytes(), sk2.Bytes()) {
		t.Error("same seed produced different private keys")
	}
	if !bytes.Equal(pk1.Bytes(), pk2.Bytes()) {
		t.Error("same seed produced different public keys")
	}
}

func TestSignAndVerify(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("oracle reference value for balance_sender at t=1700000000")
	sig := sk.Sign(msg)
	if !pk.Verify(sig, msg) {
		t.Fatal("expected valid signature to verify")
	}
	if pk.Verify(sig, []byte("a different message")) {
		t.Fatal("expected verification to fail for a tampered message")
	}
}

func TestSignWithDomain_RejectsWrongDomainOnVerify(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("oracle proof payload")
	sig := sk.SignWithDomain(msg, DomainOracleProof)

	if !pk.VerifyWithDomain(sig, msg, DomainOracleProof) {
		t.Fatal("expected signature to verify under its own domain tag")
	}
	if pk.VerifyWithDomain(sig, msg, DomainWitnessSeal) {
		t.Fatal("expected signature to fail verification under a different domain tag")
	}
}

func TestPublicKeyFromBytes_RoundTrip(t *testing.T) {
	_, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	decoded, err := PublicKeyFromBytes(pk.Bytes())
	if err != nil {
		t.Fatalf("PublicKeyFromBytes: %v", err)
	}
	if !pk.Equal(decoded) {
		t.Fatal("decoded public key does not equal original")
	}
}

func TestSignatureFromHex_RoundTrip(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sig := sk.Sign([]byte("payload"))
	decoded, err := SignatureFromHex(sig.Hex())
	if err != nil {
		t.Fatalf("SignatureFromHex: %v", err)
	}
	if !pk.Verify(decoded, []byte("payload")) {
		t.Fatal("expected decoded signature to verify")
	}
}

func TestValidatePublicKey_RejectsWrongSize(t *testing.T) {
	if err := ValidatePublicKey(make([]byte, PublicKeySize-1)); err == nil {
		t.Fatal("expected an error for an undersized public key")
	}
}

func TestValidateSignature_RejectsWrongSize(t *testing.T) {
	if err := ValidateSignature(make([]byte, SignatureSize+1)); err == nil {
		t.Fatal("expected an error for an oversized signature")
	}
}
