// Copyright 2026 Formal Kernel Authors

package receive

import (
	"testing"
	"time"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"
)

func TestSignAndVerify_RoundTrips(t *testing.T) {
	priv := cmted25519.GenPrivKey()
	now := time.Now()
	env, err := Sign(priv, "sender-1", []byte("intent transfer(amount: int) { ensure amount < 100 }"), now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(env, now.Add(time.Second)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	priv := cmted25519.GenPrivKey()
	now := time.Now()
	env, err := Sign(priv, "sender-1", []byte("original payload"), now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	env.Payload = []byte("tampered payload")
	if err := Verify(env, now); err == nil {
		t.Fatal("expected verification to fail for a tampered payload")
	}
}

func TestVerify_RejectsStaleTimestamp(t *testing.T) {
	priv := cmted25519.GenPrivKey()
	past := time.Now().Add(-time.Hour)
	env, err := Sign(priv, "sender-1", []byte("payload"), past)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(env, time.Now()); err == nil {
		t.Fatal("expected verification to fail for a stale timestamp")
	}
}

func TestVerify_RejectsWrongSizedKey(t *testing.T) {
	env := SignedEnvelope{
		Payload:   []byte("payload"),
		PublicKey: make([]byte, cmted25519.PubKeySize-1),
		Signature: make([]byte, cmted25519.SignatureSize),
		Timestamp: time.Now(),
	}
	if err := Verify(env, time.Now()); err == nil {
		t.Fatal("expected verification to fail for an undersized public key")
	}
}
