// Copyright 2026 Formal Kernel Authors
//
// Package receive implements the kernel's verified external receive
// point: a signed envelope wrapping one intent submission, checked before
// the payload ever reaches the pipeline. A verified receive point is in
// scope even though consensus itself is not (spec's receive-point
// carve-out); grounded on pkg/consensus/abci_validator.go and
// bft_integration.go's signed-message handling conventions, using
// CometBFT's own Ed25519 wrapper (cmted25519.PrivKey/PubKey) rather than
// the stdlib crypto/ed25519 package the teacher also has open elsewhere,
// since this is the wrapper CometBFT-aware call sites construct keys
// with.
package receive

import (
	"fmt"
	"time"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"
)

// SignedEnvelope wraps one intent submission with the sender's Ed25519
// signature over Payload.
type SignedEnvelope struct {
	Payload   []byte
	PublicKey []byte
	Signature []byte
	SenderID  string
	Timestamp time.Time
}

// MaxClockSkew bounds how far Timestamp may drift from the receiver's
// clock before an otherwise validly-signed envelope is rejected as stale.
const MaxClockSkew = 5 * time.Minute

// Verify checks an envelope's signature and freshness. It never
// interprets Payload; IR parsing and every pipeline layer run downstream
// of a successful Verify.
func Verify(env SignedEnvelope, now time.Time) error {
	if len(env.PublicKey) != cmted25519.PubKeySize {
		return fmt.Errorf("receive: public key has %d bytes, want %d", len(env.PublicKey), cmted25519.PubKeySize)
	}
	if len(env.Signature) != cmted25519.SignatureSize {
		return fmt.Errorf("receive: signature has %d bytes, want %d", len(env.Signature), cmted25519.SignatureSize)
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("receive: empty payload")
	}

	skew := now.Sub(env.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return fmt.Errorf("receive: envelope timestamp %s is outside the %s clock-skew tolerance", env.Timestamp, MaxClockSkew)
	}

	pubKey := cmted25519.PubKey(env.PublicKey)
	if !pubKey.VerifySignature(env.Payload, env.Signature) {
		return fmt.Errorf("receive: signature verification failed for sender %q", env.SenderID)
	}
	return nil
}

// Sign produces a SignedEnvelope over payload using priv, stamping
// Timestamp with now. Used by test harnesses and any in-process sender.
func Sign(priv cmted25519.PrivKey, senderID string, payload []byte, now time.Time) (SignedEnvelope, error) {
	sig, err := priv.Sign(payload)
	if err != nil {
		return SignedEnvelope{}, fmt.Errorf("receive: sign payload: %w", err)
	}
	pub := priv.PubKey()
	pubBytes, ok := pub.(cmted25519.PubKey)
	if !ok {
		return SignedEnvelope{}, fmt.Errorf("receive: unexpected public key type %T", pub)
	}
	return SignedEnvelope{
		Payload:   payload,
		PublicKey: []byte(pubBytes),
		Signature: sig,
		SenderID:  senderID,
		Timestamp: now,
	}, nil
}
