// Copyright 2026 Formal Kernel Authors
//
// Package oracle verifies external price/reference-value proofs referenced
// by oracle-influenced balance changes during conservation checking
// (spec §4.4 check_oracle_conservation). It trims the teacher's BLS12-381
// signature API (pkg/crypto/bls) down to the verify-only surface this
// kernel needs: the Conservation Checker never signs anything, only
// verifies proofs signed by a registered oracle key.
package oracle

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	bls "github.com/formalkernel/kernel/pkg/crypto/bls"
)

// Proof is a signed attestation of a reference value for one oracle
// variable, as supplied alongside a verification request.
type Proof struct {
	OracleVariable string
	Value          *fr.Element
	ObservedAt     time.Time
	PublicKeyHex   string
	SignatureHex   string
}

// Registry resolves an oracle variable name to its registered public key
// and maximum staleness bound. It is an interface so this package stays
// free of persistence concerns; this module ships no implementation
// outside its tests, and pkg/kernel builds its conservation checker with a
// nil registry.
type Registry interface {
	PublicKeyFor(oracleVariable string) (publicKeyHex string, maxStaleness time.Duration, ok bool)
}

// VerifyResult reports the outcome of verifying one oracle proof.
type VerifyResult struct {
	Fresh          bool
	SignatureValid bool
	Reason         string
}

// OK reports whether the proof is both fresh and correctly signed.
func (r VerifyResult) OK() bool { return r.Fresh && r.SignatureValid }

// Verify checks a proof's freshness predicate (age <= max-staleness) and its
// BLS12-381 signature against the registered oracle public key, the way
// pkg/crypto/bls.PublicKey.VerifyWithDomain checks a result attestation.
func Verify(reg Registry, proof Proof, now time.Time) (VerifyResult, error) {
	pubKeyHex, maxStaleness, ok := reg.PublicKeyFor(proof.OracleVariable)
	if !ok {
		return VerifyResult{}, fmt.Errorf("oracle: no registered public key for variable %q", proof.OracleVariable)
	}

	age := now.Sub(proof.ObservedAt)
	fresh := age >= 0 && age <= maxStaleness
	if !fresh {
		return VerifyResult{Fresh: false, Reason: fmt.Sprintf("proof age %s exceeds max staleness %s", age, maxStaleness)}, nil
	}

	pubKey, err := bls.PublicKeyFromHex(pubKeyHex)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("oracle: invalid registered public key: %w", err)
	}
	sig, err := bls.SignatureFromHex(proof.SignatureHex)
	if err != nil {
		return VerifyResult{Fresh: true, SignatureValid: false, Reason: "malformed signature encoding"}, nil
	}
	if proof.PublicKeyHex != "" && proof.PublicKeyHex != pubKeyHex {
		return VerifyResult{Fresh: true, SignatureValid: false, Reason: "proof public key does not match registered oracle key"}, nil
	}

	message := encodeProofMessage(proof)
	valid := pubKey.VerifyWithDomain(sig, message, bls.DomainOracleProof)
	if !valid {
		return VerifyResult{Fresh: true, SignatureValid: false, Reason: "signature verification failed"}, nil
	}
	return VerifyResult{Fresh: true, SignatureValid: true}, nil
}

// SlippageWithinBound reports whether observed differs from reference by no
// more than boundBps basis points (default 500 = 5%, spec §4.4).
func SlippageWithinBound(observed, reference *fr.Element, boundBps int64) bool {
	if reference == nil || observed == nil {
		return false
	}
	refBig, obsBig := new(big.Int), new(big.Int)
	reference.BigInt(refBig)
	observed.BigInt(obsBig)
	if refBig.Sign() == 0 {
		return obsBig.Sign() == 0
	}

	diff := new(big.Int).Sub(obsBig, refBig)
	diff.Abs(diff)

	bound := new(big.Int).Mul(refBig, big.NewInt(boundBps))
	bound.Abs(bound)
	scaledDiff := new(big.Int).Mul(diff, big.NewInt(10000))
	return scaledDiff.Cmp(bound) <= 0
}

func encodeProofMessage(p Proof) []byte {
	buf := []byte(p.OracleVariable)
	buf = append(buf, []byte(p.ObservedAt.UTC().Format(time.RFC3339Nano))...)
	if p.Value != nil {
		valBytes := p.Value.Bytes()
		buf = append(buf, valBytes[:]...)
	}
	return buf
}

// ParsePublicKeyHex validates a hex-encoded public key without constructing
// a full oracle Registry, for config-loading call sites.
func ParsePublicKeyHex(s string) error {
	if _, err := hex.DecodeString(trimHexPrefix(s)); err != nil {
		return fmt.Errorf("oracle: invalid public key hex: %w", err)
	}
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
