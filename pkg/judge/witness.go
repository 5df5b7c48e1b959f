// Copyright 2026 Formal Kernel Authors

package judge

import (
	"math/big"
	"sort"

	bls12381fr "github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr/mimc"
)

// computeWitnessCommitment binds a PROVED verdict to the exact integer
// witness that proved it, so a replayed proof can be checked against the
// commitment without re-running the solver. The teacher's ZK circuit
// commits to a public key by feeding its field-element limbs through a
// fixed linear combination before calling it "MiMC-like"
// (pkg/crypto/bls_zkp/circuit.go's computePubkeyCommitment); here the
// combination is a real MiMC sponge, fed the model's variables in a fixed
// (sorted) order so the commitment is reproducible regardless of map
// iteration order.
func computeWitnessCommitment(model map[string]*big.Int) *big.Int {
	names := make([]string, 0, len(model))
	for n := range model {
		names = append(names, n)
	}
	sort.Strings(names)

	h := mimc.NewMiMC()
	for _, n := range names {
		var nameElem bls12381fr.Element
		nameElem.SetBytes([]byte(n))
		nb := nameElem.Bytes()
		h.Write(nb[:])

		var valElem bls12381fr.Element
		valElem.SetBigInt(model[n])
		vb := valElem.Bytes()
		h.Write(vb[:])
	}

	var out bls12381fr.Element
	out.SetBytes(h.Sum(nil))
	result := new(big.Int)
	out.BigInt(result)
	return result
}
