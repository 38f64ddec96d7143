// Package srp implements SRP-6a (RFC 5054) with SHA-256 over the 2048-bit
// group. Both the client and the server side live here so they always agree
// on padding and hashing.
package srp

import (
	"crypto/sha256"
	"math/big"
)

// RFC 5054 Appendix A, 2048-bit group.
var (
	bigN = mustHex(
		"AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050" +
			"A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
			"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8" +
			"55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B" +
			"CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748" +
			"544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6" +
			"AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6" +
			"94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73")
	bigG = big.NewInt(2)

	// k = H(N | PAD(g))
	bigK = new(big.Int).SetBytes(hash(bigN.Bytes(), pad(bigG)))
)

// byteLen is the size of every padded group element.
const byteLen = 256

// ElementSize is the length of a padded group element: A, B and the verifier.
const ElementSize = byteLen

// secretLen is the size of the random ephemeral secrets a and b.
const secretLen = 32

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("srp: bad group constant")
	}
	return n
}

func hash(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// pad left-pads n to the group size.
func pad(n *big.Int) []byte {
	return n.FillBytes(make([]byte, byteLen))
}

// isZeroMod reports whether n ≡ 0 (mod N).
func isZeroMod(n *big.Int) bool {
	return new(big.Int).Mod(n, bigN).Sign() == 0
}

// computeX returns x = H(srpSalt | stretched), where stretched is the
// PBKDF2 output for the account.
func computeX(srpSalt, stretched []byte) *big.Int {
	return new(big.Int).SetBytes(hash(srpSalt, stretched))
}

// computeU returns u = H(PAD(A) | PAD(B)).
func computeU(A, B *big.Int) *big.Int {
	return new(big.Int).SetBytes(hash(pad(A), pad(B)))
}

// clientProof returns M1 = H(H(N) xor H(g) | H(I) | s | PAD(A) | PAD(B) | K).
func clientProof(identity string, srpSalt []byte, A, B *big.Int, key []byte) []byte {
	hn := hash(bigN.Bytes())
	hg := hash(pad(bigG))
	for i := range hn {
		hn[i] ^= hg[i]
	}
	return hash(hn, hash([]byte(identity)), srpSalt, pad(A), pad(B), key)
}

// serverProof returns M2 = H(PAD(A) | M1 | K).
func serverProof(A *big.Int, m1, key []byte) []byte {
	return hash(pad(A), m1, key)
}
