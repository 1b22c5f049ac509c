package group

import (
	"bytes"
	"crypto/sha256"
	"io"
	"math/big"

	"github.com/fentec-project/bn256"
	"golang.org/x/crypto/hkdf"
)

// Domain separation tags. Keywords and member ids share the same tag so
// that an owner id can be used as a query term.
var (
	tagTerm     = []byte("gose/term/v1")
	tagSentinel = []byte("gose/sentinel/v1")
	tagMask     = []byte("gose/kem-mask/v1")
)

// HashToScalar maps an identifier or keyword into Zq.
func HashToScalar(s string) *big.Int {
	return hashTagged(tagTerm, []byte(s))
}

// Sentinel is the padding root used for unused index slots. It lives in
// its own hash domain so that no keyword can map onto it, except with
// negligible probability.
func Sentinel() *big.Int {
	return hashTagged(tagSentinel, nil)
}

func hashTagged(tag, msg []byte) *big.Int {
	h := sha256.New()
	h.Write(tag)
	h.Write([]byte{0})
	h.Write(msg)
	z := new(big.Int).SetBytes(h.Sum(nil))
	return z.Mod(z, bn256.Order)
}

// HashToBytes derives an n-byte mask from a GT element.
func HashToBytes(gt *bn256.GT, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, gt.Marshal(), nil, tagMask)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// XOR returns a ⊕ b; both must have the same length.
func XOR(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// GTIdentity returns 1 in GT (the group is written additively by bn256).
func GTIdentity() *bn256.GT {
	return new(bn256.GT).ScalarBaseMult(big.NewInt(0))
}

// GTEqual compares two GT elements by their canonical encoding.
func GTEqual(a, b *bn256.GT) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(a.Marshal(), b.Marshal())
}

// G1Equal compares two G1 elements by their canonical encoding.
func G1Equal(a, b *bn256.G1) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(a.Marshal(), b.Marshal())
}

// G2Equal compares two G2 elements by their canonical encoding.
func G2Equal(a, b *bn256.G2) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(a.Marshal(), b.Marshal())
}
