package DLEQ

import (
	"crypto/sha256"
	"math/big"

	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/fentec-project/bn256"
	"go.dedis.ch/protobuf"
)

var tagDLEQ = []byte("gose/dleq/v1")

// Prfs proves log_u(y1) = log_v(y2) for u, y1 ∈ GT and v, y2 ∈ G1.
type Prfs struct {
	C, T *big.Int
}

// Proof is a non-interactive Chaum-Pedersen proof for the secret x.
func Proof(x *big.Int, u, y1 *bn256.GT, v, y2 *bn256.G1) (*Prfs, error) {
	// commitment
	r, err := group.RandomScalar()
	if err != nil {
		return nil, err
	}
	a := new(bn256.GT).ScalarMult(u, r)
	b := new(bn256.G1).ScalarMult(v, r)

	c := challenge(u, y1, v, y2, a, b)

	// t = r - c·x
	t := new(big.Int).Mul(c, x)
	t.Sub(r, t)
	t.Mod(t, bn256.Order)

	return &Prfs{C: c, T: t}, nil
}

// Verify recomputes a = u^t·y1^c, b = v^t·y2^c and checks the challenge.
func Verify(pi *Prfs, u, y1 *bn256.GT, v, y2 *bn256.G1) bool {
	if pi == nil || pi.C == nil || pi.T == nil {
		return false
	}
	a := new(bn256.GT).Add(new(bn256.GT).ScalarMult(u, pi.T), new(bn256.GT).ScalarMult(y1, pi.C))
	b := new(bn256.G1).Add(new(bn256.G1).ScalarMult(v, pi.T), new(bn256.G1).ScalarMult(y2, pi.C))
	return challenge(u, y1, v, y2, a, b).Cmp(pi.C) == 0
}

func challenge(u, y1 *bn256.GT, v, y2 *bn256.G1, a *bn256.GT, b *bn256.G1) *big.Int {
	h := sha256.New()
	h.Write(tagDLEQ)
	h.Write(u.Marshal())
	h.Write(y1.Marshal())
	h.Write(v.Marshal())
	h.Write(y2.Marshal())
	h.Write(a.Marshal())
	h.Write(b.Marshal())
	c := new(big.Int).SetBytes(h.Sum(nil))
	return c.Mod(c, bn256.Order)
}

type prfsWire struct {
	C, T []byte
}

func (pi *Prfs) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&prfsWire{C: group.EncodeScalar(pi.C), T: group.EncodeScalar(pi.T)})
}

func (pi *Prfs) UnmarshalBinary(buf []byte) error {
	var w prfsWire
	if err := protobuf.Decode(buf, &w); err != nil {
		return group.Violation("decoding proof: %v", err)
	}
	c, err := group.DecodeScalar(w.C)
	if err != nil {
		return err
	}
	t, err := group.DecodeScalar(w.T)
	if err != nil {
		return err
	}
	pi.C, pi.T = c, t
	return nil
}
