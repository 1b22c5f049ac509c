package gsig

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"

	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/fentec-project/bn256"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// Certificate CT = (ID, a, b = a^y, c = a^(T·(x + H(ID)·x·y))).
type Certificate struct {
	ID string
	A  *bn256.G1
	B  *bn256.G1
	C  *bn256.G1
}

// Issue makes a certificate for id under the cumulative exponent T.
func Issue(mk *group.MasterSecret, total *big.Int, id string) (*Certificate, error) {
	if id == "" {
		return nil, group.Violation("empty member id")
	}
	_, a, err := bn256.RandomG1(rand.Reader)
	if err != nil {
		return nil, xerrors.Errorf("sampling a: %v", err)
	}
	// b = a^y
	b := new(bn256.G1).ScalarMult(a, mk.Y)

	// e = T·(x + H(id)·x·y)
	e := new(big.Int).Mul(group.HashToScalar(id), mk.X)
	e.Mul(e, mk.Y)
	e.Add(e, mk.X)
	e.Mul(e, total)
	e.Mod(e, bn256.Order)
	c := new(bn256.G1).ScalarMult(a, e)

	return &Certificate{ID: id, A: a, B: b, C: c}, nil
}

// Verify accepts iff e(a,Y) = e(b,g2) and e(a,X)·e(b,X)^H(ID) = e(c,g2).
// A false result is the ordinary outcome for revoked or unsynchronised
// members, not an error.
func Verify(pp *group.PublicParameters, ct *Certificate) bool {
	if ct.Check() != nil {
		return false
	}
	if !group.GTEqual(bn256.Pair(ct.A, pp.Y), bn256.Pair(ct.B, pp.G2)) {
		return false
	}
	h := group.HashToScalar(ct.ID)
	lhs := new(bn256.GT).Add(bn256.Pair(ct.A, pp.X),
		new(bn256.GT).ScalarMult(bn256.Pair(ct.B, pp.X), h))
	return group.GTEqual(lhs, bn256.Pair(ct.C, pp.G2))
}

// Check rejects certificates with missing fields before they are hashed
// or paired.
func (ct *Certificate) Check() error {
	if ct == nil {
		return group.Violation("missing certificate")
	}
	if ct.ID == "" || ct.A == nil || ct.B == nil || ct.C == nil {
		return group.Violation("incomplete certificate for %q", ct.ID)
	}
	return nil
}

// Advance applies a blinding update: c := c^t.
func (ct *Certificate) Advance(t *big.Int) {
	ct.C = new(bn256.G1).ScalarMult(ct.C, t)
}

func (ct *Certificate) Clone() *Certificate {
	return &Certificate{
		ID: ct.ID,
		A:  new(bn256.G1).Set(ct.A),
		B:  new(bn256.G1).Set(ct.B),
		C:  new(bn256.G1).Set(ct.C),
	}
}

type certificateWire struct {
	ID      string
	A, B, C []byte
}

func (ct *Certificate) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&certificateWire{
		ID: ct.ID,
		A:  ct.A.Marshal(),
		B:  ct.B.Marshal(),
		C:  ct.C.Marshal(),
	})
}

func (ct *Certificate) UnmarshalBinary(buf []byte) error {
	var w certificateWire
	if err := protobuf.Decode(buf, &w); err != nil {
		return group.Violation("decoding certificate: %v", err)
	}
	if w.ID == "" {
		return group.Violation("certificate without id")
	}
	var err error
	out := Certificate{ID: w.ID}
	if out.A, err = group.DecodeG1(w.A); err != nil {
		return xerrors.Errorf("certificate a: %w", err)
	}
	if out.B, err = group.DecodeG1(w.B); err != nil {
		return xerrors.Errorf("certificate b: %w", err)
	}
	if out.C, err = group.DecodeG1(w.C); err != nil {
		return xerrors.Errorf("certificate c: %w", err)
	}
	*ct = out
	return nil
}

// Digest is the hash of the canonical encoding, used in signed requests.
func (ct *Certificate) Digest() []byte {
	h := sha256.New()
	h.Write([]byte(ct.ID))
	h.Write(ct.A.Marshal())
	h.Write(ct.B.Marshal())
	h.Write(ct.C.Marshal())
	return h.Sum(nil)
}
