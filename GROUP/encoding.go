package group

import (
	"math/big"

	"github.com/fentec-project/bn256"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// Encoded sizes of the bn256 elements. G2 carries a one-byte tag in front
// of its four coordinates and encodes the point at infinity as the tag
// alone.
const (
	ScalarSize     = 32
	G1Size         = 64
	G2Size         = 129
	G2InfinitySize = 1
	GTSize         = 384
)

// EncodeScalar writes s as a fixed-length big-endian integer mod q.
func EncodeScalar(s *big.Int) []byte {
	out := make([]byte, ScalarSize)
	new(big.Int).Mod(s, bn256.Order).FillBytes(out)
	return out
}

// DecodeScalar is the inverse of EncodeScalar.
func DecodeScalar(b []byte) (*big.Int, error) {
	if len(b) != ScalarSize {
		return nil, Violation("scalar of %d bytes", len(b))
	}
	s := new(big.Int).SetBytes(b)
	if s.Cmp(bn256.Order) >= 0 {
		return nil, Violation("scalar not reduced mod q")
	}
	return s, nil
}

func DecodeG1(b []byte) (*bn256.G1, error) {
	if len(b) != G1Size {
		return nil, Violation("G1 element of %d bytes", len(b))
	}
	p := new(bn256.G1)
	if _, err := p.Unmarshal(b); err != nil {
		return nil, Violation("G1 element: %v", err)
	}
	return p, nil
}

func DecodeG2(b []byte) (*bn256.G2, error) {
	if len(b) != G2Size && len(b) != G2InfinitySize {
		return nil, Violation("G2 element of %d bytes", len(b))
	}
	p := new(bn256.G2)
	if _, err := p.Unmarshal(b); err != nil {
		return nil, Violation("G2 element: %v", err)
	}
	return p, nil
}

func DecodeGT(b []byte) (*bn256.GT, error) {
	if len(b) != GTSize {
		return nil, Violation("GT element of %d bytes", len(b))
	}
	p := new(bn256.GT)
	if _, err := p.Unmarshal(b); err != nil {
		return nil, Violation("GT element: %v", err)
	}
	return p, nil
}

type publicParametersWire struct {
	Curve         string
	G1            []byte
	G2            []byte
	X             []byte
	Y             []byte
	L             int64
	KeyCommitment []byte
}

// MarshalBinary encodes the public parameters with protobuf.
func (pp *PublicParameters) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&publicParametersWire{
		Curve:         pp.Curve,
		G1:            pp.G1.Marshal(),
		G2:            pp.G2.Marshal(),
		X:             pp.X.Marshal(),
		Y:             pp.Y.Marshal(),
		L:             int64(pp.L),
		KeyCommitment: pp.KeyCommitment.Marshal(),
	})
}

// UnmarshalBinary decodes public parameters produced by MarshalBinary.
func (pp *PublicParameters) UnmarshalBinary(buf []byte) error {
	var w publicParametersWire
	if err := protobuf.Decode(buf, &w); err != nil {
		return Violation("decoding public parameters: %v", err)
	}
	if w.Curve != CurveBN256 {
		return Violation("unknown curve %q", w.Curve)
	}
	if w.L < 2 {
		return Violation("index length %d", w.L)
	}
	var err error
	out := PublicParameters{Curve: w.Curve, Order: new(big.Int).Set(bn256.Order), L: int(w.L)}
	if out.G1, err = DecodeG1(w.G1); err != nil {
		return xerrors.Errorf("g1: %w", err)
	}
	if out.G2, err = DecodeG2(w.G2); err != nil {
		return xerrors.Errorf("g2: %w", err)
	}
	if out.X, err = DecodeG2(w.X); err != nil {
		return xerrors.Errorf("X: %w", err)
	}
	if out.Y, err = DecodeG2(w.Y); err != nil {
		return xerrors.Errorf("Y: %w", err)
	}
	if out.KeyCommitment, err = DecodeG1(w.KeyCommitment); err != nil {
		return xerrors.Errorf("key commitment: %w", err)
	}
	*pp = out
	return nil
}

type groupSecretWire struct {
	Alpha []byte
	P     []byte
	Pp    []byte
	Q     []byte
	Qp    []byte
}

// MarshalBinary encodes the group secret; it must only travel over an
// authenticated, confidential channel.
func (gs *GroupSecret) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&groupSecretWire{
		Alpha: EncodeScalar(gs.Alpha),
		P:     gs.P.Marshal(),
		Pp:    gs.Pp.Marshal(),
		Q:     gs.Q.Marshal(),
		Qp:    gs.Qp.Marshal(),
	})
}

func (gs *GroupSecret) UnmarshalBinary(buf []byte) error {
	var w groupSecretWire
	if err := protobuf.Decode(buf, &w); err != nil {
		return Violation("decoding group secret: %v", err)
	}
	var err error
	var out GroupSecret
	if out.Alpha, err = DecodeScalar(w.Alpha); err != nil {
		return xerrors.Errorf("alpha: %w", err)
	}
	if out.P, err = DecodeG1(w.P); err != nil {
		return xerrors.Errorf("P: %w", err)
	}
	if out.Pp, err = DecodeG1(w.Pp); err != nil {
		return xerrors.Errorf("Pp: %w", err)
	}
	if out.Q, err = DecodeG2(w.Q); err != nil {
		return xerrors.Errorf("Q: %w", err)
	}
	if out.Qp, err = DecodeG2(w.Qp); err != nil {
		return xerrors.Errorf("Qp: %w", err)
	}
	*gs = out
	return nil
}

type masterSecretWire struct {
	X, Y, Lambda, Sigma []byte
}

// MarshalBinary encodes the master secret for the GM's own storage.
func (mk *MasterSecret) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&masterSecretWire{
		X:      EncodeScalar(mk.X),
		Y:      EncodeScalar(mk.Y),
		Lambda: EncodeScalar(mk.Lambda),
		Sigma:  EncodeScalar(mk.Sigma),
	})
}

func (mk *MasterSecret) UnmarshalBinary(buf []byte) error {
	var w masterSecretWire
	if err := protobuf.Decode(buf, &w); err != nil {
		return Violation("decoding master secret: %v", err)
	}
	var err error
	var out MasterSecret
	for _, f := range []struct {
		dst **big.Int
		src []byte
	}{{&out.X, w.X}, {&out.Y, w.Y}, {&out.Lambda, w.Lambda}, {&out.Sigma, w.Sigma}} {
		if *f.dst, err = DecodeScalar(f.src); err != nil {
			return xerrors.Errorf("master secret: %w", err)
		}
	}
	*mk = out
	return nil
}
