package kem

import (
	"crypto/sha256"
	"math/big"

	"github.com/AUKUS561/GOSE/DLEQ"
	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/fentec-project/bn256"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// ErrBadPartialKey is returned when the GM's proof over D does not verify.
var ErrBadPartialKey = xerrors.New("partial key proof rejected")

// EncryptedKey = (U = P^γ, V = R ⊕ H(e(Pp, Q)^γ)).
type EncryptedKey struct {
	U *bn256.G1
	V []byte
}

// AuxRequest carries the blinded U' = U^μ; the GM never sees U.
type AuxRequest struct {
	UPrime *bn256.G1
}

// PartialKey D = e(U', Q)^σ together with a proof that the GM used the σ
// committed to in the public parameters.
type PartialKey struct {
	D     *bn256.GT
	Proof *DLEQ.Prfs
}

// Wrap(SKg, R) -> EK
func Wrap(gs *group.GroupSecret, r []byte) (*EncryptedKey, error) {
	if len(r) == 0 {
		return nil, group.Violation("empty key")
	}
	gamma, err := group.RandomScalar()
	if err != nil {
		return nil, err
	}
	u := new(bn256.G1).ScalarMult(gs.P, gamma)
	k := new(bn256.GT).ScalarMult(bn256.Pair(gs.Pp, gs.Q), gamma)
	mask, err := group.HashToBytes(k, len(r))
	if err != nil {
		return nil, err
	}
	return &EncryptedKey{U: u, V: group.XOR(r, mask)}, nil
}

// RequestAux blinds U with a fresh μ and returns ν = μ⁻¹ for Unwrap.
func RequestAux(ek *EncryptedKey) (*AuxRequest, *big.Int, error) {
	if ek == nil || ek.U == nil {
		return nil, nil, group.Violation("encrypted key without U")
	}
	mu, err := group.RandomScalar()
	if err != nil {
		return nil, nil, err
	}
	nu := new(big.Int).ModInverse(mu, bn256.Order)
	return &AuxRequest{UPrime: new(bn256.G1).ScalarMult(ek.U, mu)}, nu, nil
}

// IssueKey(SKg, MK, U') -> D. Callers decide whether the requester is
// entitled to a key; this only does the arithmetic.
func IssueKey(pp *group.PublicParameters, gs *group.GroupSecret, mk *group.MasterSecret,
	req *AuxRequest) (*PartialKey, error) {
	if req == nil || req.UPrime == nil {
		return nil, group.Violation("key request without U'")
	}
	base := bn256.Pair(req.UPrime, gs.Q)
	d := new(bn256.GT).ScalarMult(base, mk.Sigma)
	proof, err := DLEQ.Proof(mk.Sigma, base, d, pp.G1, pp.KeyCommitment)
	if err != nil {
		return nil, xerrors.Errorf("proving partial key: %v", err)
	}
	return &PartialKey{D: d, Proof: proof}, nil
}

// VerifyPartialKey checks log_{e(U',Q)} D = log_{g1} KeyCommitment.
func VerifyPartialKey(pp *group.PublicParameters, gs *group.GroupSecret, req *AuxRequest, pk *PartialKey) error {
	if pk == nil || pk.D == nil {
		return group.Violation("empty partial key")
	}
	base := bn256.Pair(req.UPrime, gs.Q)
	if !DLEQ.Verify(pk.Proof, base, pk.D, pp.G1, pp.KeyCommitment) {
		return ErrBadPartialKey
	}
	return nil
}

// Unwrap(SKg, EK, D, ν) -> R
//
// D^ν·e(U, Q') = e(U, Q)^σ·e(U, Q)^(λ−σ) = e(P, Q)^(γλ) = e(Pp, Q)^γ.
func Unwrap(gs *group.GroupSecret, ek *EncryptedKey, d *bn256.GT, nu *big.Int) ([]byte, error) {
	if ek == nil || ek.U == nil || d == nil || nu == nil {
		return nil, group.Violation("incomplete unwrap input")
	}
	k := new(bn256.GT).Add(new(bn256.GT).ScalarMult(d, nu), bn256.Pair(ek.U, gs.Qp))
	mask, err := group.HashToBytes(k, len(ek.V))
	if err != nil {
		return nil, err
	}
	return group.XOR(ek.V, mask), nil
}

// Check rejects an encrypted key without U or V.
func (ek *EncryptedKey) Check() error {
	if ek == nil || ek.U == nil || len(ek.V) == 0 {
		return group.Violation("incomplete encrypted key")
	}
	return nil
}

type encryptedKeyWire struct {
	U []byte
	V []byte
}

func (ek *EncryptedKey) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&encryptedKeyWire{U: ek.U.Marshal(), V: ek.V})
}

func (ek *EncryptedKey) UnmarshalBinary(buf []byte) error {
	var w encryptedKeyWire
	if err := protobuf.Decode(buf, &w); err != nil {
		return group.Violation("decoding encrypted key: %v", err)
	}
	u, err := group.DecodeG1(w.U)
	if err != nil {
		return xerrors.Errorf("U: %w", err)
	}
	if len(w.V) == 0 {
		return group.Violation("encrypted key without V")
	}
	ek.U, ek.V = u, w.V
	return nil
}

// Digest covers U and V; it is part of signed uploads.
func (ek *EncryptedKey) Digest() []byte {
	h := sha256.New()
	h.Write(ek.U.Marshal())
	h.Write(ek.V)
	return h.Sum(nil)
}

type partialKeyWire struct {
	D     []byte
	Proof []byte
}

func (pk *PartialKey) MarshalBinary() ([]byte, error) {
	proof, err := pk.Proof.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return protobuf.Encode(&partialKeyWire{D: pk.D.Marshal(), Proof: proof})
}

func (pk *PartialKey) UnmarshalBinary(buf []byte) error {
	var w partialKeyWire
	if err := protobuf.Decode(buf, &w); err != nil {
		return group.Violation("decoding partial key: %v", err)
	}
	d, err := group.DecodeGT(w.D)
	if err != nil {
		return xerrors.Errorf("D: %w", err)
	}
	proof := new(DLEQ.Prfs)
	if err := proof.UnmarshalBinary(w.Proof); err != nil {
		return err
	}
	pk.D, pk.Proof = d, proof
	return nil
}
