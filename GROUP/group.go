package group

import (
	"crypto/rand"
	"math/big"

	"github.com/fentec-project/bn256"
	"github.com/fentec-project/gofe/sample"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// CurveBN256 is the only pairing instantiation currently supported.
const CurveBN256 = "bn256"

// PublicParameters = (curve, q, g1, g2, X = g2^x, Y = g2^y, l, g1^σ).
// X advances with every join and leave; everything else is fixed at setup.
type PublicParameters struct {
	Curve string
	Order *big.Int  // q
	G1    *bn256.G1 // g on the index side
	G2    *bn256.G2 // g on the trapdoor / verification side
	X     *bn256.G2 // g2^(x·T)
	Y     *bn256.G2 // g2^y
	L     int       // index length bound

	// KeyCommitment = g1^σ, the public half of the GM's partial-key proofs.
	KeyCommitment *bn256.G1
}

// GroupSecret = (α, P, Pp = P^λ, Q, Q' = Q^(λ−σ)), shared by all members.
type GroupSecret struct {
	Alpha *big.Int
	P     *bn256.G1
	Pp    *bn256.G1
	Q     *bn256.G2
	Qp    *bn256.G2
}

// MasterSecret = (x, y, λ, σ), held by the group manager only.
type MasterSecret struct {
	X      *big.Int
	Y      *big.Int
	Lambda *big.Int
	Sigma  *big.Int
}

// Setup(curve, l) -> (PP, SKg, MK)
func Setup(curve string, l int) (*PublicParameters, *GroupSecret, *MasterSecret, error) {
	if curve != CurveBN256 {
		return nil, nil, nil, xerrors.Errorf("unknown curve %q: %w", curve, ErrFatalSetup)
	}
	if l < 2 {
		return nil, nil, nil, xerrors.Errorf("index length %d below 2: %w", l, ErrFatalSetup)
	}

	// g1, g2, P, Q uniformly from the groups
	_, g1, err := bn256.RandomG1(rand.Reader)
	if err != nil {
		return nil, nil, nil, xerrors.Errorf("sampling g1: %v: %w", err, ErrFatalSetup)
	}
	_, g2, err := bn256.RandomG2(rand.Reader)
	if err != nil {
		return nil, nil, nil, xerrors.Errorf("sampling g2: %v: %w", err, ErrFatalSetup)
	}
	_, P, err := bn256.RandomG1(rand.Reader)
	if err != nil {
		return nil, nil, nil, xerrors.Errorf("sampling P: %v: %w", err, ErrFatalSetup)
	}
	_, Q, err := bn256.RandomG2(rand.Reader)
	if err != nil {
		return nil, nil, nil, xerrors.Errorf("sampling Q: %v: %w", err, ErrFatalSetup)
	}

	// α, x, y, λ, σ ∈ Zq* \ {1}
	scalars := make([]*big.Int, 5)
	for i := range scalars {
		scalars[i], err = RandomScalar()
		if err != nil {
			return nil, nil, nil, xerrors.Errorf("sampling secrets: %v: %w", err, ErrFatalSetup)
		}
	}
	alpha, x, y, lambda, sigma := scalars[0], scalars[1], scalars[2], scalars[3], scalars[4]

	// Q' = Q^(λ−σ)
	lambdaSigma := new(big.Int).Sub(lambda, sigma)
	lambdaSigma.Mod(lambdaSigma, bn256.Order)

	pp := &PublicParameters{
		Curve:         curve,
		Order:         new(big.Int).Set(bn256.Order),
		G1:            g1,
		G2:            g2,
		X:             new(bn256.G2).ScalarMult(g2, x),
		Y:             new(bn256.G2).ScalarMult(g2, y),
		L:             l,
		KeyCommitment: new(bn256.G1).ScalarMult(g1, sigma),
	}
	gs := &GroupSecret{
		Alpha: alpha,
		P:     P,
		Pp:    new(bn256.G1).ScalarMult(P, lambda),
		Q:     Q,
		Qp:    new(bn256.G2).ScalarMult(Q, lambdaSigma),
	}
	mk := &MasterSecret{X: x, Y: y, Lambda: lambda, Sigma: sigma}

	log.Lvlf2("setup done: curve=%s l=%d", curve, l)
	return pp, gs, mk, nil
}

// RandomScalar samples uniformly from Zq* \ {1}.
func RandomScalar() (*big.Int, error) {
	sampler := sample.NewUniformRange(big.NewInt(2), bn256.Order)
	return sampler.Sample()
}

// Clone returns a deep copy, so that every participant can hold its own
// snapshot and advance X independently.
func (pp *PublicParameters) Clone() *PublicParameters {
	return &PublicParameters{
		Curve:         pp.Curve,
		Order:         new(big.Int).Set(pp.Order),
		G1:            new(bn256.G1).Set(pp.G1),
		G2:            new(bn256.G2).Set(pp.G2),
		X:             new(bn256.G2).Set(pp.X),
		Y:             new(bn256.G2).Set(pp.Y),
		L:             pp.L,
		KeyCommitment: new(bn256.G1).Set(pp.KeyCommitment),
	}
}

// Advance applies a blinding factor: X := X^t.
func (pp *PublicParameters) Advance(t *big.Int) {
	pp.X = new(bn256.G2).ScalarMult(pp.X, t)
}

// IndexSize is the number of group elements in every index and trapdoor.
func (pp *PublicParameters) IndexSize() int {
	return pp.L + 1
}
