package sse

import (
	"math/big"

	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/AUKUS561/GOSE/POLY"
	"github.com/fentec-project/bn256"
	"github.com/fentec-project/gofe/data"
)

// SSE builds secure indexes and trapdoors. It needs the group secret α and
// so only runs on members.
type SSE struct {
	P  *big.Int
	pp *group.PublicParameters
	gs *group.GroupSecret
}

func NewSSE(pp *group.PublicParameters, gs *group.GroupSecret) *SSE {
	return &SSE{
		P:  bn256.Order,
		pp: pp,
		gs: gs,
	}
}

// SecureIndex IL = (g1^(rs·c_0), ..., g1^(rs·c_l)) where c are the
// coefficients of the document's root polynomial.
type SecureIndex []*bn256.G1

// Trapdoor T[i] = Π_w g2^(ru·(α·H(w))^i), i = 0..l.
type Trapdoor []*bn256.G2

// encode maps a term to its root α·H(term).
func (sse *SSE) encode(term string) *big.Int {
	r := new(big.Int).Mul(sse.gs.Alpha, group.HashToScalar(term))
	return r.Mod(r, sse.P)
}

// BuildIndex(owner, L) -> IL
//
// The root list is α·H(owner) followed by α·H(w) for every distinct
// keyword, padded with α·Sentinel to exactly l roots, so the server never
// learns how many keywords a document carries.
func (sse *SSE) BuildIndex(owner string, keywords []string) (SecureIndex, error) {
	if owner == "" {
		return nil, group.Violation("index without owner")
	}
	words := dedup(keywords)
	l := sse.pp.L
	if len(words) > l-1 {
		return nil, group.Violation("%d keywords, index holds at most %d", len(words), l-1)
	}

	roots := make(data.Vector, 0, l)
	roots = append(roots, sse.encode(owner))
	for _, w := range words {
		roots = append(roots, sse.encode(w))
	}
	pad := new(big.Int).Mul(sse.gs.Alpha, group.Sentinel())
	pad.Mod(pad, sse.P)
	for len(roots) < l {
		roots = append(roots, pad)
	}

	coeffs := poly.FromRoots(roots, sse.P)

	rs, err := group.RandomScalar()
	if err != nil {
		return nil, err
	}
	exps := coeffs.MulScalar(rs).Mod(sse.P)
	return SecureIndex(exps.MulVecG1(repeatG1(sse.pp.G1, l+1))), nil
}

// BuildTrapdoor(L') -> T
func (sse *SSE) BuildTrapdoor(terms []string) (Trapdoor, error) {
	l := sse.pp.L
	if len(terms) == 0 {
		return nil, group.Violation("empty query")
	}
	if len(terms) > l {
		return nil, group.Violation("%d query terms, at most %d allowed", len(terms), l)
	}

	ru, err := group.RandomScalar()
	if err != nil {
		return nil, err
	}

	// Π_w g2^(ru·a_w^i) = g2^(ru·Σ_w a_w^i)
	exps := data.NewConstantVector(l+1, big.NewInt(0))
	for _, w := range terms {
		exps = exps.Add(poly.Powers(sse.encode(w), l, sse.P))
	}
	exps = exps.MulScalar(ru).Mod(sse.P)
	return Trapdoor(exps.MulVecG2(repeatG2(sse.pp.G2, l+1))), nil
}

// Test(T, IL) -> Π e(IL[i], T[i]) == 1.
//
// Expanding the product gives e(g1,g2)^(ru·rs·Σ_w P(α·H(w))), which is 1
// exactly when every queried term is a root of the document polynomial,
// up to a negligible false-positive probability.
func Test(pp *group.PublicParameters, td Trapdoor, idx SecureIndex) (bool, error) {
	if err := td.Check(pp); err != nil {
		return false, err
	}
	if err := idx.Check(pp); err != nil {
		return false, err
	}
	acc := group.GTIdentity()
	for i := range idx {
		acc = new(bn256.GT).Add(acc, bn256.Pair(idx[i], td[i]))
	}
	return group.GTEqual(acc, group.GTIdentity()), nil
}

// Check rejects an index of the wrong length or with missing elements.
func (idx SecureIndex) Check(pp *group.PublicParameters) error {
	if len(idx) != pp.IndexSize() {
		return group.Violation("index of %d elements, want %d", len(idx), pp.IndexSize())
	}
	for i, p := range idx {
		if p == nil {
			return group.Violation("index element %d missing", i)
		}
	}
	return nil
}

// Check rejects a trapdoor of the wrong length or with missing elements.
func (td Trapdoor) Check(pp *group.PublicParameters) error {
	if len(td) != pp.IndexSize() {
		return group.Violation("trapdoor of %d elements, want %d", len(td), pp.IndexSize())
	}
	for i, p := range td {
		if p == nil {
			return group.Violation("trapdoor element %d missing", i)
		}
	}
	return nil
}

//---------------------------------- Auxiliary Functions ----------------------------------//

func dedup(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func repeatG1(g *bn256.G1, n int) data.VectorG1 {
	v := make(data.VectorG1, n)
	for i := range v {
		v[i] = new(bn256.G1).Set(g)
	}
	return v
}

func repeatG2(g *bn256.G2, n int) data.VectorG2 {
	v := make(data.VectorG2, n)
	for i := range v {
		v[i] = new(bn256.G2).Set(g)
	}
	return v
}
