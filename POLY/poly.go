package poly

import (
	"math/big"

	"github.com/fentec-project/gofe/data"
)

/*
FromRoots expands Π (x − r_j) over Zp.

Input:

	roots: the roots r_1..r_n
	p: prime order of the field

Output: coefficient vector c_0..c_n in ascending degree, c_n = 1.
*/
func FromRoots(roots data.Vector, p *big.Int) data.Vector {
	// start from the constant polynomial 1
	coeffs := data.NewConstantVector(len(roots)+1, big.NewInt(0))
	coeffs[0] = big.NewInt(1)

	for deg, r := range roots {
		negR := new(big.Int).Neg(r)
		negR.Mod(negR, p)
		// multiply by (x − r): c'_i = c_{i-1} − r·c_i
		for i := deg + 1; i > 0; i-- {
			t := new(big.Int).Mul(coeffs[i], negR)
			t.Add(t, coeffs[i-1])
			coeffs[i] = t.Mod(t, p)
		}
		c0 := new(big.Int).Mul(coeffs[0], negR)
		coeffs[0] = c0.Mod(c0, p)
	}
	return coeffs
}

// Eval computes Σ c_i·x^i mod p with Horner's rule.
func Eval(coeffs data.Vector, x, p *big.Int) *big.Int {
	acc := big.NewInt(0)
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(acc, x)
		acc.Add(acc, coeffs[i])
		acc.Mod(acc, p)
	}
	return acc
}

// Powers returns (1, x, x², ..., x^n) mod p.
func Powers(x *big.Int, n int, p *big.Int) data.Vector {
	out := make(data.Vector, n+1)
	out[0] = big.NewInt(1)
	for i := 1; i <= n; i++ {
		v := new(big.Int).Mul(out[i-1], x)
		out[i] = v.Mod(v, p)
	}
	return out
}
