// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// L2Weights specifies the shape of the L2 penalty before it is
// scaled by alpha*(1-l1_ratio). The zero value is the identity.
type L2Weights struct {
	// Vector is the diagonal of the penalty matrix.
	Vector []float64
	// Matrix is a full penalty matrix. It is symmetrized before
	// use.
	Matrix mat.Matrix
}

func (w L2Weights) isZeroValue() bool {
	return w.Vector == nil && w.Matrix == nil
}

// L2Penalty is a scaled, validated L2 penalty matrix P2. Exactly
// one of diag, dia, full is set.
type L2Penalty struct {
	n    int
	diag []float64
	dia  *sparse.DIA
	full *mat.SymDense
}

func (p *L2Penalty) diagonal() []float64 {
	if p.dia != nil {
		return p.dia.Diagonal()
	}
	return p.diag
}

// At returns P2[i,j].
func (p *L2Penalty) At(i, j int) float64 {
	if p.full != nil {
		return p.full.At(i, j)
	}
	if i != j {
		return 0
	}
	return p.diagonal()[i]
}

// MulVec sets dst to P2 b.
func (p *L2Penalty) MulVec(dst, b []float64) {
	if p.full != nil {
		mat.NewVecDense(p.n, dst).MulVec(p.full, mat.NewVecDense(p.n, b))
		return
	}
	floats.MulTo(dst, p.diagonal(), b)
}

// Quadratic returns ½ bᵀ P2 b.
func (p *L2Penalty) Quadratic(b []float64) float64 {
	if p.full != nil {
		v := mat.NewVecDense(p.n, b)
		return mat.Inner(v, p.full, v) / 2
	}
	var sum float64
	for j, d := range p.diagonal() {
		sum += d * b[j] * b[j]
	}
	return sum / 2
}

// addTo adds P2 to the trailing n×n block of h.
func (p *L2Penalty) addTo(h *mat.SymDense) {
	k, _ := h.Dims()
	off := k - p.n
	if p.full != nil {
		for i := 0; i < p.n; i++ {
			for j := i; j < p.n; j++ {
				h.SetSym(off+i, off+j, h.At(off+i, off+j)+p.full.At(i, j))
			}
		}
		return
	}
	for j, d := range p.diagonal() {
		h.SetSym(off+j, off+j, h.At(off+j, off+j)+d)
	}
}

// isZero reports whether P2 is identically zero.
func (p *L2Penalty) isZero() bool {
	if p.full != nil {
		r, _ := p.full.Dims()
		for i := 0; i < r; i++ {
			for j := i; j < r; j++ {
				if p.full.At(i, j) != 0 {
					return false
				}
			}
		}
		return true
	}
	for _, d := range p.diagonal() {
		if d != 0 {
			return false
		}
	}
	return true
}

// setupP1 returns alpha*l1Ratio*weights, where nil weights mean all
// ones.
func setupP1(weights []float64, n int, alpha, l1Ratio float64) ([]float64, error) {
	if weights == nil {
		weights = ones(n)
	} else if len(weights) != n {
		return nil, errValidation("L1 penalty weights have length %d, expected %d", len(weights), n)
	}
	p1 := make([]float64, n)
	for j, v := range weights {
		if v < 0 {
			return nil, errValidation("L1 penalty weight %d is negative (%v)", j, v)
		}
		p1[j] = alpha * l1Ratio * v
	}
	return p1, nil
}

// setupP2 returns alpha*(1-l1Ratio)*weights. Diagonal penalties for a
// sparse design are stored as a sparse diagonal matrix.
func setupP2(weights L2Weights, n int, sparseX bool, alpha, l1Ratio float64) (*L2Penalty, error) {
	scale := alpha * (1 - l1Ratio)
	if weights.Matrix != nil {
		r, c := weights.Matrix.Dims()
		if r != n || c != n {
			return nil, errValidation("L2 penalty matrix is %dx%d, expected %dx%d", r, c, n, n)
		}
		full := symmetrize(weights.Matrix)
		for j := 0; j < n; j++ {
			if full.At(j, j) < 0 {
				return nil, errValidation("L2 penalty matrix has negative diagonal entry %d", j)
			}
		}
		full.ScaleSym(scale, full)
		return &L2Penalty{n: n, full: full}, nil
	}
	diag := weights.Vector
	if diag == nil {
		diag = ones(n)
	} else if len(diag) != n {
		return nil, errValidation("L2 penalty weights have length %d, expected %d", len(diag), n)
	}
	scaled := make([]float64, n)
	for j, v := range diag {
		if v < 0 {
			return nil, errValidation("L2 penalty weight %d is negative (%v)", j, v)
		}
		scaled[j] = scale * v
	}
	if sparseX {
		return &L2Penalty{n: n, dia: sparse.NewDIA(n, n, scaled)}, nil
	}
	return &L2Penalty{n: n, diag: scaled}, nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
