// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Matrix is a design matrix with n rows (observations) and p
// columns (features). Implementations must be safe for concurrent
// read-only use.
type Matrix interface {
	Dims() (r, c int)
	// MulVec sets dst (length r) to X b.
	MulVec(dst, b []float64)
	// TMulVec sets dst (length c) to Xᵀ v.
	TMulVec(dst, v []float64)
	// Sandwich returns Xᵀ diag(d) X.
	Sandwich(d []float64) *mat.SymDense
	// GroupSums returns the nGroups×c matrix whose row g is the sum
	// of v[i]*X[i,:] over the rows i with groups[i] == g.
	GroupSums(v []float64, groups []int, nGroups int) *mat.Dense
	// ColumnMeans returns the w-weighted column means.
	ColumnMeans(w []float64) []float64
	// ColumnStds returns the w-weighted column standard deviations
	// around the given means, normalized by the sum of weights.
	ColumnStds(w, means []float64) []float64
	ToDense() *mat.Dense
}

// DenseMatrix is a Matrix backed by a gonum mat.Dense.
type DenseMatrix struct {
	m *mat.Dense
}

// NewDenseMatrix returns a dense design matrix using data (row
// major, length r*c) as its backing store.
func NewDenseMatrix(r, c int, data []float64) *DenseMatrix {
	return &DenseMatrix{m: mat.NewDense(r, c, data)}
}

// DenseMatrixFrom wraps an existing gonum matrix.
func DenseMatrixFrom(m *mat.Dense) *DenseMatrix {
	return &DenseMatrix{m: m}
}

func (dm *DenseMatrix) Dims() (int, int) { return dm.m.Dims() }

func (dm *DenseMatrix) MulVec(dst, b []float64) {
	r, c := dm.m.Dims()
	mat.NewVecDense(r, dst).MulVec(dm.m, mat.NewVecDense(c, b))
}

func (dm *DenseMatrix) TMulVec(dst, v []float64) {
	r, c := dm.m.Dims()
	mat.NewVecDense(c, dst).MulVec(dm.m.T(), mat.NewVecDense(r, v))
}

func (dm *DenseMatrix) Sandwich(d []float64) *mat.SymDense {
	r, c := dm.m.Dims()
	scaled := mat.NewDense(r, c, nil)
	scaled.Apply(func(i, j int, v float64) float64 { return v * d[i] }, dm.m)
	var prod mat.Dense
	prod.Mul(dm.m.T(), scaled)
	return symmetrize(&prod)
}

func (dm *DenseMatrix) GroupSums(v []float64, groups []int, nGroups int) *mat.Dense {
	r, c := dm.m.Dims()
	out := mat.NewDense(nGroups, c, nil)
	for i := 0; i < r; i++ {
		floats.AddScaled(out.RawRowView(groups[i]), v[i], dm.m.RawRowView(i))
	}
	return out
}

func (dm *DenseMatrix) ColumnMeans(w []float64) []float64 {
	r, c := dm.m.Dims()
	means := make([]float64, c)
	col := make([]float64, r)
	for j := range means {
		mat.Col(col, j, dm.m)
		means[j] = stat.Mean(col, w)
	}
	return means
}

func (dm *DenseMatrix) ColumnStds(w, means []float64) []float64 {
	r, c := dm.m.Dims()
	sumw := sumWeights(w, r)
	stds := make([]float64, c)
	for i := 0; i < r; i++ {
		wi := weightAt(w, i)
		for j, x := range dm.m.RawRowView(i) {
			d := x - means[j]
			stds[j] += wi * d * d
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / sumw)
	}
	return stds
}

func (dm *DenseMatrix) ToDense() *mat.Dense {
	return mat.DenseCopyOf(dm.m)
}

// SparseMatrix is a Matrix backed by a compressed sparse column
// matrix.
type SparseMatrix struct {
	csc *sparse.CSC
}

func NewSparseMatrix(csc *sparse.CSC) *SparseMatrix {
	return &SparseMatrix{csc: csc}
}

// SparseMatrixFromDense converts row-major data to CSC, dropping
// zero entries.
func SparseMatrixFromDense(r, c int, data []float64) *SparseMatrix {
	indptr := make([]int, c+1)
	var ind []int
	var vals []float64
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			if x := data[i*c+j]; x != 0 {
				ind = append(ind, i)
				vals = append(vals, x)
			}
		}
		indptr[j+1] = len(ind)
	}
	return &SparseMatrix{csc: sparse.NewCSC(r, c, indptr, ind, vals)}
}

func (sm *SparseMatrix) Dims() (int, int) { return sm.csc.Dims() }

// column calls fn for each nonzero entry of column j.
func (sm *SparseMatrix) column(j int, fn func(i int, x float64)) {
	raw := sm.csc.RawMatrix()
	for k := raw.Indptr[j]; k < raw.Indptr[j+1]; k++ {
		fn(raw.Ind[k], raw.Data[k])
	}
}

func (sm *SparseMatrix) MulVec(dst, b []float64) {
	_, c := sm.Dims()
	for i := range dst {
		dst[i] = 0
	}
	for j := 0; j < c; j++ {
		if b[j] == 0 {
			continue
		}
		bj := b[j]
		sm.column(j, func(i int, x float64) { dst[i] += x * bj })
	}
}

func (sm *SparseMatrix) TMulVec(dst, v []float64) {
	for j := range dst {
		var sum float64
		sm.column(j, func(i int, x float64) { sum += x * v[i] })
		dst[j] = sum
	}
}

func (sm *SparseMatrix) Sandwich(d []float64) *mat.SymDense {
	r, c := sm.Dims()
	out := mat.NewSymDense(c, nil)
	work := make([]float64, r)
	for j := 0; j < c; j++ {
		sm.column(j, func(i int, x float64) { work[i] = x * d[i] })
		for l := j; l < c; l++ {
			var sum float64
			sm.column(l, func(i int, x float64) { sum += x * work[i] })
			out.SetSym(j, l, sum)
		}
		sm.column(j, func(i int, x float64) { work[i] = 0 })
	}
	return out
}

func (sm *SparseMatrix) GroupSums(v []float64, groups []int, nGroups int) *mat.Dense {
	_, c := sm.Dims()
	out := mat.NewDense(nGroups, c, nil)
	for j := 0; j < c; j++ {
		sm.column(j, func(i int, x float64) {
			g := groups[i]
			out.Set(g, j, out.At(g, j)+v[i]*x)
		})
	}
	return out
}

func (sm *SparseMatrix) ColumnMeans(w []float64) []float64 {
	r, c := sm.Dims()
	sumw := sumWeights(w, r)
	means := make([]float64, c)
	for j := range means {
		var sum float64
		sm.column(j, func(i int, x float64) { sum += weightAt(w, i) * x })
		means[j] = sum / sumw
	}
	return means
}

func (sm *SparseMatrix) ColumnStds(w, means []float64) []float64 {
	r, c := sm.Dims()
	sumw := sumWeights(w, r)
	stds := make([]float64, c)
	for j := range stds {
		// Zero entries contribute w*mean²; add the nonzero
		// entries' correction on top of that.
		ss := sumw * means[j] * means[j]
		sm.column(j, func(i int, x float64) {
			d := x - means[j]
			ss += weightAt(w, i) * (d*d - means[j]*means[j])
		})
		stds[j] = math.Sqrt(math.Max(ss, 0) / sumw)
	}
	return stds
}

func (sm *SparseMatrix) ToDense() *mat.Dense {
	r, c := sm.Dims()
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		sm.column(j, func(i int, x float64) { out.Set(i, j, x) })
	}
	return out
}

func weightAt(w []float64, i int) float64 {
	if w == nil {
		return 1
	}
	return w[i]
}

func sumWeights(w []float64, n int) float64 {
	if w == nil {
		return float64(n)
	}
	return floats.Sum(w)
}

// symmetrize returns ½(a+aᵀ) as a SymDense.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return out
}

// design is a Matrix with an optional leading column of ones.
// Coefficient vectors passed to it include the intercept first when
// intercept is true.
type design struct {
	x         Matrix
	intercept bool
}

func (d design) width() int {
	_, c := d.x.Dims()
	if d.intercept {
		return c + 1
	}
	return c
}

func (d design) features(coef []float64) []float64 {
	if d.intercept {
		return coef[1:]
	}
	return coef
}

// linearPredictor sets dst to X coef + offset.
func (d design) linearPredictor(dst, coef, offset []float64) {
	d.x.MulVec(dst, d.features(coef))
	for i := range dst {
		if d.intercept {
			dst[i] += coef[0]
		}
		if offset != nil {
			dst[i] += offset[i]
		}
	}
}

func (d design) tMulVec(dst, v []float64) {
	if d.intercept {
		dst[0] = floats.Sum(v)
		d.x.TMulVec(dst[1:], v)
		return
	}
	d.x.TMulVec(dst, v)
}

func (d design) sandwich(w []float64) *mat.SymDense {
	inner := d.x.Sandwich(w)
	if !d.intercept {
		return inner
	}
	_, c := d.x.Dims()
	u := make([]float64, c)
	d.x.TMulVec(u, w)
	out := mat.NewSymDense(c+1, nil)
	out.SetSym(0, 0, floats.Sum(w))
	for j := 0; j < c; j++ {
		out.SetSym(0, j+1, u[j])
		for l := j; l < c; l++ {
			out.SetSym(j+1, l+1, inner.At(j, l))
		}
	}
	return out
}

func (d design) groupSums(v []float64, groups []int, nGroups int) *mat.Dense {
	inner := d.x.GroupSums(v, groups, nGroups)
	if !d.intercept {
		return inner
	}
	_, c := d.x.Dims()
	out := mat.NewDense(nGroups, c+1, nil)
	out.Slice(0, nGroups, 1, c+1).(*mat.Dense).Copy(inner)
	for i, g := range groups {
		out.Set(g, 0, out.At(g, 0)+v[i])
	}
	return out
}
