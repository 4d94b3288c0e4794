// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type matrixSuite struct{}

var _ = check.Suite(&matrixSuite{})

func checkSameMatrix(c *check.C, a, b mat.Matrix, tol float64, comment string) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	c.Assert([]int{ra, ca}, check.DeepEquals, []int{rb, cb})
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			if math.Abs(a.At(i, j)-b.At(i, j)) > tol {
				c.Errorf("%s: [%d,%d] %v != %v", comment, i, j, a.At(i, j), b.At(i, j))
				return
			}
		}
	}
}

// checkMatrixOps compares every Matrix operation of m against the
// same computation on its materialized form.
func checkMatrixOps(c *check.C, m Matrix, comment string) {
	dense := m.ToDense()
	r, cols := dense.Dims()
	b := make([]float64, cols)
	for j := range b {
		b[j] = float64(j) - 1.5
	}
	v := make([]float64, r)
	w := make([]float64, r)
	groups := make([]int, r)
	for i := range v {
		v[i] = math.Sin(float64(i))
		w[i] = 1 + float64(i%3)
		groups[i] = i % 4
	}

	got := make([]float64, r)
	m.MulVec(got, b)
	want := mat.NewVecDense(r, nil)
	want.MulVec(dense, mat.NewVecDense(cols, b))
	c.Check(maxAbsDiff(got, want.RawVector().Data) < 1e-10, check.Equals, true, check.Commentf("%s MulVec", comment))

	gotT := make([]float64, cols)
	m.TMulVec(gotT, v)
	wantT := mat.NewVecDense(cols, nil)
	wantT.MulVec(dense.T(), mat.NewVecDense(r, v))
	c.Check(maxAbsDiff(gotT, wantT.RawVector().Data) < 1e-10, check.Equals, true, check.Commentf("%s TMulVec", comment))

	var scaled, sandwich mat.Dense
	scaled.Apply(func(i, j int, x float64) float64 { return x * w[i] }, dense)
	sandwich.Mul(dense.T(), &scaled)
	checkSameMatrix(c, m.Sandwich(w), &sandwich, 1e-9, comment+" Sandwich")

	gs := mat.NewDense(4, cols, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			gs.Set(groups[i], j, gs.At(groups[i], j)+v[i]*dense.At(i, j))
		}
	}
	checkSameMatrix(c, m.GroupSums(v, groups, 4), gs, 1e-10, comment+" GroupSums")

	means := m.ColumnMeans(w)
	stds := m.ColumnStds(w, means)
	var sumw float64
	for _, wi := range w {
		sumw += wi
	}
	for j := 0; j < cols; j++ {
		var mean, ss float64
		for i := 0; i < r; i++ {
			mean += w[i] * dense.At(i, j)
		}
		mean /= sumw
		for i := 0; i < r; i++ {
			d := dense.At(i, j) - mean
			ss += w[i] * d * d
		}
		c.Check(math.Abs(means[j]-mean) < 1e-10, check.Equals, true, check.Commentf("%s mean %d", comment, j))
		c.Check(math.Abs(stds[j]-math.Sqrt(ss/sumw)) < 1e-10, check.Equals, true, check.Commentf("%s std %d", comment, j))
	}
}

func (s *matrixSuite) TestDense(c *check.C) {
	checkMatrixOps(c, NewDenseMatrix(30, 4, randomDesign(1, 30, 4)), "dense")
}

func (s *matrixSuite) TestSparse(c *check.C) {
	data := sparseDesign(2, 30, 4)
	sm := SparseMatrixFromDense(30, 4, data)
	checkSameMatrix(c, sm.ToDense(), mat.NewDense(30, 4, data), 0, "sparse ToDense")
	checkMatrixOps(c, sm, "sparse")
}

func (s *matrixSuite) TestStandardizedView(c *check.C) {
	data := sparseDesign(3, 40, 5)
	w := normalizedWeights(nil, 40)
	for _, x := range []Matrix{NewDenseMatrix(40, 5, data), SparseMatrixFromDense(40, 5, data)} {
		for _, scale := range []bool{false, true} {
			view := Standardize(x, w, true, scale)
			checkMatrixOps(c, view, "standardized")
			materialized := view.ToDense()
			for j := 0; j < 5; j++ {
				var sum, sumsq float64
				for i := 0; i < 40; i++ {
					sum += materialized.At(i, j)
					sumsq += materialized.At(i, j) * materialized.At(i, j)
				}
				c.Check(math.Abs(sum) < 1e-10, check.Equals, true, check.Commentf("column %d sum %v", j, sum))
				if scale {
					c.Check(math.Abs(sumsq/40-1) < 1e-10, check.Equals, true, check.Commentf("column %d mean square %v", j, sumsq/40))
				}
			}
			// Undoing the view restores the original column
			// statistics.
			means := x.ColumnMeans(w)
			c.Check(maxAbsDiff(means, view.Means) < 1e-12, check.Equals, true)
			if scale {
				c.Check(maxAbsDiff(x.ColumnStds(w, means), view.Stds) < 1e-12, check.Equals, true)
			} else {
				c.Check(view.Stds, check.DeepEquals, ones(5))
			}
		}
	}
}

func (s *matrixSuite) TestZeroVarianceColumn(c *check.C) {
	data := randomDesign(4, 10, 2)
	for i := 0; i < 10; i++ {
		data[i*2+1] = 3
	}
	view := Standardize(NewDenseMatrix(10, 2, data), nil, true, true)
	c.Check(view.Stds[1], check.Equals, 1.0)
	c.Check(view.Means[1], check.Equals, 3.0)
}

func (s *matrixSuite) TestCoefRoundTrip(c *check.C) {
	x := NewDenseMatrix(20, 3, randomDesign(5, 20, 3))
	view := Standardize(x, nil, true, true)
	raw := []float64{0.5, 1, -2, 3}
	std := view.standardizeCoef(raw, true)
	c.Check(maxAbsDiff(view.unstandardizeCoef(std, true), raw) < 1e-12, check.Equals, true)

	// The linear predictor is invariant under the transform.
	etaRaw := make([]float64, 20)
	design{x: x, intercept: true}.linearPredictor(etaRaw, raw, nil)
	etaStd := make([]float64, 20)
	design{x: view, intercept: true}.linearPredictor(etaStd, std, nil)
	c.Check(maxAbsDiff(etaRaw, etaStd) < 1e-10, check.Equals, true)

	noIntercept := Standardize(x, nil, false, false)
	c.Check(noIntercept.standardizeCoef(raw[1:], false), check.DeepEquals, raw[1:])
}

func (s *matrixSuite) TestDesignWithIntercept(c *check.C) {
	x := NewDenseMatrix(6, 2, randomDesign(6, 6, 2))
	d := design{x: x, intercept: true}
	w := []float64{1, 2, 3, 1, 2, 3}
	withOnes := mat.NewDense(6, 3, nil)
	for i := 0; i < 6; i++ {
		withOnes.Set(i, 0, 1)
		withOnes.Set(i, 1, x.m.At(i, 0))
		withOnes.Set(i, 2, x.m.At(i, 1))
	}
	var scaled, want mat.Dense
	scaled.Apply(func(i, j int, v float64) float64 { return v * w[i] }, withOnes)
	want.Mul(withOnes.T(), &scaled)
	checkSameMatrix(c, d.sandwich(w), &want, 1e-10, "design sandwich")

	groups := []int{0, 1, 0, 1, 0, 1}
	gs := d.groupSums(w, groups, 2)
	c.Check(gs.At(0, 0), check.Equals, 6.0)
	c.Check(gs.At(1, 0), check.Equals, 6.0)
	c.Check(math.Abs(gs.At(0, 1)-(x.m.At(0, 0)+3*x.m.At(2, 0)+2*x.m.At(4, 0))) < 1e-12, check.Equals, true)
}
