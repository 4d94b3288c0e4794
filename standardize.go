// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// StandardizedMatrix presents column j of X as
// (X[:,j] - Means[j]) / Stds[j] without materializing it.
type StandardizedMatrix struct {
	X     Matrix
	Means []float64
	Stds  []float64
}

// Standardize returns a view of X with w-weighted centering and/or
// scaling. Columns that are not centered get mean 0, columns that
// are not scaled (or have zero spread) get std 1.
func Standardize(X Matrix, w []float64, center, scale bool) *StandardizedMatrix {
	_, c := X.Dims()
	means := make([]float64, c)
	if center {
		means = X.ColumnMeans(w)
	}
	stds := make([]float64, c)
	if scale {
		stds = X.ColumnStds(w, means)
	}
	for j, s := range stds {
		if !scale || s == 0 {
			stds[j] = 1
		}
	}
	return &StandardizedMatrix{X: X, Means: means, Stds: stds}
}

func (sm *StandardizedMatrix) Dims() (int, int) { return sm.X.Dims() }

func (sm *StandardizedMatrix) MulVec(dst, b []float64) {
	scaled := make([]float64, len(b))
	floats.DivTo(scaled, b, sm.Stds)
	sm.X.MulVec(dst, scaled)
	shift := floats.Dot(sm.Means, scaled)
	for i := range dst {
		dst[i] -= shift
	}
}

func (sm *StandardizedMatrix) TMulVec(dst, v []float64) {
	sm.X.TMulVec(dst, v)
	sumv := floats.Sum(v)
	for j := range dst {
		dst[j] = (dst[j] - sm.Means[j]*sumv) / sm.Stds[j]
	}
}

// Sandwich uses
// D (XᵀWX - m uᵀ - u mᵀ + Σw m mᵀ) D, with u = Xᵀw and D = diag(1/std).
func (sm *StandardizedMatrix) Sandwich(d []float64) *mat.SymDense {
	raw := sm.X.Sandwich(d)
	_, c := sm.X.Dims()
	u := make([]float64, c)
	sm.X.TMulVec(u, d)
	sumd := floats.Sum(d)
	m := sm.Means
	out := mat.NewSymDense(c, nil)
	for j := 0; j < c; j++ {
		for l := j; l < c; l++ {
			v := raw.At(j, l) - m[j]*u[l] - u[j]*m[l] + sumd*m[j]*m[l]
			out.SetSym(j, l, v/(sm.Stds[j]*sm.Stds[l]))
		}
	}
	return out
}

func (sm *StandardizedMatrix) GroupSums(v []float64, groups []int, nGroups int) *mat.Dense {
	out := sm.X.GroupSums(v, groups, nGroups)
	gsum := make([]float64, nGroups)
	for i, g := range groups {
		gsum[g] += v[i]
	}
	_, c := sm.X.Dims()
	for g := 0; g < nGroups; g++ {
		row := out.RawRowView(g)
		for j := 0; j < c; j++ {
			row[j] = (row[j] - sm.Means[j]*gsum[g]) / sm.Stds[j]
		}
	}
	return out
}

func (sm *StandardizedMatrix) ColumnMeans(w []float64) []float64 {
	means := sm.X.ColumnMeans(w)
	for j := range means {
		means[j] = (means[j] - sm.Means[j]) / sm.Stds[j]
	}
	return means
}

func (sm *StandardizedMatrix) ColumnStds(w, means []float64) []float64 {
	raw := make([]float64, len(means))
	for j := range raw {
		raw[j] = means[j]*sm.Stds[j] + sm.Means[j]
	}
	stds := sm.X.ColumnStds(w, raw)
	floats.Div(stds, sm.Stds)
	return stds
}

func (sm *StandardizedMatrix) ToDense() *mat.Dense {
	out := sm.X.ToDense()
	out.Apply(func(i, j int, v float64) float64 {
		return (v - sm.Means[j]) / sm.Stds[j]
	}, out)
	return out
}

// standardizeCoef converts raw coefficients (intercept first when
// intercept is true) to the standardized coordinates of sm.
func (sm *StandardizedMatrix) standardizeCoef(coef []float64, intercept bool) []float64 {
	out := append([]float64(nil), coef...)
	feat := out
	if intercept {
		feat = out[1:]
	}
	for j := range feat {
		if intercept {
			out[0] += feat[j] * sm.Means[j]
		}
		feat[j] *= sm.Stds[j]
	}
	return out
}

// unstandardizeCoef is the inverse of standardizeCoef.
func (sm *StandardizedMatrix) unstandardizeCoef(coef []float64, intercept bool) []float64 {
	out := append([]float64(nil), coef...)
	feat := out
	if intercept {
		feat = out[1:]
	}
	for j := range feat {
		feat[j] /= sm.Stds[j]
		if intercept {
			out[0] -= feat[j] * sm.Means[j]
		}
	}
	return out
}
