// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// coordinateDescent minimizes the quadratic model with cyclic or
// random coordinate updates, alternating full passes with passes
// over the active set.
type coordinateDescent struct {
	maxCycles int
	random    bool
	seed      uint64
	logger    log.FieldLogger
}

func softThreshold(z, t float64) float64 {
	switch {
	case z > t:
		return z - t
	case z < -t:
		return z + t
	}
	return 0
}

type cdState struct {
	q    *quadratic
	coef []float64
	// resid is hess (coef - start), so the gradient of the smooth
	// part of the model is grad + resid.
	resid []float64
	hcol  []float64
}

func (st *cdState) update(j int) float64 {
	q := st.q
	hjj := q.hess.At(j, j)
	if hjj <= 0 {
		return 0
	}
	old := st.coef[j]
	z := hjj*old - (q.grad[j] + st.resid[j])
	c := softThreshold(z, q.p1[j]) / hjj
	if q.lower != nil {
		c = math.Min(math.Max(c, q.lower[j]), q.upper[j])
	}
	delta := c - old
	if delta == 0 {
		return 0
	}
	st.coef[j] = c
	mat.Col(st.hcol, j, q.hess)
	for i, h := range st.hcol {
		st.resid[i] += delta * h
	}
	return math.Abs(delta)
}

// subgradient returns the L1 norm of the model's minimum-norm
// subgradient over the coordinates in idx.
func (st *cdState) subgradient(idx []int) float64 {
	var sum float64
	for _, j := range idx {
		sum += math.Abs(st.q.subgradient(j, st.q.grad[j]+st.resid[j], st.coef[j]))
	}
	return sum
}

func (st *cdState) sweep(order []int) {
	for _, j := range order {
		st.update(j)
	}
}

// activeSet returns the coordinates that are nonzero, unpenalized,
// or violate the optimality condition at zero.
func (st *cdState) activeSet() []int {
	var active []int
	for j, c := range st.coef {
		if c != 0 || st.q.p1[j] == 0 || math.Abs(st.q.grad[j]+st.resid[j]) > st.q.p1[j] {
			active = append(active, j)
		}
	}
	return active
}

func (cd *coordinateDescent) solve(q *quadratic, coef []float64, tol float64, iteration int) ([]float64, int, error) {
	k := len(coef)
	st := &cdState{
		q:     q,
		coef:  append([]float64(nil), coef...),
		resid: make([]float64, k),
		hcol:  make([]float64, k),
	}
	all := make([]int, k)
	for j := range all {
		all[j] = j
	}
	var rng *rand.Rand
	if cd.random {
		rng = rand.New(rand.NewSource(cd.seed + uint64(iteration)))
	}
	order := func(idx []int) []int {
		if rng == nil {
			return idx
		}
		perm := make([]int, len(idx))
		for i, p := range rng.Perm(len(idx)) {
			perm[i] = idx[p]
		}
		return perm
	}
	cycles := 0
	for cycles < cd.maxCycles {
		st.sweep(order(all))
		cycles++
		if st.subgradient(all) <= tol {
			return st.coef, cycles, nil
		}
		active := st.activeSet()
		for cycles < cd.maxCycles {
			st.sweep(order(active))
			cycles++
			if st.subgradient(active) <= tol {
				break
			}
		}
	}
	cd.logger.WithFields(log.Fields{
		"cycles":      cycles,
		"subgradient": st.subgradient(all),
		"tolerance":   tol,
	}).Warn("coordinate descent did not converge")
	return st.coef, cycles, nil
}

// leastSquares takes the full Newton step by Cholesky factorization
// of the model Hessian.
type leastSquares struct{}

func (leastSquares) solve(q *quadratic, coef []float64, tol float64, iteration int) ([]float64, int, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(q.hess); !ok {
		return nil, 0, errSingular("cannot factorize the Hessian at iteration %d", iteration+1)
	}
	k := len(coef)
	rhs := mat.NewVecDense(k, nil)
	for j, g := range q.grad {
		rhs.SetVec(j, -g)
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, rhs); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return nil, 0, errSingular("cannot solve the Newton system: %s", err)
		}
	}
	out := make([]float64, k)
	for j := range out {
		out[j] = coef[j] + step.AtVec(j)
	}
	return out, 1, nil
}
