// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Diagnostic records one outer iteration of a fit.
type Diagnostic struct {
	Iteration   int     `json:"iteration"`
	Alpha       float64 `json:"alpha"`
	Convergence float64 `json:"convergence"`
	Objective   float64 `json:"objective"`
	InnerCycles int     `json:"inner_cycles"`
	StepSize    float64 `json:"step_size"`
	Intercept   float64 `json:"intercept"`
	// Runtime is the wall clock time of the iteration in seconds.
	Runtime float64 `json:"runtime"`
}

const (
	varianceFloor   = 1e-12
	armijoSigma     = 1e-4
	maxLineSearch   = 50
	innerTolCeiling = 1e-2
)

// problem is the penalized objective at one alpha, in standardized
// coordinates.
type problem struct {
	design
	y, w, offset []float64 // w sums to 1
	family       Family
	link         Link
	p1           []float64 // full width, 0 for the intercept
	p2           *L2Penalty
	lower, upper []float64 // full width or nil
}

// evaluation holds the per-observation quantities at a coefficient
// vector.
type evaluation struct {
	eta, mu  []float64
	gradRows []float64 // w (y-mu) mu' / V
	hessRows []float64 // w mu'² / V
	halfDev  float64
}

func (pr *problem) evaluate(coef []float64) *evaluation {
	n := len(pr.y)
	ev := &evaluation{
		eta:      make([]float64, n),
		mu:       make([]float64, n),
		gradRows: make([]float64, n),
		hessRows: make([]float64, n),
	}
	pr.linearPredictor(ev.eta, coef, pr.offset)
	for i, eta := range ev.eta {
		mu := pr.link.Inverse(eta)
		dmu := pr.link.InverseDerivative(eta)
		v := math.Max(pr.family.Variance(mu), varianceFloor)
		ev.mu[i] = mu
		ev.gradRows[i] = pr.w[i] * (pr.y[i] - mu) * dmu / v
		ev.hessRows[i] = pr.w[i] * dmu * dmu / v
		if pr.w[i] != 0 {
			ev.halfDev += pr.w[i] * pr.family.UnitDeviance(pr.y[i], mu) / 2
		}
	}
	return ev
}

// halfDeviance is evaluate(coef).halfDev without the derivative
// bookkeeping.
func (pr *problem) halfDeviance(coef []float64) float64 {
	eta := make([]float64, len(pr.y))
	pr.linearPredictor(eta, coef, pr.offset)
	var sum float64
	for i, e := range eta {
		if pr.w[i] != 0 {
			sum += pr.w[i] * pr.family.UnitDeviance(pr.y[i], pr.link.Inverse(e))
		}
	}
	return sum / 2
}

func (pr *problem) l1(coef []float64) float64 {
	var sum float64
	for j, p := range pr.p1 {
		sum += p * math.Abs(coef[j])
	}
	return sum
}

func (pr *problem) penalty(coef []float64) float64 {
	return pr.l1(coef) + pr.p2.Quadratic(pr.features(coef))
}

func (pr *problem) objective(coef []float64) float64 {
	return pr.halfDeviance(coef) + pr.penalty(coef)
}

// smoothGradient returns the gradient of the half deviance plus the
// L2 penalty.
func (pr *problem) smoothGradient(ev *evaluation, coef []float64) []float64 {
	grad := make([]float64, len(coef))
	pr.tMulVec(grad, ev.gradRows)
	floats.Scale(-1, grad)
	p2b := make([]float64, len(pr.features(coef)))
	pr.p2.MulVec(p2b, pr.features(coef))
	floats.Add(pr.features(grad), p2b)
	return grad
}

// hessian returns X̃ᵀ diag(hessRows) X̃ + P2.
func (pr *problem) hessian(ev *evaluation) *mat.SymDense {
	h := pr.sandwich(ev.hessRows)
	pr.p2.addTo(h)
	return h
}

// minNormSubgradient returns the L1 norm of the minimum-norm element
// of the subdifferential, with components pointing out of the box
// bounds projected away.
func (pr *problem) minNormSubgradient(grad, coef []float64) float64 {
	var sum float64
	for j, g := range grad {
		sum += math.Abs(pr.subgradient(j, g, coef[j]))
	}
	return sum
}

func (pr *problem) subgradient(j int, g, c float64) float64 {
	p := pr.p1[j]
	var s float64
	switch {
	case c > 0:
		s = g + p
	case c < 0:
		s = g - p
	case g > p:
		s = g - p
	case g < -p:
		s = g + p
	}
	if pr.lower != nil && c <= pr.lower[j] && s > 0 {
		return 0
	}
	if pr.upper != nil && c >= pr.upper[j] && s < 0 {
		return 0
	}
	return s
}

func (pr *problem) hasBounds() bool {
	return pr.lower != nil
}

// clip moves coef into the box bounds and reports whether anything
// changed.
func (pr *problem) clip(coef []float64) bool {
	if !pr.hasBounds() {
		return false
	}
	changed := false
	for j := range coef {
		c := math.Min(math.Max(coef[j], pr.lower[j]), pr.upper[j])
		if c != coef[j] {
			coef[j] = c
			changed = true
		}
	}
	return changed
}

// quadratic is the local model minimized by an inner solver:
// gradᵀ(c-b) + ½(c-b)ᵀ hess (c-b) + P1|c|.
type quadratic struct {
	*problem
	grad []float64
	hess *mat.SymDense
}

type innerSolver interface {
	// solve returns the minimizer of q starting from coef, and the
	// number of passes over the coordinates.
	solve(q *quadratic, coef []float64, tol float64, iteration int) ([]float64, int, error)
}

type irlsSettings struct {
	inner         innerSolver
	maxIter       int
	gradTol       float64
	stepTol       float64
	fixedInnerTol bool
	alpha         float64
	logger        log.FieldLogger
}

type solution struct {
	coef        []float64
	nIter       int
	nCycles     int
	converged   bool
	diagnostics []Diagnostic
}

// irls minimizes pr from start with iteratively reweighted
// quadratic approximations and an Armijo line search.
func irls(pr *problem, start []float64, s irlsSettings) (*solution, error) {
	coef := append([]float64(nil), start...)
	sol := &solution{}
	ev := pr.evaluate(coef)
	obj := ev.halfDev + pr.penalty(coef)
	for iter := 0; ; iter++ {
		t0 := time.Now()
		grad := pr.smoothGradient(ev, coef)
		subgrad := pr.minNormSubgradient(grad, coef)
		if subgrad <= s.gradTol {
			sol.converged = true
			break
		}
		if iter >= s.maxIter {
			break
		}
		innerTol := s.gradTol
		if !s.fixedInnerTol {
			innerTol = math.Min(math.Max(0.1*subgrad, 0.01*s.gradTol), innerTolCeiling)
		}
		q := &quadratic{problem: pr, grad: grad, hess: pr.hessian(ev)}
		target, cycles, err := s.inner.solve(q, coef, innerTol, iter)
		if err != nil {
			return nil, err
		}
		sol.nCycles += cycles
		next, nextObj, step, ok := pr.lineSearch(coef, target, grad, obj)
		sol.nIter++
		d := Diagnostic{
			Iteration:   iter + 1,
			Alpha:       s.alpha,
			Convergence: subgrad,
			Objective:   nextObj,
			InnerCycles: cycles,
			StepSize:    step,
			Runtime:     time.Since(t0).Seconds(),
		}
		if pr.intercept {
			d.Intercept = next[0]
		}
		sol.diagnostics = append(sol.diagnostics, d)
		s.logger.WithFields(log.Fields{
			"iteration":   d.Iteration,
			"alpha":       s.alpha,
			"convergence": subgrad,
			"objective":   nextObj,
			"cycles":      cycles,
		}).Debug("irls iteration")
		if !ok {
			s.logger.WithField("iteration", d.Iteration).Warn("line search failed to decrease the objective")
			break
		}
		maxStep := 0.0
		for j := range coef {
			maxStep = math.Max(maxStep, math.Abs(next[j]-coef[j]))
		}
		coef, obj = next, nextObj
		ev = pr.evaluate(coef)
		if s.stepTol > 0 && maxStep <= s.stepTol {
			sol.converged = true
			break
		}
	}
	sol.coef = coef
	return sol, nil
}

// lineSearch backtracks along target-coef until the Armijo
// condition holds for the nonsmooth objective.
func (pr *problem) lineSearch(coef, target, grad []float64, obj float64) (next []float64, nextObj, step float64, ok bool) {
	dir := make([]float64, len(coef))
	floats.SubTo(dir, target, coef)
	delta := floats.Dot(grad, dir) + pr.l1(target) - pr.l1(coef)
	if delta > 0 {
		// Inexact inner solutions can yield a non-descent
		// direction; accept only a strict decrease then.
		delta = 0
	}
	next = make([]float64, len(coef))
	step = 1
	for i := 0; i < maxLineSearch; i++ {
		floats.AddScaledTo(next, coef, step, dir)
		nextObj = pr.objective(next)
		if nextObj <= obj+armijoSigma*step*delta {
			return next, nextObj, step, true
		}
		step /= 2
	}
	return coef, obj, 0, false
}
