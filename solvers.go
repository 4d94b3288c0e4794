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
	"gonum.org/v1/gonum/optimize"
)

// smoothObjective is the gonum problem for objectives without an L1
// term.
func (pr *problem) smoothObjective() optimize.Problem {
	return optimize.Problem{
		Func: pr.objective,
		Grad: func(grad, coef []float64) {
			copy(grad, pr.smoothGradient(pr.evaluate(coef), coef))
		},
	}
}

func quasiNewtonSettings(maxIter int, gradTol float64) *optimize.Settings {
	return &optimize.Settings{
		GradientThreshold: gradTol,
		MajorIterations:   maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-15,
			Relative:   1e-15,
			Iterations: 50,
		},
	}
}

// lbfgs minimizes the smooth objective directly with limited-memory
// BFGS.
func lbfgs(pr *problem, start []float64, s irlsSettings) (*solution, error) {
	t0 := time.Now()
	grad := pr.smoothGradient(pr.evaluate(start), start)
	if floats.Norm(grad, math.Inf(1)) <= s.gradTol {
		return &solution{coef: append([]float64(nil), start...), converged: true}, nil
	}
	result, err := optimize.Minimize(pr.smoothObjective(), start, quasiNewtonSettings(s.maxIter, s.gradTol), &optimize.LBFGS{})
	if result == nil {
		return nil, err
	}
	if err != nil {
		s.logger.WithError(err).Warn("lbfgs stopped early")
	}
	sol := &solution{
		coef:      result.X,
		nIter:     result.Stats.MajorIterations,
		converged: result.Status == optimize.GradientThreshold || result.Status == optimize.FunctionConvergence,
	}
	d := Diagnostic{
		Iteration: sol.nIter,
		Alpha:     s.alpha,
		Objective: result.F,
		Runtime:   time.Since(t0).Seconds(),
	}
	if result.Gradient != nil {
		d.Convergence = floats.Norm(result.Gradient, math.Inf(1))
	}
	if pr.intercept {
		d.Intercept = sol.coef[0]
	}
	sol.diagnostics = []Diagnostic{d}
	return sol, nil
}

// linearConstraints is A coef <= b, with A covering all
// coefficients (the intercept column is zero).
type linearConstraints struct {
	a *mat.Dense
	b []float64
}

func (lc *linearConstraints) violations(dst, coef []float64) {
	r, c := lc.a.Dims()
	mat.NewVecDense(r, dst).MulVec(lc.a, mat.NewVecDense(c, coef))
	floats.Sub(dst, lc.b)
}

// stationarity returns the infinity norm of the Lagrangian gradient
// grad f + Aᵀ lambda.
func (lc *linearConstraints) stationarity(p optimize.Problem, coef, lambda []float64) float64 {
	grad := make([]float64, len(coef))
	p.Grad(grad, coef)
	r, c := lc.a.Dims()
	extra := mat.NewVecDense(c, nil)
	extra.MulVec(lc.a.T(), mat.NewVecDense(r, lambda))
	for j := range grad {
		grad[j] += extra.AtVec(j)
	}
	return floats.Norm(grad, math.Inf(1))
}

const (
	constraintTol      = 1e-8
	stationarityTol    = 1e-6
	maxConstraintIter  = 50
	maxPenaltyRho      = 1e12
	constraintRhoScale = 10
)

// trustConstr minimizes the smooth objective subject to linear
// inequality constraints with an augmented Lagrangian method, using
// BFGS on each subproblem.
func trustConstr(pr *problem, lc *linearConstraints, start []float64, s irlsSettings) (*solution, error) {
	m, _ := lc.a.Dims()
	coef := append([]float64(nil), start...)
	lambda := make([]float64, m)
	viol := make([]float64, m)
	mult := make([]float64, m)
	rho := 10.0
	prevViolation := math.Inf(1)
	sol := &solution{}
	smooth := pr.smoothObjective()
	// multipliers sets mult to max(0, lambda + rho*(A coef - b)).
	multipliers := func(x []float64) {
		lc.violations(viol, x)
		for i := range mult {
			mult[i] = math.Max(0, lambda[i]+rho*viol[i])
		}
	}
	augmented := optimize.Problem{
		Func: func(x []float64) float64 {
			f := smooth.Func(x)
			multipliers(x)
			for i := range mult {
				f += (mult[i]*mult[i] - lambda[i]*lambda[i]) / (2 * rho)
			}
			return f
		},
		Grad: func(grad, x []float64) {
			smooth.Grad(grad, x)
			multipliers(x)
			r, c := lc.a.Dims()
			extra := mat.NewVecDense(c, nil)
			extra.MulVec(lc.a.T(), mat.NewVecDense(r, mult))
			for j := range grad {
				grad[j] += extra.AtVec(j)
			}
		},
	}
	for outer := 0; outer < maxConstraintIter; outer++ {
		t0 := time.Now()
		result, err := optimize.Minimize(augmented, coef, quasiNewtonSettings(s.maxIter, s.gradTol), &optimize.BFGS{})
		if result == nil {
			return nil, err
		}
		if err != nil {
			s.logger.WithError(err).Debug("constrained subproblem stopped early")
		}
		coef = result.X
		sol.nIter += result.Stats.MajorIterations
		sol.nCycles++
		lc.violations(viol, coef)
		violation := 0.0
		for i := range viol {
			lambda[i] = math.Max(0, lambda[i]+rho*viol[i])
			violation = math.Max(violation, viol[i])
		}
		gradNorm := lc.stationarity(smooth, coef, lambda)
		d := Diagnostic{
			Iteration:   outer + 1,
			Alpha:       s.alpha,
			Convergence: math.Max(violation, gradNorm),
			Objective:   pr.objective(coef),
			InnerCycles: result.Stats.MajorIterations,
			Runtime:     time.Since(t0).Seconds(),
		}
		if pr.intercept {
			d.Intercept = coef[0]
		}
		sol.diagnostics = append(sol.diagnostics, d)
		s.logger.WithFields(log.Fields{
			"iteration": outer + 1,
			"violation": violation,
			"rho":       rho,
		}).Debug("augmented lagrangian iteration")
		if violation <= constraintTol && gradNorm <= math.Max(s.gradTol, stationarityTol) {
			sol.converged = true
			break
		}
		if violation > prevViolation/4 && rho < maxPenaltyRho {
			rho *= constraintRhoScale
		}
		prevViolation = violation
	}
	sol.coef = coef
	return sol, nil
}
