// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"math"
)

const (
	defaultMinAlphaRatio = 1e-6
	// alphaMaxNoL1 is used when no coefficient has an L1 penalty,
	// so no finite alpha zeroes every coefficient.
	alphaMaxNoL1 = 10
)

// alphaMax returns the smallest alpha at which every L1-penalized
// coefficient of the elastic net solution is zero: the largest
// gradient of the half deviance at the intercept-only model,
// relative to the L1 weights p1Weights (length p, already scaled by
// the L1 ratio).
func alphaMax(pr *problem, p1Weights []float64) float64 {
	anyL1 := false
	for _, p := range p1Weights {
		if p > 0 {
			anyL1 = true
		}
	}
	if !anyL1 {
		return alphaMaxNoL1
	}
	coef := make([]float64, pr.width())
	if pr.intercept {
		coef[0] = GuessIntercept(pr.y, pr.w, pr.offset, pr.link, pr.family)
	}
	ev := pr.evaluate(coef)
	grad := make([]float64, len(coef))
	pr.tMulVec(grad, ev.gradRows)
	var amax float64
	for j, g := range pr.features(grad) {
		if p1Weights[j] > 0 {
			amax = math.Max(amax, math.Abs(g)/p1Weights[j])
		}
	}
	return amax
}

// logspace returns n values from hi down to lo, evenly spaced on a
// log scale.
func logspace(hi, lo float64, n int) []float64 {
	if n == 1 {
		return []float64{hi}
	}
	out := make([]float64, n)
	lhi, llo := math.Log(hi), math.Log(lo)
	for i := range out {
		out[i] = math.Exp(lhi + float64(i)*(llo-lhi)/float64(n-1))
	}
	out[0], out[n-1] = hi, lo
	return out
}

// alphaPath returns the strictly decreasing grid of penalty
// strengths for a path fit.
func alphaPath(cfg *Config, pr *problem, p1Weights []float64) ([]float64, error) {
	amax := alphaMax(pr, p1Weights)
	if !(amax > 0) {
		return nil, errValidation("the intercept-only model is optimal; no path to search (alpha_max = %v)", amax)
	}
	amin := amax * defaultMinAlphaRatio
	if cfg.MinAlphaRatio > 0 {
		amin = amax * cfg.MinAlphaRatio
	}
	if cfg.MinAlpha > 0 {
		if cfg.MinAlphaRatio > 0 {
			cfg.logger().Warn("both MinAlpha and MinAlphaRatio are set; using MinAlpha")
		}
		if cfg.MinAlpha >= amax {
			return nil, errValidation("MinAlpha %v must be smaller than alpha_max %v", cfg.MinAlpha, amax)
		}
		amin = cfg.MinAlpha
	}
	return logspace(amax, amin, cfg.NAlphas), nil
}
