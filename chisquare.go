// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// WaldTest tests the linear hypothesis R coef = q, where coef has
// the intercept first when one was fitted and cov is its covariance
// matrix. It returns the chi-squared statistic, its degrees of
// freedom (rows of R), and the p-value.
func (r *Result) WaldTest(cov mat.Symmetric, R *mat.Dense, q []float64) (stat float64, df int, pvalue float64, err error) {
	coef := r.coefficients()
	rows, cols := R.Dims()
	if cols != len(coef) || cov.Symmetric() != len(coef) {
		return 0, 0, 0, errValidation("restriction matrix has %d columns, covariance is %dx%d, model has %d coefficients", cols, cov.Symmetric(), cov.Symmetric(), len(coef))
	}
	if q == nil {
		q = make([]float64, rows)
	} else if len(q) != rows {
		return 0, 0, 0, errValidation("restriction values have length %d, expected %d", len(q), rows)
	}
	diff := mat.NewVecDense(rows, nil)
	diff.MulVec(R, mat.NewVecDense(cols, coef))
	diff.SubVec(diff, mat.NewVecDense(rows, q))

	var rc, rcr mat.Dense
	rc.Mul(R, cov)
	rcr.Mul(&rc, R.T())
	inv, err := inverseSym(symmetrize(&rcr))
	if err != nil {
		return 0, 0, 0, err
	}
	stat = mat.Inner(diff, inv, diff)
	chisquared := distuv.ChiSquared{K: float64(rows)}
	return stat, rows, chisquared.Survival(stat), nil
}

// PValues returns the two-sided z-test p-value of each coefficient
// (intercept first when fitted) being zero, given standard errors.
// Coefficients without a positive standard error get NaN.
func (r *Result) PValues(stdErrors []float64) []float64 {
	coef := r.coefficients()
	out := make([]float64, len(coef))
	for i, c := range coef {
		if i >= len(stdErrors) || !(stdErrors[i] > 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = 2 * distuv.UnitNormal.Survival(math.Abs(c/stdErrors[i]))
	}
	return out
}

// LikelihoodRatioTest compares a full model with a restricted
// model nested in it, using the scaled deviance difference. Each
// model is evaluated on its own design (the restricted design has a
// subset of the full design's columns, same rows). dispersion
// should be 1 for families without a free dispersion parameter.
func LikelihoodRatioTest(full *Result, fullData Data, restricted *Result, restrictedData Data, dispersion float64) (stat float64, df int, pvalue float64, err error) {
	df = len(full.coefficients()) - len(restricted.coefficients())
	if df <= 0 {
		return 0, 0, 0, errValidation("restricted model has %d coefficients, full model has %d", len(restricted.coefficients()), len(full.coefficients()))
	}
	if !(dispersion > 0) {
		return 0, 0, 0, errValidation("dispersion must be positive, got %v", dispersion)
	}
	devFull := full.Family.Deviance(fullData.Y, full.Predict(fullData.X, fullData.Offset), fullData.Weights)
	devRestricted := restricted.Family.Deviance(restrictedData.Y, restricted.Predict(restrictedData.X, restrictedData.Offset), restrictedData.Weights)
	stat = math.Max(devRestricted-devFull, 0) / dispersion
	chisquared := distuv.ChiSquared{K: float64(df)}
	return stat, df, chisquared.Survival(stat), nil
}
