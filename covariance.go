// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CovarianceOptions select the covariance estimator.
type CovarianceOptions struct {
	// Robust selects the HC1 sandwich estimator.
	Robust bool
	// Clusters, if not nil, assigns each observation to a cluster
	// (0..M-1) and selects the cluster-robust estimator.
	Clusters []int
	// ExpectedInformation uses the Fisher information instead of
	// the observed information in the sandwich estimators.
	ExpectedInformation bool
	// Dispersion, if positive, is used instead of the Pearson
	// estimate.
	Dispersion float64
	// Mu, if not nil, is used instead of the fitted means.
	Mu     []float64
	Logger log.FieldLogger
}

// informationWeights returns the per-observation weights k such
// that X̃ᵀ diag(k) X̃ is the Fisher (expected) or observed
// information.
func informationWeights(family Family, link Link, y, mu, eta, w []float64, dispersion float64, expected bool) []float64 {
	k := make([]float64, len(y))
	for i := range y {
		dmu := link.InverseDerivative(eta[i])
		v := family.Variance(mu[i])
		k[i] = weightAt(w, i) * dmu * dmu / v
		if !expected {
			d2mu := link.InverseDerivative2(eta[i])
			dv := family.VarianceDerivative(mu[i])
			k[i] -= weightAt(w, i) * (y[i] - mu[i]) * (d2mu/v - dmu*dmu*dv/(v*v))
		}
		k[i] /= dispersion
	}
	return k
}

// FisherInformation returns X̃ᵀ diag(w μ'²/(φV)) X̃ where X̃ includes
// an intercept column if intercept is true.
func FisherInformation(X Matrix, intercept bool, family Family, link Link, y, mu, eta, w []float64, dispersion float64) *mat.SymDense {
	return design{x: X, intercept: intercept}.sandwich(informationWeights(family, link, y, mu, eta, w, dispersion, true))
}

// ObservedInformation returns the negative Hessian of the
// log-likelihood with respect to the coefficients.
func ObservedInformation(X Matrix, intercept bool, family Family, link Link, y, mu, eta, w []float64, dispersion float64) *mat.SymDense {
	return design{x: X, intercept: intercept}.sandwich(informationWeights(family, link, y, mu, eta, w, dispersion, false))
}

// scoreRows returns the per-observation scores w (y-μ) μ'/(φV); the
// score matrix is diag(scoreRows) X̃.
func scoreRows(family Family, link Link, y, mu, eta, w []float64, dispersion float64) []float64 {
	s := make([]float64, len(y))
	for i := range y {
		s[i] = weightAt(w, i) * (y[i] - mu[i]) * link.InverseDerivative(eta[i]) / (family.Variance(mu[i]) * dispersion)
	}
	return s
}

// inverseSym inverts a symmetric matrix, failing with
// ErrSingularMatrix if it cannot be inverted.
func inverseSym(a *mat.SymDense) (*mat.SymDense, error) {
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return nil, errSingular("%s", err)
	}
	return symmetrize(&inv), nil
}

// conditionLimit is 1/eps², the largest acceptable condition number
// of X̃ᵀX̃.
var conditionLimit = 1 / (math.Nextafter(1, 2) - 1) / (math.Nextafter(1, 2) - 1)

// CovarianceMatrix estimates the covariance of the fitted
// coefficients (intercept first when fitted) on data, which is
// normally the data the model was fitted on.
func (r *Result) CovarianceMatrix(data Data, opts *CovarianceOptions) (*mat.SymDense, error) {
	if opts == nil {
		opts = &CovarianceOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	n, p := data.X.Dims()
	if len(data.Y) != n || p != len(r.Coef) {
		return nil, errValidation("data is %dx%d with %d responses, model has %d coefficients", n, p, len(data.Y), len(r.Coef))
	}
	if opts.Clusters != nil && len(opts.Clusters) != n {
		return nil, errValidation("clusters have length %d, expected %d", len(opts.Clusters), n)
	}
	if opts.Mu != nil && len(opts.Mu) != n {
		return nil, errValidation("mu has length %d, expected %d", len(opts.Mu), n)
	}
	if r.penalized {
		logger.Warn("covariance of a penalized fit does not account for the penalty")
	}
	des := design{x: data.X, intercept: r.FitIntercept}
	k := des.width()

	gram := des.sandwich(ones(n))
	if c := mat.Cond(gram, 2); c > conditionLimit || math.IsNaN(c) {
		return nil, errSingular("design matrix condition number %g exceeds %g", c, conditionLimit)
	}

	eta := r.LinearPredictor(data.X, data.Offset)
	mu := opts.Mu
	if mu == nil {
		mu = make([]float64, n)
		for i, e := range eta {
			mu[i] = r.Link.Inverse(e)
		}
	} else {
		for i, m := range mu {
			eta[i] = r.Link.Link(m)
		}
	}
	w := data.Weights
	sumw := sumWeights(w, n)
	dispersion := opts.Dispersion
	if !(dispersion > 0) {
		dispersion = r.Family.Dispersion(data.Y, mu, w, k, PearsonDispersion)
	}
	correction := sumw / (sumw - float64(k))

	if !opts.Robust && opts.Clusters == nil {
		fisher := FisherInformation(data.X, r.FitIntercept, r.Family, r.Link, data.Y, mu, eta, w, dispersion)
		cov, err := inverseSym(fisher)
		if err != nil {
			return nil, err
		}
		cov.ScaleSym(correction, cov)
		return cov, nil
	}

	var info *mat.SymDense
	if opts.ExpectedInformation {
		info = FisherInformation(data.X, r.FitIntercept, r.Family, r.Link, data.Y, mu, eta, w, dispersion)
	} else {
		info = ObservedInformation(data.X, r.FitIntercept, r.Family, r.Link, data.Y, mu, eta, w, dispersion)
	}
	hinv, err := inverseSym(info)
	if err != nil {
		return nil, err
	}
	scores := scoreRows(r.Family, r.Link, data.Y, mu, eta, w, dispersion)
	var meat *mat.SymDense
	if opts.Clusters == nil {
		sq := make([]float64, n)
		floats.MulTo(sq, scores, scores)
		meat = des.sandwich(sq)
	} else {
		nClusters := 0
		for i, g := range opts.Clusters {
			if g < 0 {
				return nil, errValidation("cluster %d is negative (%d)", i, g)
			}
			if g >= nClusters {
				nClusters = g + 1
			}
		}
		if nClusters < 2 {
			return nil, errValidation("clustered covariance needs at least 2 clusters")
		}
		g := des.groupSums(scores, opts.Clusters, nClusters)
		meat = mat.NewSymDense(k, nil)
		meat.SymOuterK(1, g.T())
		m := float64(nClusters)
		correction *= m / (m - 1)
	}
	var tmp, sandwich mat.Dense
	tmp.Mul(hinv, meat)
	sandwich.Mul(&tmp, hinv)
	cov := symmetrize(&sandwich)
	cov.ScaleSym(correction, cov)
	return cov, nil
}

// StdErrors returns the square roots of the diagonal of the
// covariance matrix.
func (r *Result) StdErrors(data Data, opts *CovarianceOptions) ([]float64, error) {
	cov, err := r.CovarianceMatrix(data, opts)
	if err != nil {
		return nil, err
	}
	k, _ := cov.Dims()
	se := make([]float64, k)
	for i := range se {
		se[i] = math.Sqrt(cov.At(i, i))
	}
	return se, nil
}
