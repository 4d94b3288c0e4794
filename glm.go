// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

const (
	SolverAuto        = "auto"
	SolverIRLSLS      = "irls-ls"
	SolverIRLSCD      = "irls-cd"
	SolverLBFGS       = "lbfgs"
	SolverTrustConstr = "trust-constr"

	SelectionCyclic = "cyclic"
	SelectionRandom = "random"
)

// Config describes a penalized GLM fit. Use DefaultConfig to get a
// usable starting point.
type Config struct {
	Family Family
	// Link defaults to the family's canonical link.
	Link *Link

	// Alpha is the penalty strength used when AlphaSearch is false
	// and Alphas is nil.
	Alpha float64
	// L1Ratio splits alpha between the L1 (L1Ratio) and L2
	// (1-L1Ratio) penalties.
	L1Ratio float64
	// P1 holds per-feature L1 weights; nil means all ones.
	P1 []float64
	// P2 holds the L2 penalty shape; the zero value is identity.
	P2 L2Weights

	FitIntercept    bool
	ScalePredictors bool

	// AlphaSearch fits a path of NAlphas penalty strengths from
	// alpha_max down to MinAlpha (or alpha_max*MinAlphaRatio).
	AlphaSearch   bool
	Alphas        []float64
	NAlphas       int
	MinAlphaRatio float64
	MinAlpha      float64

	Solver       string
	MaxIter      int
	MaxInnerIter int
	// GradientTol defaults to 1e-4 (1e-8 for trust-constr) when
	// zero.
	GradientTol float64
	// StepSizeTol stops the outer loop when the accepted step is
	// smaller than this. Zero disables the check.
	StepSizeTol float64
	Selection   string
	RandomSeed  uint64

	// WarmStart, if not nil, supplies the starting coefficients.
	WarmStart *Result
	// StartParams supplies starting coefficients (intercept first
	// when FitIntercept) if WarmStart is nil.
	StartParams []float64

	LowerBounds []float64
	UpperBounds []float64
	// AIneq and BIneq specify AIneq·coef <= BIneq on the feature
	// coefficients.
	AIneq *mat.Dense
	BIneq []float64

	Logger log.FieldLogger
}

// DefaultConfig returns an unpenalized normal-identity
// configuration with an intercept.
func DefaultConfig() *Config {
	return &Config{
		Family:       Normal,
		FitIntercept: true,
		NAlphas:      100,
		Solver:       SolverAuto,
		MaxIter:      100,
		MaxInnerIter: 100000,
		Selection:    SelectionCyclic,
	}
}

func (cfg *Config) logger() log.FieldLogger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return log.StandardLogger()
}

// Data is a fit's input. Weights and Offset may be nil.
type Data struct {
	X       Matrix
	Y       []float64
	Weights []float64
	Offset  []float64
}

// Result is a fitted model. Coefficients are on the scale of the
// original features.
type Result struct {
	Family       Family `json:"-"`
	Link         Link   `json:"-"`
	FitIntercept bool   `json:"fit_intercept"`
	Intercept    float64
	Coef         []float64
	Alpha        float64
	L1Ratio      float64
	Solver       string

	// Alphas, InterceptPath, CoefPath, NumIterPath and
	// ConvergedPath have one entry per fitted penalty strength.
	Alphas        []float64
	InterceptPath []float64
	CoefPath      [][]float64
	NumIterPath   []int
	ConvergedPath []bool

	NumIter     int
	NumCycles   int
	// Converged is true if every point on the path converged.
	Converged   bool
	Diagnostics []Diagnostic

	penalized bool
}

// coefficients returns the coefficient vector with the intercept
// first when one was fitted.
func (r *Result) coefficients() []float64 {
	if !r.FitIntercept {
		return append([]float64(nil), r.Coef...)
	}
	return append([]float64{r.Intercept}, r.Coef...)
}

// LinearPredictor returns X coef + intercept + offset. offset may be
// nil.
func (r *Result) LinearPredictor(X Matrix, offset []float64) []float64 {
	n, _ := X.Dims()
	eta := make([]float64, n)
	design{x: X, intercept: r.FitIntercept}.linearPredictor(eta, r.coefficients(), offset)
	return eta
}

// Predict returns the fitted means for X.
func (r *Result) Predict(X Matrix, offset []float64) []float64 {
	mu := r.LinearPredictor(X, offset)
	for i, eta := range mu {
		mu[i] = r.Link.Inverse(eta)
	}
	return mu
}

// fitter holds the validated, standardized state of one Fit call.
type fitter struct {
	cfg         *Config
	data        Data
	link        Link
	solver      string
	gradTol     float64
	view        *StandardizedMatrix
	sparseX     bool
	w           []float64
	lower       []float64
	upper       []float64
	constraints *linearConstraints
	logger      log.FieldLogger
}

// Fit fits a penalized GLM to data. A nil cfg means DefaultConfig().
func Fit(data Data, cfg *Config) (*Result, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	f, err := newFitter(data, cfg)
	if err != nil {
		return nil, err
	}
	return f.run()
}

func newFitter(data Data, cfg *Config) (*fitter, error) {
	if err := validate(data, cfg); err != nil {
		return nil, err
	}
	f := &fitter{cfg: cfg, data: data, logger: cfg.logger()}
	if cfg.Link != nil {
		f.link = *cfg.Link
	} else {
		link, err := cfg.Family.CanonicalLink()
		if err != nil {
			return nil, err
		}
		f.link = link
	}
	f.solver = chooseSolver(cfg)
	f.gradTol = cfg.GradientTol
	if f.gradTol == 0 {
		f.gradTol = 1e-4
		if f.solver == SolverTrustConstr {
			f.gradTol = 1e-8
		}
	}
	n, p := data.X.Dims()
	f.w = normalizedWeights(data.Weights, n)
	_, f.sparseX = data.X.(*SparseMatrix)
	f.view = Standardize(data.X, f.w, cfg.FitIntercept, cfg.ScalePredictors)

	width := p
	off := 0
	if cfg.FitIntercept {
		width, off = p+1, 1
	}
	if cfg.LowerBounds != nil || cfg.UpperBounds != nil {
		f.lower, f.upper = make([]float64, width), make([]float64, width)
		for j := range f.lower {
			f.lower[j], f.upper[j] = math.Inf(-1), math.Inf(1)
		}
		for j := 0; j < p; j++ {
			if cfg.LowerBounds != nil {
				f.lower[off+j] = cfg.LowerBounds[j] * f.view.Stds[j]
			}
			if cfg.UpperBounds != nil {
				f.upper[off+j] = cfg.UpperBounds[j] * f.view.Stds[j]
			}
		}
	}
	if cfg.AIneq != nil {
		m, _ := cfg.AIneq.Dims()
		a := mat.NewDense(m, width, nil)
		for i := 0; i < m; i++ {
			for j := 0; j < p; j++ {
				a.Set(i, off+j, cfg.AIneq.At(i, j)/f.view.Stds[j])
			}
		}
		f.constraints = &linearConstraints{a: a, b: append([]float64(nil), cfg.BIneq...)}
	}
	return f, nil
}

func normalizedWeights(w []float64, n int) []float64 {
	out := make([]float64, n)
	sum := sumWeights(w, n)
	for i := range out {
		out[i] = weightAt(w, i) / sum
	}
	return out
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// chooseSolver resolves SolverAuto.
func chooseSolver(cfg *Config) string {
	if cfg.Solver != SolverAuto && cfg.Solver != "" {
		return cfg.Solver
	}
	if cfg.AIneq != nil {
		return SolverTrustConstr
	}
	noL1 := cfg.L1Ratio == 0 || (cfg.P1 != nil && allZero(cfg.P1))
	unpenalized := !cfg.AlphaSearch && cfg.Alphas == nil && cfg.Alpha == 0
	if cfg.LowerBounds == nil && cfg.UpperBounds == nil && (noL1 || unpenalized) {
		return SolverIRLSLS
	}
	return SolverIRLSCD
}

// hasL1 reports whether any fitted alpha can put a nonzero L1
// penalty on a coefficient.
func hasL1(cfg *Config) bool {
	if cfg.L1Ratio == 0 || (cfg.P1 != nil && allZero(cfg.P1)) {
		return false
	}
	if cfg.AlphaSearch {
		return true
	}
	if cfg.Alphas != nil {
		return !allZero(cfg.Alphas)
	}
	return cfg.Alpha != 0
}

func validate(data Data, cfg *Config) error {
	if data.X == nil {
		return errValidation("no design matrix")
	}
	n, p := data.X.Dims()
	if n == 0 || p == 0 {
		return errValidation("design matrix is %dx%d", n, p)
	}
	if len(data.Y) != n {
		return errValidation("response has length %d, design matrix has %d rows", len(data.Y), n)
	}
	if data.Weights != nil {
		if len(data.Weights) != n {
			return errValidation("weights have length %d, expected %d", len(data.Weights), n)
		}
		var sum float64
		for i, w := range data.Weights {
			if !(w >= 0) || math.IsInf(w, 0) {
				return errValidation("weight %d is %v", i, w)
			}
			sum += w
		}
		if !(sum > 0) {
			return errValidation("weights sum to %v", sum)
		}
	}
	if data.Offset != nil && len(data.Offset) != n {
		return errValidation("offset has length %d, expected %d", len(data.Offset), n)
	}
	for i, y := range data.Y {
		if !cfg.Family.InRange(y) {
			return errValidation("response %d (%v) is outside the range of the %s family", i, y, cfg.Family)
		}
	}
	if cfg.Family.Kind == TweedieFamily && cfg.Family.Power > 0 && cfg.Family.Power < 1 {
		return errValidation("tweedie power %v is in (0, 1)", cfg.Family.Power)
	}
	switch cfg.Solver {
	case "", SolverAuto, SolverIRLSLS, SolverIRLSCD, SolverLBFGS, SolverTrustConstr:
	default:
		return errValidation("unknown solver %q", cfg.Solver)
	}
	if cfg.MaxIter <= 0 {
		return errValidation("MaxIter must be positive, got %d", cfg.MaxIter)
	}
	if cfg.MaxInnerIter <= 0 {
		return errValidation("MaxInnerIter must be positive, got %d", cfg.MaxInnerIter)
	}
	if cfg.GradientTol < 0 || math.IsNaN(cfg.GradientTol) {
		return errValidation("GradientTol must be positive, got %v", cfg.GradientTol)
	}
	if cfg.StepSizeTol < 0 || math.IsNaN(cfg.StepSizeTol) {
		return errValidation("StepSizeTol must be non-negative, got %v", cfg.StepSizeTol)
	}
	switch cfg.Selection {
	case "", SelectionCyclic, SelectionRandom:
	default:
		return errValidation("selection must be %q or %q, got %q", SelectionCyclic, SelectionRandom, cfg.Selection)
	}
	if !(cfg.Alpha >= 0) || math.IsInf(cfg.Alpha, 0) {
		return errValidation("alpha must be non-negative, got %v", cfg.Alpha)
	}
	if !(cfg.L1Ratio >= 0 && cfg.L1Ratio <= 1) {
		return errValidation("L1Ratio must be in [0, 1], got %v", cfg.L1Ratio)
	}
	for i, a := range cfg.Alphas {
		if !(a >= 0) || math.IsInf(a, 0) {
			return errValidation("alpha %d must be non-negative, got %v", i, a)
		}
	}
	if cfg.Alphas != nil && len(cfg.Alphas) == 0 {
		return errValidation("empty list of alphas")
	}
	if cfg.AlphaSearch && cfg.Alphas == nil && cfg.NAlphas < 1 {
		return errValidation("NAlphas must be positive, got %d", cfg.NAlphas)
	}
	if cfg.MinAlphaRatio < 0 || cfg.MinAlpha < 0 {
		return errValidation("MinAlpha and MinAlphaRatio must be non-negative")
	}
	if cfg.MinAlphaRatio >= 1 {
		return errValidation("MinAlphaRatio must be smaller than 1, got %v", cfg.MinAlphaRatio)
	}
	if cfg.ScalePredictors && !cfg.FitIntercept {
		return errValidation("ScalePredictors requires FitIntercept")
	}
	if _, err := setupP1(cfg.P1, p, 1, cfg.L1Ratio); err != nil {
		return err
	}
	if _, err := setupP2(cfg.P2, p, false, 1, cfg.L1Ratio); err != nil {
		return err
	}
	width := p
	if cfg.FitIntercept {
		width++
	}
	if cfg.StartParams != nil && len(cfg.StartParams) != width {
		return errValidation("StartParams has length %d, expected %d", len(cfg.StartParams), width)
	}
	if ws := cfg.WarmStart; ws != nil {
		if len(ws.Coef) != p || ws.FitIntercept != cfg.FitIntercept {
			return errValidation("WarmStart has %d coefficients (intercept %v), expected %d (intercept %v)", len(ws.Coef), ws.FitIntercept, p, cfg.FitIntercept)
		}
	}

	bounded := cfg.LowerBounds != nil || cfg.UpperBounds != nil
	if bounded {
		switch cfg.Solver {
		case "", SolverAuto, SolverIRLSCD:
		default:
			return errValidation("bounds are only supported by the %s solver", SolverIRLSCD)
		}
		if cfg.LowerBounds != nil && len(cfg.LowerBounds) != p {
			return errValidation("LowerBounds has length %d, expected %d", len(cfg.LowerBounds), p)
		}
		if cfg.UpperBounds != nil && len(cfg.UpperBounds) != p {
			return errValidation("UpperBounds has length %d, expected %d", len(cfg.UpperBounds), p)
		}
		for j := 0; j < p && cfg.LowerBounds != nil && cfg.UpperBounds != nil; j++ {
			if cfg.LowerBounds[j] > cfg.UpperBounds[j] {
				return errValidation("lower bound %d (%v) exceeds upper bound (%v)", j, cfg.LowerBounds[j], cfg.UpperBounds[j])
			}
		}
	}
	if (cfg.AIneq == nil) != (cfg.BIneq == nil) {
		return errValidation("AIneq and BIneq must be given together")
	}
	if cfg.AIneq != nil {
		if bounded {
			return errValidation("bounds and inequality constraints cannot be combined")
		}
		switch cfg.Solver {
		case "", SolverAuto, SolverTrustConstr:
		default:
			return errValidation("inequality constraints are only supported by the %s solver", SolverTrustConstr)
		}
		m, c := cfg.AIneq.Dims()
		if c != p || m != len(cfg.BIneq) {
			return errValidation("AIneq is %dx%d and BIneq has length %d, expected %d columns and matching rows", m, c, len(cfg.BIneq), p)
		}
	}
	switch cfg.Solver {
	case SolverIRLSLS, SolverLBFGS, SolverTrustConstr:
		if hasL1(cfg) {
			return errValidation("the %s solver does not support an L1 penalty", cfg.Solver)
		}
	}
	return nil
}

// startCoef returns the starting coefficients in standardized
// coordinates.
func (f *fitter) startCoef(pr *problem) []float64 {
	cfg := f.cfg
	var coef []float64
	switch {
	case cfg.WarmStart != nil:
		coef = f.view.standardizeCoef(cfg.WarmStart.coefficients(), cfg.FitIntercept)
	case cfg.StartParams != nil:
		coef = f.view.standardizeCoef(cfg.StartParams, cfg.FitIntercept)
	default:
		coef = make([]float64, pr.width())
		if cfg.FitIntercept {
			coef[0] = GuessIntercept(pr.y, pr.w, pr.offset, pr.link, pr.family)
		}
	}
	if pr.clip(coef) {
		f.logger.Warn("starting coefficients are outside the bounds; clipping")
	}
	return coef
}

func (f *fitter) alphas(pr *problem) ([]float64, error) {
	cfg := f.cfg
	if cfg.Alphas != nil {
		return append([]float64(nil), cfg.Alphas...), nil
	}
	if !cfg.AlphaSearch {
		return []float64{cfg.Alpha}, nil
	}
	_, p := f.data.X.Dims()
	weights, err := setupP1(cfg.P1, p, 1, cfg.L1Ratio)
	if err != nil {
		return nil, err
	}
	return alphaPath(cfg, pr, weights)
}

func (f *fitter) run() (*Result, error) {
	cfg := f.cfg
	_, p := f.data.X.Dims()
	pr := &problem{
		design: design{x: f.view, intercept: cfg.FitIntercept},
		y:      f.data.Y,
		w:      f.w,
		offset: f.data.Offset,
		family: cfg.Family,
		link:   f.link,
		lower:  f.lower,
		upper:  f.upper,
	}
	alphas, err := f.alphas(pr)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Family:       cfg.Family,
		Link:         f.link,
		FitIntercept: cfg.FitIntercept,
		L1Ratio:      cfg.L1Ratio,
		Solver:       f.solver,
		Converged:    true,
	}
	coef := f.startCoef(pr)
	for _, alpha := range alphas {
		p1, err := setupP1(cfg.P1, p, alpha, cfg.L1Ratio)
		if err != nil {
			return nil, err
		}
		if cfg.FitIntercept {
			p1 = append([]float64{0}, p1...)
		}
		pr.p1 = p1
		pr.p2, err = setupP2(cfg.P2, p, f.sparseX, alpha, cfg.L1Ratio)
		if err != nil {
			return nil, err
		}
		sol, err := f.solve(pr, coef, alpha)
		if err != nil {
			return nil, err
		}
		coef = sol.coef
		raw := f.view.unstandardizeCoef(coef, cfg.FitIntercept)
		intercept := 0.0
		if cfg.FitIntercept {
			intercept, raw = raw[0], raw[1:]
		}
		result.Alphas = append(result.Alphas, alpha)
		result.InterceptPath = append(result.InterceptPath, intercept)
		result.CoefPath = append(result.CoefPath, raw)
		result.NumIterPath = append(result.NumIterPath, sol.nIter)
		result.ConvergedPath = append(result.ConvergedPath, sol.converged)
		result.NumIter += sol.nIter
		result.NumCycles += sol.nCycles
		result.Diagnostics = append(result.Diagnostics, sol.diagnostics...)
		result.Intercept, result.Coef, result.Alpha = intercept, raw, alpha
		result.Converged = result.Converged && sol.converged
		result.penalized = alpha > 0 && !(allZero(p1) && pr.p2.isZero())
		if !sol.converged {
			f.logger.WithFields(log.Fields{
				"alpha":      alpha,
				"iterations": sol.nIter,
				"solver":     f.solver,
			}).Warn("fit did not converge")
		}
	}
	f.logger.WithFields(log.Fields{
		"alphas":     len(alphas),
		"iterations": result.NumIter,
		"solver":     f.solver,
	}).Debug("fit finished")
	return result, nil
}

func (f *fitter) solve(pr *problem, coef []float64, alpha float64) (*solution, error) {
	cfg := f.cfg
	s := irlsSettings{
		maxIter: cfg.MaxIter,
		gradTol: f.gradTol,
		stepTol: cfg.StepSizeTol,
		alpha:   alpha,
		logger:  f.logger,
	}
	switch f.solver {
	case SolverLBFGS:
		return lbfgs(pr, coef, s)
	case SolverTrustConstr:
		if f.constraints == nil {
			return lbfgs(pr, coef, s)
		}
		return trustConstr(pr, f.constraints, coef, s)
	case SolverIRLSLS:
		s.inner = leastSquares{}
	default:
		s.inner = &coordinateDescent{
			maxCycles: cfg.MaxInnerIter,
			random:    cfg.Selection == SelectionRandom,
			seed:      cfg.RandomSeed,
			logger:    f.logger,
		}
	}
	if cfg.Family.Kind == NormalFamily && f.link.Kind == IdentityLink {
		s.maxIter = 1
		s.fixedInnerTol = true
	}
	return irls(pr, coef, s)
}
