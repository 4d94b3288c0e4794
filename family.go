// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

type FamilyKind int

const (
	NormalFamily FamilyKind = iota
	PoissonFamily
	GammaFamily
	BinomialFamily
	InverseGaussianFamily
	TweedieFamily
	NegativeBinomialFamily
	GHSFamily
)

// Family is a distribution from the exponential dispersion family.
// Values are immutable and safe to share between concurrent fits.
type Family struct {
	Kind FamilyKind
	// Power is the variance power of a TweedieFamily.
	Power float64
	// Theta is the ancillary parameter of a
	// NegativeBinomialFamily.
	Theta float64
}

var (
	Normal          = Family{Kind: NormalFamily}
	Poisson         = Family{Kind: PoissonFamily}
	Gamma           = Family{Kind: GammaFamily}
	Binomial        = Family{Kind: BinomialFamily}
	InverseGaussian = Family{Kind: InverseGaussianFamily}
	GHS             = Family{Kind: GHSFamily}
)

// NewTweedie returns the Tweedie family with the given variance
// power. Powers in the open interval (0, 1) do not correspond to a
// distribution and are rejected.
func NewTweedie(power float64) (Family, error) {
	if power > 0 && power < 1 {
		return Family{}, errValidation("tweedie power %v is in (0, 1)", power)
	}
	if math.IsNaN(power) || math.IsInf(power, 0) {
		return Family{}, errValidation("tweedie power %v is not finite", power)
	}
	return Family{Kind: TweedieFamily, Power: power}, nil
}

// NewNegativeBinomial returns the negative binomial family with the
// given theta (variance mu + theta*mu^2).
func NewNegativeBinomial(theta float64) (Family, error) {
	if !(theta > 0) || math.IsInf(theta, 0) {
		return Family{}, errValidation("negative binomial theta %v must be positive", theta)
	}
	return Family{Kind: NegativeBinomialFamily, Theta: theta}, nil
}

var (
	tweedieFamilyRegexp = regexp.MustCompile(`^tweedie\s*\((.*)\)$`)
	negBinomialRegexp   = regexp.MustCompile(`^negative\.binomial\s*\((.*)\)$`)
)

// ParseFamily returns the family with the given name: normal
// (gaussian), poisson, gamma, binomial, inverse.gaussian, ghs,
// tweedie, tweedie(p), negative.binomial, negative.binomial(theta).
func ParseFamily(name string) (Family, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "normal", "gaussian":
		return Normal, nil
	case "poisson":
		return Poisson, nil
	case "gamma":
		return Gamma, nil
	case "binomial":
		return Binomial, nil
	case "inverse.gaussian":
		return InverseGaussian, nil
	case "ghs", "generalized.hyperbolic.secant":
		return GHS, nil
	case "tweedie":
		return NewTweedie(1.5)
	case "negative.binomial":
		return NewNegativeBinomial(1)
	}
	if m := tweedieFamilyRegexp.FindStringSubmatch(name); m != nil {
		p, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
		if err != nil {
			return Family{}, errValidation("cannot parse tweedie power %q", m[1])
		}
		return NewTweedie(p)
	}
	if m := negBinomialRegexp.FindStringSubmatch(name); m != nil {
		theta, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
		if err != nil {
			return Family{}, errValidation("cannot parse negative binomial theta %q", m[1])
		}
		return NewNegativeBinomial(theta)
	}
	return Family{}, errValidation("unknown family %q", name)
}

func (f Family) String() string {
	switch f.Kind {
	case NormalFamily:
		return "normal"
	case PoissonFamily:
		return "poisson"
	case GammaFamily:
		return "gamma"
	case BinomialFamily:
		return "binomial"
	case InverseGaussianFamily:
		return "inverse.gaussian"
	case TweedieFamily:
		return fmt.Sprintf("tweedie(%g)", f.Power)
	case NegativeBinomialFamily:
		return fmt.Sprintf("negative.binomial(%g)", f.Theta)
	case GHSFamily:
		return "ghs"
	}
	return fmt.Sprintf("family(%d)", int(f.Kind))
}

// TweediePower returns the variance power of families that are
// members of the Tweedie class.
func (f Family) TweediePower() (float64, bool) {
	switch f.Kind {
	case NormalFamily:
		return 0, true
	case PoissonFamily:
		return 1, true
	case GammaFamily:
		return 2, true
	case InverseGaussianFamily:
		return 3, true
	case TweedieFamily:
		return f.Power, true
	}
	return 0, false
}

// CanonicalLink returns the default link for the family.
func (f Family) CanonicalLink() (Link, error) {
	if p, ok := f.TweediePower(); ok {
		if p <= 0 {
			return Identity, nil
		}
		return Log, nil
	}
	switch f.Kind {
	case BinomialFamily:
		return Logit, nil
	case NegativeBinomialFamily:
		return Log, nil
	case GHSFamily:
		return Identity, nil
	}
	return Link{}, errValidation("no default link for family %s", f)
}

// Variance returns the unit variance function V(mu).
func (f Family) Variance(mu float64) float64 {
	switch f.Kind {
	case NormalFamily:
		return 1
	case PoissonFamily:
		return mu
	case GammaFamily:
		return mu * mu
	case BinomialFamily:
		return mu * (1 - mu)
	case InverseGaussianFamily:
		return mu * mu * mu
	case TweedieFamily:
		switch f.Power {
		case 0:
			return 1
		case 1:
			return mu
		case 2:
			return mu * mu
		}
		return math.Pow(mu, f.Power)
	case NegativeBinomialFamily:
		return mu + f.Theta*mu*mu
	case GHSFamily:
		return 1 + mu*mu
	}
	panic("unknown family")
}

// VarianceDerivative returns dV/dmu.
func (f Family) VarianceDerivative(mu float64) float64 {
	switch f.Kind {
	case NormalFamily:
		return 0
	case PoissonFamily:
		return 1
	case GammaFamily:
		return 2 * mu
	case BinomialFamily:
		return 1 - 2*mu
	case InverseGaussianFamily:
		return 3 * mu * mu
	case TweedieFamily:
		if f.Power == 0 {
			return 0
		}
		return f.Power * math.Pow(mu, f.Power-1)
	case NegativeBinomialFamily:
		return 1 + 2*f.Theta*mu
	case GHSFamily:
		return 2 * mu
	}
	panic("unknown family")
}

// xlogy returns x*log(y), defined as 0 when x is 0.
func xlogy(x, y float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(y)
}

// UnitDeviance returns the unit deviance d(y, mu), which is zero
// when y == mu and positive otherwise.
func (f Family) UnitDeviance(y, mu float64) float64 {
	switch f.Kind {
	case NormalFamily:
		return (y - mu) * (y - mu)
	case PoissonFamily:
		return 2 * (xlogy(y, y/mu) - y + mu)
	case GammaFamily:
		return 2 * (-math.Log(y/mu) + (y-mu)/mu)
	case BinomialFamily:
		return 2 * (xlogy(y, y/mu) + xlogy(1-y, (1-y)/(1-mu)))
	case InverseGaussianFamily:
		return (y - mu) * (y - mu) / (y * mu * mu)
	case TweedieFamily:
		return tweedieUnitDeviance(f.Power, y, mu)
	case NegativeBinomialFamily:
		return 2 * (xlogy(y, y/mu) - (y+1/f.Theta)*math.Log((1+f.Theta*y)/(1+f.Theta*mu)))
	case GHSFamily:
		return 2*y*(math.Atan(y)-math.Atan(mu)) + math.Log((1+mu*mu)/(1+y*y))
	}
	panic("unknown family")
}

func tweedieUnitDeviance(p, y, mu float64) float64 {
	switch p {
	case 0:
		return Normal.UnitDeviance(y, mu)
	case 1:
		return Poisson.UnitDeviance(y, mu)
	case 2:
		return Gamma.UnitDeviance(y, mu)
	}
	return 2 * (math.Pow(math.Max(y, 0), 2-p)/((1-p)*(2-p)) -
		y*math.Pow(mu, 1-p)/(1-p) +
		math.Pow(mu, 2-p)/(2-p))
}

// UnitDevianceDerivative returns the derivative of the unit deviance
// with respect to mu, -2(y-mu)/V(mu).
func (f Family) UnitDevianceDerivative(y, mu float64) float64 {
	return -2 * (y - mu) / f.Variance(mu)
}

// Deviance returns the weighted sum of unit deviances. A nil w means
// unit weights.
func (f Family) Deviance(y, mu, w []float64) float64 {
	var sum float64
	for i := range y {
		d := f.UnitDeviance(y[i], mu[i])
		if w != nil {
			d *= w[i]
		}
		sum += d
	}
	return sum
}

// InRange reports whether y is in the support of the family.
func (f Family) InRange(y float64) bool {
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return false
	}
	switch f.Kind {
	case NormalFamily, GHSFamily:
		return true
	case PoissonFamily, NegativeBinomialFamily:
		return y >= 0
	case GammaFamily, InverseGaussianFamily:
		return y > 0
	case BinomialFamily:
		return y >= 0 && y <= 1
	case TweedieFamily:
		switch {
		case f.Power <= 0:
			return true
		case f.Power < 2:
			return y >= 0
		default:
			return y > 0
		}
	}
	return false
}

type DispersionMethod int

const (
	PearsonDispersion DispersionMethod = iota
	DevianceDispersion
)

// Dispersion estimates the dispersion parameter from the
// residuals, with ddof degrees of freedom removed from the sum of
// weights. A nil w means unit weights.
func (f Family) Dispersion(y, mu, w []float64, ddof int, method DispersionMethod) float64 {
	var sum, sumw float64
	for i := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		sumw += wi
		switch method {
		case DevianceDispersion:
			sum += wi * f.UnitDeviance(y[i], mu[i])
		default:
			r := y[i] - mu[i]
			sum += wi * r * r / f.Variance(mu[i])
		}
	}
	return sum / (sumw - float64(ddof))
}

// GuessIntercept returns a starting intercept for an
// intercept-only model: the linear predictor that reproduces the
// weighted mean response. With a log link and an offset, it is the
// root of the intercept score for the family's Tweedie power (1 for
// families outside the Tweedie class). A nil offset or w is treated
// as zeros or unit weights respectively.
func GuessIntercept(y, w, offset []float64, link Link, family Family) float64 {
	var sumw, avgY, avgOffset float64
	for i := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		sumw += wi
		avgY += wi * y[i]
		if offset != nil {
			avgOffset += wi * offset[i]
		}
	}
	avgY /= sumw
	avgOffset /= sumw
	switch link.Kind {
	case IdentityLink:
		return avgY - avgOffset
	case LogLink:
		if offset == nil {
			return math.Log(math.Max(avgY, guessFloor))
		}
		p, ok := family.TweediePower()
		if !ok {
			p = 1
		}
		// Σw·y·e^{(1-p)(b+off)} = Σw·e^{(2-p)(b+off)}
		var num, den float64
		for i := range y {
			wi := 1.0
			if w != nil {
				wi = w[i]
			}
			num += wi * y[i] * math.Exp((1-p)*offset[i])
			den += wi * math.Exp((2-p)*offset[i])
		}
		return math.Log(math.Max(num, guessFloor*sumw)) - math.Log(den)
	case LogitLink:
		avgY = math.Min(math.Max(avgY, guessFloor), 1-guessFloor)
		return math.Log(avgY/(1-avgY)) - avgOffset
	}
	guess := link.Link(avgY) - avgOffset
	if offset == nil || link.Kind != CloglogLink {
		return guess
	}
	return bisectIntercept(w, offset, link, avgY*sumw, guess)
}

const guessFloor = 1e-10

// bisectIntercept finds b with sum(w*inverse(offset+b)) == target.
// The inverse link must be increasing and defined on all reals.
func bisectIntercept(w, offset []float64, link Link, target, guess float64) float64 {
	f := func(b float64) float64 {
		var sum float64
		for i := range offset {
			wi := 1.0
			if w != nil {
				wi = w[i]
			}
			sum += wi * link.Inverse(offset[i]+b)
		}
		return sum - target
	}
	lo, hi := guess-1, guess+1
	for i := 0; i < 64 && f(lo) > 0; i++ {
		lo -= hi - lo
	}
	for i := 0; i < 64 && f(hi) < 0; i++ {
		hi += hi - lo
	}
	for i := 0; i < 200 && hi-lo > 1e-12*(1+math.Abs(lo)); i++ {
		mid := (lo + hi) / 2
		if f(mid) < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
