// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"errors"
	"math"

	"gopkg.in/check.v1"
)

type familySuite struct{}

var _ = check.Suite(&familySuite{})

func allFamilies(c *check.C) []Family {
	tw, err := NewTweedie(1.5)
	c.Assert(err, check.IsNil)
	tw3, err := NewTweedie(2.5)
	c.Assert(err, check.IsNil)
	nb, err := NewNegativeBinomial(0.5)
	c.Assert(err, check.IsNil)
	return []Family{Normal, Poisson, Gamma, Binomial, InverseGaussian, tw, tw3, nb, GHS}
}

func (s *familySuite) TestDevianceZeroAtMean(c *check.C) {
	for _, f := range allFamilies(c) {
		for _, y := range []float64{0.2, 0.5, 0.9} {
			c.Check(math.Abs(f.UnitDeviance(y, y)) < 1e-12, check.Equals, true, check.Commentf("%s y=%v", f, y))
			c.Check(f.UnitDeviance(y, y*1.1) > 0, check.Equals, true, check.Commentf("%s y=%v", f, y))
		}
	}
}

func (s *familySuite) TestDerivatives(c *check.C) {
	const h = 1e-6
	for _, f := range allFamilies(c) {
		for _, mu := range []float64{0.3, 0.6} {
			y := 0.4
			num := (f.UnitDeviance(y, mu+h) - f.UnitDeviance(y, mu-h)) / (2 * h)
			c.Check(math.Abs(num-f.UnitDevianceDerivative(y, mu)) < 1e-5, check.Equals, true, check.Commentf("%s mu=%v num=%v", f, mu, num))
			num = (f.Variance(mu+h) - f.Variance(mu-h)) / (2 * h)
			c.Check(math.Abs(num-f.VarianceDerivative(mu)) < 1e-6, check.Equals, true, check.Commentf("%s mu=%v", f, mu))
		}
	}
}

func (s *familySuite) TestInRange(c *check.C) {
	tw, _ := NewTweedie(1.5)
	for _, trial := range []struct {
		f  Family
		y  float64
		ok bool
	}{
		{Normal, -3, true},
		{Poisson, 0, true},
		{Poisson, -1, false},
		{Gamma, 0, false},
		{Gamma, 0.1, true},
		{Binomial, 1, true},
		{Binomial, 1.5, false},
		{InverseGaussian, 0, false},
		{tw, 0, true},
		{GHS, -10, true},
		{Normal, math.NaN(), false},
	} {
		c.Check(trial.f.InRange(trial.y), check.Equals, trial.ok, check.Commentf("%s y=%v", trial.f, trial.y))
	}
}

func (s *familySuite) TestParseFamily(c *check.C) {
	for name, expect := range map[string]Family{
		"normal":                 Normal,
		"Gaussian":               Normal,
		"poisson":                Poisson,
		"inverse.gaussian":       InverseGaussian,
		"tweedie":                {Kind: TweedieFamily, Power: 1.5},
		"tweedie(1.2)":           {Kind: TweedieFamily, Power: 1.2},
		"negative.binomial":      {Kind: NegativeBinomialFamily, Theta: 1},
		"negative.binomial(2.5)": {Kind: NegativeBinomialFamily, Theta: 2.5},
	} {
		f, err := ParseFamily(name)
		c.Check(err, check.IsNil)
		c.Check(f, check.Equals, expect)
	}
	for _, name := range []string{"tweedie(0.5)", "tweedie(x)", "negative.binomial(-1)", "cauchy"} {
		_, err := ParseFamily(name)
		c.Check(errors.Is(err, ErrValidation), check.Equals, true, check.Commentf("%q", name))
	}
}

func (s *familySuite) TestCanonicalLink(c *check.C) {
	tw0, _ := NewTweedie(0)
	tw, _ := NewTweedie(1.5)
	twneg, _ := NewTweedie(-1)
	nb, _ := NewNegativeBinomial(1)
	for _, trial := range []struct {
		f    Family
		link Link
	}{
		{Normal, Identity},
		{tw0, Identity},
		{twneg, Identity},
		{Poisson, Log},
		{Gamma, Log},
		{InverseGaussian, Log},
		{tw, Log},
		{Binomial, Logit},
		{nb, Log},
		{GHS, Identity},
	} {
		link, err := trial.f.CanonicalLink()
		c.Check(err, check.IsNil)
		c.Check(link, check.Equals, trial.link, check.Commentf("%s", trial.f))
	}
	_, err := Family{Kind: FamilyKind(99)}.CanonicalLink()
	c.Check(errors.Is(err, ErrValidation), check.Equals, true)
}

func (s *familySuite) TestGuessIntercept(c *check.C) {
	y := []float64{0, 1, 1, 2}
	w := []float64{1, 1, 2, 0}
	c.Check(GuessIntercept(y, w, nil, Identity, Normal), check.Equals, 0.75)
	c.Check(math.Abs(GuessIntercept(y, w, nil, Log, Poisson)-math.Log(0.75)) < 1e-15, check.Equals, true)

	yb := []float64{0, 1, 1, 1}
	c.Check(math.Abs(GuessIntercept(yb, nil, nil, Logit, Binomial)-math.Log(3)) < 1e-12, check.Equals, true)

	// With an offset, the guessed intercept reproduces the
	// weighted mean response.
	offset := []float64{0.1, -0.3, 0.2, 0.5}
	for _, trial := range []struct {
		link   Link
		family Family
	}{
		{Identity, Normal},
		{Log, Poisson},
		{Cloglog, Binomial},
	} {
		yy := []float64{0.1, 0.4, 0.3, 0.6}
		b := GuessIntercept(yy, nil, offset, trial.link, trial.family)
		var sum float64
		for i := range offset {
			sum += trial.link.Inverse(offset[i] + b)
		}
		c.Check(math.Abs(sum/4-0.35) < 1e-9, check.Equals, true, check.Commentf("%s b=%v mean=%v", trial.link, b, sum/4))
	}
}

// With a log link and an offset, the guessed intercept zeroes the
// intercept score sum w (y-mu) mu'/V(mu) for every Tweedie power.
func (s *familySuite) TestGuessInterceptLogLinkScore(c *check.C) {
	y := []float64{0.5, 1.2, 3.1, 0.8, 2.2}
	w := []float64{1, 2, 1, 0.5, 1}
	offset := []float64{1.5, -2, 0.3, 2.5, -0.7}
	tw, err := NewTweedie(1.5)
	c.Assert(err, check.IsNil)
	for _, f := range []Family{Normal, Poisson, Gamma, InverseGaussian, tw} {
		b := GuessIntercept(y, w, offset, Log, f)
		var score, scale float64
		for i := range y {
			mu := math.Exp(offset[i] + b)
			term := w[i] * (y[i] - mu) * mu / f.Variance(mu)
			score += term
			scale += math.Abs(term)
		}
		c.Check(math.Abs(score) < 1e-12*scale, check.Equals, true, check.Commentf("%s b=%v score=%v", f, b, score))
	}
}

func (s *familySuite) TestDispersion(c *check.C) {
	y := []float64{1, 2, 4, 3}
	mu := []float64{1.5, 1.5, 3.5, 3.5}
	// Pearson: sum (y-mu)²/V / (n - ddof), V = 1 for normal.
	c.Check(Normal.Dispersion(y, mu, nil, 2, PearsonDispersion), check.Equals, 1.0/2)
	c.Check(Normal.Dispersion(y, mu, nil, 2, DevianceDispersion), check.Equals, 1.0/2)
	c.Check(math.Abs(Poisson.Dispersion(y, mu, nil, 0, PearsonDispersion)-(0.25/1.5*2+0.25/3.5*2)/4) < 1e-15, check.Equals, true)
}
