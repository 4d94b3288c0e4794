// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type penaltySuite struct{}

var _ = check.Suite(&penaltySuite{})

func (s *penaltySuite) TestSetupP1(c *check.C) {
	p1, err := setupP1(nil, 3, 2, 0.25)
	c.Check(err, check.IsNil)
	c.Check(p1, check.DeepEquals, []float64{0.5, 0.5, 0.5})

	p1, err = setupP1([]float64{0, 1, 4}, 3, 2, 0.5)
	c.Check(err, check.IsNil)
	c.Check(p1, check.DeepEquals, []float64{0, 1, 4})

	_, err = setupP1([]float64{1, 1}, 3, 1, 1)
	c.Check(errors.Is(err, ErrValidation), check.Equals, true)
	_, err = setupP1([]float64{1, -1, 1}, 3, 1, 1)
	c.Check(errors.Is(err, ErrValidation), check.Equals, true)
}

func (s *penaltySuite) TestSetupP2Diagonal(c *check.C) {
	for _, sparseX := range []bool{false, true} {
		p2, err := setupP2(L2Weights{}, 3, sparseX, 2, 0.5)
		c.Check(err, check.IsNil)
		c.Check(p2.diagonal(), check.DeepEquals, []float64{1, 1, 1})
		c.Check(p2.dia != nil, check.Equals, sparseX)
		c.Check(p2.Quadratic([]float64{1, 2, 3}), check.Equals, 7.0)

		p2, err = setupP2(L2Weights{Vector: []float64{1, 0, 3}}, 3, sparseX, 1, 0)
		c.Check(err, check.IsNil)
		dst := make([]float64, 3)
		p2.MulVec(dst, []float64{1, 1, 1})
		c.Check(dst, check.DeepEquals, []float64{1, 0, 3})
		c.Check(p2.At(2, 2), check.Equals, 3.0)
		c.Check(p2.At(0, 2), check.Equals, 0.0)
	}
	_, err := setupP2(L2Weights{Vector: []float64{1, -1, 1}}, 3, false, 1, 0)
	c.Check(errors.Is(err, ErrValidation), check.Equals, true)
	_, err = setupP2(L2Weights{Vector: []float64{1}}, 3, false, 1, 0)
	c.Check(errors.Is(err, ErrValidation), check.Equals, true)
}

func (s *penaltySuite) TestSetupP2Matrix(c *check.C) {
	// An asymmetric shape is symmetrized.
	shape := mat.NewDense(2, 2, []float64{2, 1, 3, 4})
	p2, err := setupP2(L2Weights{Matrix: shape}, 2, false, 1, 0.5)
	c.Check(err, check.IsNil)
	c.Check(p2.At(0, 1), check.Equals, 1.0)
	c.Check(p2.At(1, 0), check.Equals, 1.0)
	c.Check(p2.At(0, 0), check.Equals, 1.0)
	c.Check(p2.At(1, 1), check.Equals, 2.0)

	h := mat.NewSymDense(3, nil)
	p2.addTo(h)
	c.Check(h.At(0, 0), check.Equals, 0.0)
	c.Check(h.At(1, 2), check.Equals, 1.0)
	c.Check(h.At(2, 2), check.Equals, 2.0)
	c.Check(p2.isZero(), check.Equals, false)

	_, err = setupP2(L2Weights{Matrix: mat.NewDense(3, 3, nil)}, 2, false, 1, 0)
	c.Check(errors.Is(err, ErrValidation), check.Equals, true)

	zero, err := setupP2(L2Weights{Matrix: shape}, 2, false, 1, 1)
	c.Check(err, check.IsNil)
	c.Check(zero.isZero(), check.Equals, true)
}
