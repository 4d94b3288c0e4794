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

type LinkKind int

const (
	IdentityLink LinkKind = iota
	LogLink
	LogitLink
	CloglogLink
	TweedieLink
)

// Link maps the mean mu to the linear predictor eta.
type Link struct {
	Kind LinkKind
	// Power of a TweedieLink, eta = mu^(1-Power).
	Power float64
}

var (
	Identity = Link{Kind: IdentityLink}
	Log      = Link{Kind: LogLink}
	Logit    = Link{Kind: LogitLink}
	Cloglog  = Link{Kind: CloglogLink}
)

// NewTweedieLink returns the power link eta = mu^(1-power). Power 0
// is the identity link and power 1 is the log link.
func NewTweedieLink(power float64) Link {
	switch power {
	case 0:
		return Identity
	case 1:
		return Log
	}
	return Link{Kind: TweedieLink, Power: power}
}

var tweedieLinkRegexp = regexp.MustCompile(`^tweedie\s*\((.*)\)$`)

// ParseLink returns the link with the given name. "auto" (or "")
// returns the default link of family.
func ParseLink(name string, family Family) (Link, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "auto":
		return family.CanonicalLink()
	case "identity":
		return Identity, nil
	case "log":
		return Log, nil
	case "logit":
		return Logit, nil
	case "cloglog":
		return Cloglog, nil
	case "tweedie":
		return NewTweedieLink(1.5), nil
	}
	if m := tweedieLinkRegexp.FindStringSubmatch(name); m != nil {
		p, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
		if err != nil {
			return Link{}, errValidation("cannot parse tweedie link power %q", m[1])
		}
		return NewTweedieLink(p), nil
	}
	return Link{}, errValidation("unknown link %q", name)
}

func (l Link) String() string {
	switch l.Kind {
	case IdentityLink:
		return "identity"
	case LogLink:
		return "log"
	case LogitLink:
		return "logit"
	case CloglogLink:
		return "cloglog"
	case TweedieLink:
		return fmt.Sprintf("tweedie(%g)", l.Power)
	}
	return fmt.Sprintf("link(%d)", int(l.Kind))
}

func expit(eta float64) float64 {
	if eta >= 0 {
		return 1 / (1 + math.Exp(-eta))
	}
	e := math.Exp(eta)
	return e / (1 + e)
}

// Link returns eta = g(mu).
func (l Link) Link(mu float64) float64 {
	switch l.Kind {
	case IdentityLink:
		return mu
	case LogLink:
		return math.Log(mu)
	case LogitLink:
		return math.Log(mu / (1 - mu))
	case CloglogLink:
		return math.Log(-math.Log1p(-mu))
	case TweedieLink:
		return math.Pow(mu, 1-l.Power)
	}
	panic("unknown link")
}

// Derivative returns dg/dmu.
func (l Link) Derivative(mu float64) float64 {
	switch l.Kind {
	case IdentityLink:
		return 1
	case LogLink:
		return 1 / mu
	case LogitLink:
		return 1 / (mu * (1 - mu))
	case CloglogLink:
		return -1 / ((1 - mu) * math.Log1p(-mu))
	case TweedieLink:
		return (1 - l.Power) * math.Pow(mu, -l.Power)
	}
	panic("unknown link")
}

// Inverse returns mu = g^-1(eta).
func (l Link) Inverse(eta float64) float64 {
	switch l.Kind {
	case IdentityLink:
		return eta
	case LogLink:
		return math.Exp(eta)
	case LogitLink:
		return expit(eta)
	case CloglogLink:
		return -math.Expm1(-math.Exp(eta))
	case TweedieLink:
		return math.Pow(eta, 1/(1-l.Power))
	}
	panic("unknown link")
}

// InverseDerivative returns dmu/deta.
func (l Link) InverseDerivative(eta float64) float64 {
	switch l.Kind {
	case IdentityLink:
		return 1
	case LogLink:
		return math.Exp(eta)
	case LogitLink:
		mu := expit(eta)
		return mu * (1 - mu)
	case CloglogLink:
		return math.Exp(eta - math.Exp(eta))
	case TweedieLink:
		return math.Pow(eta, l.Power/(1-l.Power)) / (1 - l.Power)
	}
	panic("unknown link")
}

// InverseDerivative2 returns d²mu/deta².
func (l Link) InverseDerivative2(eta float64) float64 {
	switch l.Kind {
	case IdentityLink:
		return 0
	case LogLink:
		return math.Exp(eta)
	case LogitLink:
		mu := expit(eta)
		return mu * (1 - mu) * (1 - 2*mu)
	case CloglogLink:
		return math.Exp(eta-math.Exp(eta)) * (1 - math.Exp(eta))
	case TweedieLink:
		q := 1 - l.Power
		return l.Power / (q * q) * math.Pow(eta, (2*l.Power-1)/q)
	}
	panic("unknown link")
}
