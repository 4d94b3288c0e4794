// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is wrapped by every error caused by an invalid
	// fit request. Such errors are returned before any solving
	// starts.
	ErrValidation = errors.New("invalid fit request")

	// ErrSingularMatrix is wrapped by errors caused by a
	// factorization or inversion failure.
	ErrSingularMatrix = errors.New("matrix is singular or nearly singular")
)

func errValidation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func errSingular(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSingularMatrix, fmt.Sprintf(format, args...))
}
