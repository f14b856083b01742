package lipschitz

import "errors"

var (
	// ErrNotPositiveDefinite is returned when a Schur complement block of the
	// certificate fails to factor.
	ErrNotPositiveDefinite = errors.New("lipschitz: certificate is not positive definite")

	// ErrInfeasibleDirection is returned with a zero step bound when no safe
	// step exists along a direction.
	ErrInfeasibleDirection = errors.New("lipschitz: no safe step along direction")

	// ErrDimensionMismatch is returned when weights, T vectors or directions
	// disagree with the topology.
	ErrDimensionMismatch = errors.New("lipschitz: dimension mismatch")
)
