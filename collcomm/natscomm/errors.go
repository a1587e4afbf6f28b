package natscomm

import "errors"

var (
	// ErrJoinTimeout indicates that the cohort did not
	// assemble before the join deadline.
	ErrJoinTimeout = errors.New("natscomm: join barrier timed out")

	// ErrMalformedFrame indicates a message on a rank's
	// subject that could not be decoded.
	ErrMalformedFrame = errors.New("natscomm: malformed frame")

	// ErrInvalidConfig indicates a Config that cannot
	// describe a cohort.
	ErrInvalidConfig = errors.New("natscomm: invalid config")
)
