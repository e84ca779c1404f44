package wire

import "errors"

var (
	// ErrShortBuffer reports a read that would run past the end of the parcel.
	ErrShortBuffer = errors.New("wire: read past end of parcel")

	// ErrCountTooLarge reports a declared element count that cannot fit in the
	// bytes remaining after the count itself.
	ErrCountTooLarge = errors.New("wire: declared count exceeds remaining data")

	// ErrBadObjectAccess reports a plain-data read overlapping an object slot,
	// or an object read at an offset that holds no object.
	ErrBadObjectAccess = errors.New("wire: mismatched object access")

	// ErrMalformed reports a parcel envelope that fails structural validation.
	ErrMalformed = errors.New("wire: malformed parcel")

	ErrInvalidBool = errors.New("wire: invalid bool value")
)
