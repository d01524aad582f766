package blacklist

import "errors"

var (
	// ErrInvalidAddress is returned when a string is not a literal IPv4 or IPv6 address
	ErrInvalidAddress = errors.New("invalid IP address")

	// ErrInvalidCandidate is returned for a query subject that cannot be checked
	ErrInvalidCandidate = errors.New("invalid candidate")
)
