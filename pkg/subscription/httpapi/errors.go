package httpapi

import "errors"

var (
	ErrMissingToken      = errors.New("missing bearer token")
	ErrInvalidAdminToken = errors.New("invalid admin token")
	ErrInvalidBody       = errors.New("invalid request body")
	ErrInvalidLimit      = errors.New("limit must be a positive integer")
)
