package domain

import "errors"

var (
	ErrNoCopiesAvailable = errors.New("no copies available for checkout")
	ErrAllCopiesReturned = errors.New("all copies are already returned")
	ErrAlreadyReturned   = errors.New("checkout already returned")
	ErrInvalidCopyCount  = errors.New("total copies must be at least one")
)
