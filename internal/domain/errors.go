package domain

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid stream request")
	ErrInvalidQuery   = errors.New("invalid video query")
	ErrNoSources      = errors.New("no sources registered")
	ErrNotFound       = errors.New("not found")
	ErrNotPremium     = errors.New("debrid account is not premium")
	ErrUnavailable    = errors.New("not cached by debrid service")
)
