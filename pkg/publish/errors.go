package publish

import "errors"

// ErrBadRequest classifies failures caused by the request itself.
var ErrBadRequest = errors.New("bad request")

// badRequestError keeps the cause's message while matching ErrBadRequest.
type badRequestError struct {
	err error
}

func badRequest(err error) error {
	return &badRequestError{err: err}
}

func (e *badRequestError) Error() string { return e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

func (e *badRequestError) Is(target error) bool { return target == ErrBadRequest }
