package domain

import (
	"errors"
	"net/http"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrVerification = errors.New("payment verification failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("action not permitted in current state")
	ErrUpstream     = errors.New("downstream service failure")
)

// HTTPStatus maps an error onto the status a handler answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrVerification):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
