package proxyapi

import (
	"errors"
	"net/http"

	"github.com/codeready-toolchain/gateway/pkg/repository"
)

// httpStatusFor maps a repository/orchestrator error to the HTTP status the
// wire handlers surface it under, per the provider-shaped error envelope.
func httpStatusFor(err error) int {
	var validErr *repository.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest
	}
	if errors.Is(err, repository.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, repository.ErrAlreadyExists) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
