package httperror

import (
	"fmt"
	"net/http"
)

// APIError is what the client returns for a non-2xx response whose
// body is not one of the service's own JSON errors (a proxy error
// page, for instance). It can be retrieved with errors.Cause(err).
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("%s (%s)", err.Status, err.Body)
}

// IsUnavailable is true when something in front of the service
// answered because the service itself could not.
func (err *APIError) IsUnavailable() bool {
	switch err.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsMissing usually means the endpoint is misconfigured, e.g. the
// base path is wrong.
func (err *APIError) IsMissing() bool {
	return err.StatusCode == http.StatusNotFound
}
