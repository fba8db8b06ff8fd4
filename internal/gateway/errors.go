package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports that the server could not be reached (DNS, refused
// connection, timeout). Callers should treat it as transient.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports that retrying later may succeed.
func (e *TransportError) Temporary() bool { return true }

// HTTPError reports a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Describe maps a gateway error to text suitable for showing in the chat history.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized:
			return "Not authorized. Please log in again."
		case http.StatusNotFound:
			return "The server does not know this command."
		case http.StatusInternalServerError:
			return "The server ran into an error. Try again later."
		default:
			return fmt.Sprintf("Request failed with status %d.", httpErr.StatusCode)
		}
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return "Could not reach the server. Check your connection."
	}
	return "Something went wrong: " + err.Error()
}
