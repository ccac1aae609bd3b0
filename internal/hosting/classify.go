package hosting

import (
	"net/http"

	"github.com/google/go-github/v57/github"

	"github.com/fyrsmithlabs/patchd/internal/faults"
)

// classify maps a GitHub API outcome onto the fault taxonomy so the
// retrier and breaker can make decisions without knowing about HTTP.
func classify(op string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	if resp != nil && resp.Response != nil {
		switch code := resp.Response.StatusCode; code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return faults.Wrap(op, faults.CodeTransient, err)

		case http.StatusForbidden:
			// Secondary rate limits come back as 403 with rate headers.
			if resp.Rate.Limit > 0 {
				return faults.Wrap(op, faults.CodeTransient, err)
			}
			return faults.Wrap(op, faults.CodeUnrecoverable, err)

		case http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity:
			return faults.Wrap(op, faults.CodeUnrecoverable, err)

		default:
			if code >= 500 && code < 600 {
				return faults.Wrap(op, faults.CodeTransient, err)
			}
			return faults.Wrap(op, faults.CodeUnrecoverable, err)
		}
	}

	// No response at all: network error or timeout, worth retrying.
	return faults.Wrap(op, faults.CodeTransient, err)
}

// isNotFound reports a 404 response, which some calls treat as a normal
// answer rather than a failure.
func isNotFound(resp *github.Response) bool {
	return resp != nil && resp.Response != nil && resp.Response.StatusCode == http.StatusNotFound
}
