package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of an error response is kept as diagnostic detail.
const maxErrorBody = 4096

// StatusError is a response that was not successful.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.Code, http.StatusText(e.Code), e.Body)
}

// Transient reports whether the server may answer differently next time.
func (e *StatusError) Transient() bool {
	return e.Code >= http.StatusInternalServerError
}

// Do sends the request built by newRequest, retrying transport failures and
// 5xx responses according to policy. Any response below 500 is definitive:
// a 2xx is returned to the caller, who must close its body, anything else
// becomes a permanent *StatusError. newRequest is called once per attempt.
func Do(ctx context.Context, client *http.Client, policy Policy, newRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	return RetryResult(ctx, policy, func(int) (*http.Response, error) {
		req, err := newRequest(ctx)
		if err != nil {
			return nil, Permanent(err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Permanent(ctx.Err())
			}
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		statusErr := readStatusError(req, resp)
		if statusErr.Transient() {
			return nil, statusErr
		}
		return nil, Permanent(statusErr)
	})
}

func readStatusError(req *http.Request, resp *http.Response) *StatusError {
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method: req.Method,
		URL:    req.URL.Redacted(),
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}
