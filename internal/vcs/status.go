package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the commit status pushed to the VCS.
type State string

const (
	StateSuccess State = "success"
	StateFailure State = "failure"
)

// StatusReportError wraps any failure to report the attempt outcome.
// Reporting is best-effort: callers log it and move on, it never fails
// the attempt.
type StatusReportError struct {
	CommitID string
	Cause    error
}

func (e *StatusReportError) Error() string {
	return fmt.Sprintf("failed to report status for commit %s: %v", e.CommitID, e.Cause)
}

func (e *StatusReportError) Unwrap() error { return e.Cause }

// Reporter pushes terminal attempt outcomes to the VCS commit-status
// endpoint. The endpoint is idempotent, so transient failures are
// retried with exponential backoff.
type Reporter struct {
	client  *http.Client
	baseURL string
	token   string
}

func NewReporter(baseURL, token string) *Reporter {
	return &Reporter{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: baseURL,
		token:   token,
	}
}

type statusRequest struct {
	State       State  `json:"state"`
	Description string `json:"description"`
	TargetURL   string `json:"target_url,omitempty"`
}

const maxReportRetries = 3

// SetCommitStatus sets the commit status. Repeated calls with identical
// arguments are safe; the endpoint treats them as no-ops.
func (r *Reporter) SetCommitStatus(ctx context.Context, commitID string, state State, description, detailsURL string) error {
	body, err := json.Marshal(statusRequest{State: state, Description: description, TargetURL: detailsURL})
	if err != nil {
		return &StatusReportError{CommitID: commitID, Cause: err}
	}
	endpoint := fmt.Sprintf("%s/api/v1/statuses/%s", r.baseURL, url.PathEscape(commitID))

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if r.token != "" {
			req.Header.Set("Authorization", "Bearer "+r.token)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			// Client errors will not improve on retry.
			return backoff.Permanent(fmt.Errorf("status endpoint returned %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxReportRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return &StatusReportError{CommitID: commitID, Cause: err}
	}
	return nil
}
