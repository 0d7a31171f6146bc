package zhmc

import (
	"context"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Job status values reported by the HMC.
const (
	jobStatusComplete = "complete"
	jobStatusRunning  = "running"
	jobStatusCanceled = "canceled"
)

// pollJob polls an asynchronous job until it completes, the job timeout
// elapses, or the context is canceled. On completion it returns the job's
// result body; a job that completed with a non-2xx status code is mapped to
// the error taxonomy like a synchronous error response.
func (s *Session) pollJob(ctx context.Context, jobURI string) ([]byte, error) {
	deadline := time.Now().Add(s.jobTimeout)
	lastStatus := "unknown"

	s.logger.Debug().Str("op", "poll-job").Str("job_uri", jobURI).Msg("waiting for job completion")

	for {
		body, err := s.roundTrip(ctx, http.MethodGet, jobURI, nil, true)
		if err != nil {
			return nil, err
		}
		parsed := gjson.ParseBytes(body)
		lastStatus = parsed.Get("status").String()

		switch lastStatus {
		case jobStatusComplete:
			code := int(parsed.Get("job-status-code").Int())
			if code >= 200 && code < 300 {
				return []byte(parsed.Get("job-results").Raw), nil
			}
			reason := -1
			if r := parsed.Get("job-reason-code"); r.Exists() {
				reason = int(r.Int())
			}
			return nil, httpError(code, reason, parsed.Get("job-results.message").String())
		case jobStatusCanceled:
			return nil, ErrOperationTimeout.Msg("job was canceled on the HMC")
		}

		if time.Now().After(deadline) {
			return nil, &JobTimeoutError{
				JobURI:     jobURI,
				LastStatus: lastStatus,
				Timeout:    s.jobTimeout,
			}
		}
		select {
		case <-ctx.Done():
			return nil, ErrOperationTimeout.Err(ctx.Err())
		case <-time.After(s.jobPollInterval):
		}
	}
}

// WaitForStatus polls the resource's status property until it equals the
// desired value or the timeout elapses. The returned StatusTimeoutError
// carries the last observed status.
func (r *Resource) WaitForStatus(ctx context.Context, desired string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	lastStatus := ""
	for {
		if err := r.PullFullProperties(ctx, true); err != nil {
			return err
		}
		if v, ok := r.Property("status"); ok {
			lastStatus, _ = v.(string)
			if lastStatus == desired {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return &StatusTimeoutError{
				URI:           r.URI(),
				DesiredStatus: desired,
				LastStatus:    lastStatus,
				Timeout:       timeout,
			}
		}
		select {
		case <-ctx.Done():
			return ErrOperationTimeout.Err(ctx.Err())
		case <-time.After(r.manager.client.session.jobPollInterval):
		}
	}
}
