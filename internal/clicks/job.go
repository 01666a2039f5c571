// Package clicks moves click events from the redirect path to storage. The
// resolver hands a Job to a Queue and never waits on it; an Ingestor later
// writes the click row and bumps the link counter.
package clicks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedJob = errors.New("malformed click job")

// Job is plain data on purpose: it outlives the request that produced it.
type Job struct {
	LinkID    int64     `json:"link_id"`
	ShortCode string    `json:"short_code"`
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`
}

// Queue accepts jobs without blocking the caller. Implementations drop and
// count jobs they cannot accept.
type Queue interface {
	Enqueue(job Job)
}

func encodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

func decodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrMalformedJob, err)
	}
	if job.LinkID == 0 {
		return Job{}, fmt.Errorf("%w: missing link id", ErrMalformedJob)
	}
	return job, nil
}
