package domain

import (
	"context"
	"time"
)

// JobsTopic is the broker topic every job event is published on. The routing
// key is the job id.
const JobsTopic = "primes.jobs"

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}

// Job is a snapshot of one prime generation invocation.
type Job struct {
	ID         string        `json:"id"`
	Bound      int           `json:"bound"`
	ChunkSize  int           `json:"chunk_size"`
	Status     JobStatus     `json:"status"`
	Progress   ChunkProgress `json:"progress"`
	Count      int           `json:"count"`
	Digest     string        `json:"digest,omitempty"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Primes     []int         `json:"primes,omitempty"`
}

// JobRecord is the archived form of a finished job. Prime sequences are not
// archived, only their count and digest.
type JobRecord struct {
	ID         string
	Bound      int
	ChunkSize  int
	Status     JobStatus
	Count      int
	Digest     string
	Error      string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// JobStore archives finished jobs.
type JobStore interface {
	Save(ctx context.Context, rec JobRecord) error
	Get(ctx context.Context, id string) (JobRecord, error)
	// List returns the most recently finished records first.
	List(ctx context.Context, limit int) ([]JobRecord, error)
	Close() error
}

type JobEventType string

const (
	EventStarted   JobEventType = "started"
	EventProgress  JobEventType = "progress"
	EventCompleted JobEventType = "completed"
	EventCancelled JobEventType = "cancelled"
	EventFailed    JobEventType = "failed"
)

// JobEvent is the payload published on JobsTopic.
type JobEvent struct {
	Type      JobEventType   `json:"type"`
	JobID     string         `json:"job_id"`
	Bound     int            `json:"bound"`
	Progress  *ChunkProgress `json:"progress,omitempty"`
	Count     int            `json:"count,omitempty"`
	Digest    string         `json:"digest,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
