package cron

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobFunc is the work of a scheduled job. The returned string is logged.
type JobFunc func(ctx context.Context) (string, error)

type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	Runs       int       `json:"runs"`
}

type Job struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Expr    string   `json:"expr"`
	Enabled bool     `json:"enabled"`
	State   JobState `json:"state"`
	run     JobFunc
}

func NewJob(name, expr string, fn JobFunc) Job {
	return Job{
		ID:      uuid.NewString(),
		Name:    name,
		Expr:    expr,
		Enabled: true,
		run:     fn,
	}
}
