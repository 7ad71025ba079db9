// Package provider talks to the external generation provider: task creation,
// status polling, typed failure classification, and the retrying caller every
// remote call goes through.
package provider

import (
	"context"
	"encoding/json"
)

// TaskState is the provider-reported state of a generation task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "success"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether the state is final on the provider side.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Status is a point-in-time snapshot of a remote task.
type Status struct {
	State   TaskState       `json:"state"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"error,omitempty"`
}

// Client is the remote provider surface. Implementations return *Error for
// every failure.
type Client interface {
	CreateTask(ctx context.Context, resourceID string, params json.RawMessage) (taskID string, err error)
	GetStatus(ctx context.Context, taskID string) (*Status, error)
}
