package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PlaceholderPrefix marks ids issued locally before the remote service answers.
const PlaceholderPrefix = "local-"

var (
	ErrTerminalTransition = errors.New("job already in terminal state")
	ErrUnknownStatus      = errors.New("unknown job status")
	ErrInvalidRemoteID    = errors.New("invalid remote job id")
	ErrRemoteIDAssigned   = errors.New("remote job id already assigned")
	ErrStatusRegression   = errors.New("job status moved backwards")
)

// Job is one remote asynchronous computation as observed by the client.
// Output is only set when Status is succeeded, Error only when it is failed.
type Job struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
	Output []string  `json:"output,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// NewPlaceholderJob creates a job carrying a fresh local id, to be replaced
// by the remote id once the submission returns.
func NewPlaceholderJob() *Job {
	return &Job{
		ID:     NewPlaceholderID(),
		Status: JobStatusStarting,
	}
}

// NewPlaceholderID returns a local id that is never reused.
func NewPlaceholderID() string {
	return PlaceholderPrefix + uuid.New().String()
}

// IsPlaceholderID reports whether id was issued locally.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// IsPlaceholder reports whether the job still carries its local id.
func (j *Job) IsPlaceholder() bool {
	return IsPlaceholderID(j.ID)
}

// IsTerminal reports whether the job reached succeeded, failed or canceled.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// AssignRemoteID swaps the placeholder id for the authoritative remote one.
func (j *Job) AssignRemoteID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || IsPlaceholderID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidRemoteID, id)
	}
	if !j.IsPlaceholder() {
		return fmt.Errorf("%w: %s", ErrRemoteIDAssigned, j.ID)
	}
	j.ID = id
	return nil
}

// Observe applies a status observation. Observations arriving after a
// terminal state, moving back to an earlier status, or carrying a status
// outside the protocol are rejected and leave the job untouched.
func (j *Job) Observe(next *Job) error {
	if j.IsTerminal() {
		if next.Status != j.Status {
			return fmt.Errorf("%w: %s -> %s", ErrTerminalTransition, j.Status, next.Status)
		}
		return nil
	}
	if !next.Status.IsKnown() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, next.Status)
	}
	if next.Status.rank() < j.Status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, j.Status, next.Status)
	}

	j.Status = next.Status
	j.Output = nil
	j.Error = ""
	switch next.Status {
	case JobStatusSucceeded:
		j.Output = append([]string(nil), next.Output...)
	case JobStatusFailed:
		j.Error = next.Error
	}
	return nil
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	c.Output = append([]string(nil), j.Output...)
	return &c
}
