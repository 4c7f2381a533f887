package model

// Job status as reported by the remote generation service
type JobStatus string

const (
	JobStatusStarting   JobStatus = "starting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

var ValidJobStatuses = []JobStatus{
	JobStatusStarting, JobStatusProcessing, JobStatusSucceeded,
	JobStatusFailed, JobStatusCanceled,
}

// IsTerminal reports whether no further transitions may follow s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// rank orders statuses along starting -> processing -> terminal.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusStarting:
		return 0
	case JobStatusProcessing:
		return 1
	}
	return 2
}

// IsKnown reports whether s is one of the statuses of the remote protocol.
func (s JobStatus) IsKnown() bool {
	for _, v := range ValidJobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Settlement outcome of a tracked generation
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeError     Outcome = "error"
)

