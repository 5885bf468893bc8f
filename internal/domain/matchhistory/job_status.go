package matchhistory

// JobStatus represents the current state of a fetch job. It enables tracking
// of the job lifecycle from dispatch through completion, failure, or the
// empty-history outcome.
type JobStatus string

const (
	// JobStatusRunning indicates a job is actively resolving, enumerating, or
	// fetching match units.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted indicates the job finished and the cache was written.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed indicates the job encountered an unrecoverable error.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusNoMatches indicates the player exists but has no match history.
	JobStatusNoMatches JobStatus = "NO_MATCHES"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the job has reached a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusNoMatches:
		return true
	}
	return false
}

