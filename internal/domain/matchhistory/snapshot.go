package matchhistory

// JobSnapshot is a point-in-time view of a job, readable without blocking or
// mutating the job itself. Consumers must switch on Status and handle every
// variant; Processed/Total are meaningful only while running, Err only when
// failed.
type JobSnapshot struct {
	Status    JobStatus
	Processed int
	Total     int
	Err       string
}

// RunningSnapshot reports in-flight progress.
func RunningSnapshot(processed, total int) JobSnapshot {
	return JobSnapshot{Status: JobStatusRunning, Processed: processed, Total: total}
}

// CompletedSnapshot reports a finished job.
func CompletedSnapshot() JobSnapshot {
	return JobSnapshot{Status: JobStatusCompleted}
}

// FailedSnapshot reports a failed job with a user-safe error string.
func FailedSnapshot(errMsg string) JobSnapshot {
	return JobSnapshot{Status: JobStatusFailed, Err: errMsg}
}

// NoMatchesSnapshot reports a job that found no history for the player.
func NoMatchesSnapshot() JobSnapshot {
	return JobSnapshot{Status: JobStatusNoMatches}
}

// AggregationState is the fan-in progress counter shared by all units of one
// job. Processed is monotonically non-decreasing and only ever advanced via
// the store's atomic increment; it never exceeds Total in a correctly
// functioning system.
type AggregationState struct {
	Total     int
	Processed int
	PlayerID  string
}

// Done reports whether every unit has been accounted for.
func (a AggregationState) Done() bool { return a.Total > 0 && a.Processed >= a.Total }
