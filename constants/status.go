package constants

// JobStatus is the canonical status for rows in extraction_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"    // created, waiting for a worker
	JobStatusProcessing JobStatus = "processing" // pass 1 extraction in progress
	JobStatusValidating JobStatus = "validating" // checking a pass's results
	JobStatusRepairing  JobStatus = "repairing"  // re-extracting invalid fields
	JobStatusCompleted  JobStatus = "completed"  // terminal success (best-effort)
	JobStatusFailed     JobStatus = "failed"     // terminal failure
)

// Terminal reports whether the status admits no further transitions
// except the explicit Retry operation.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobStatuses lists every valid status, for request validation.
var JobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusValidating,
	JobStatusRepairing,
	JobStatusCompleted,
	JobStatusFailed,
}

// IsValidStatus reports whether s is one of the canonical statuses.
func IsValidStatus(s string) bool {
	for _, v := range JobStatuses {
		if string(v) == s {
			return true
		}
	}
	return false
}

// ValidationAction is the canonical action for rows in validation_records.
type ValidationAction string

const (
	ActionValidate ValidationAction = "validate"
	ActionRepair   ValidationAction = "repair"
	ActionRetry    ValidationAction = "retry"
)
