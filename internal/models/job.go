package models

import (
	"time"
)

// JobType identifies what created a job.
type JobType string

const (
	JobTypeSingle JobType = "single"
	JobTypeImport JobType = "bulk_import"
	JobTypeRetry  JobType = "retry"
)

// JobStatus is the aggregate state of a job.
type JobStatus string

const (
	JobPending             JobStatus = "pending"
	JobInProgress          JobStatus = "in_progress"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed"
)

// IsTerminal reports whether every item of the job has finished.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed:
		return true
	default:
		return false
	}
}

// Job groups bookmarks enqueued together.
type Job struct {
	ID             string     `json:"id"`
	Type           JobType    `json:"type"`
	Status         JobStatus  `json:"status"`
	TotalItems     int        `json:"totalItems"`
	CompletedItems int        `json:"completedItems"`
	FailedItems    int        `json:"failedItems"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Progress returns finished and total item counts.
func (j *Job) Progress() (done, total int) {
	return j.CompletedItems + j.FailedItems, j.TotalItems
}

// JobItemStatus mirrors one bookmark inside a job.
type JobItemStatus string

const (
	JobItemPending    JobItemStatus = "pending"
	JobItemInProgress JobItemStatus = "in_progress"
	JobItemComplete   JobItemStatus = "complete"
	JobItemError      JobItemStatus = "error"
)

// IsTerminal reports whether the item is finished.
func (s JobItemStatus) IsTerminal() bool {
	return s == JobItemComplete || s == JobItemError
}

// JobItemStatusFor maps a bookmark status onto its job item status.
func JobItemStatusFor(s BookmarkStatus) JobItemStatus {
	switch s {
	case StatusComplete:
		return JobItemComplete
	case StatusError:
		return JobItemError
	case StatusFetching, StatusDownloaded, StatusProcessing:
		return JobItemInProgress
	default:
		return JobItemPending
	}
}

// JobItem tracks one bookmark of a job.
type JobItem struct {
	ID           string        `json:"id"`
	JobID        string        `json:"jobId"`
	BookmarkID   string        `json:"bookmarkId"`
	Status       JobItemStatus `json:"status"`
	RetryCount   int           `json:"retryCount"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// JobItemUpdate is a partial job item update.
type JobItemUpdate struct {
	Status       *JobItemStatus
	RetryCount   *int
	ErrorMessage *string
}

// Apply writes the update into item.
func (u JobItemUpdate) Apply(item *JobItem, now time.Time) {
	if u.Status != nil {
		item.Status = *u.Status
	}
	if u.RetryCount != nil {
		item.RetryCount = *u.RetryCount
	}
	if u.ErrorMessage != nil {
		item.ErrorMessage = *u.ErrorMessage
	}
	item.UpdatedAt = now
}

// Aggregate recomputes job counters and status from its items.
func (j *Job) Aggregate(items []JobItem, now time.Time) {
	j.TotalItems = len(items)
	j.CompletedItems = 0
	j.FailedItems = 0
	started := false

	for _, it := range items {
		switch it.Status {
		case JobItemComplete:
			j.CompletedItems++
		case JobItemError:
			j.FailedItems++
		case JobItemInProgress:
			started = true
		}
	}

	j.Status = DeriveJobStatus(j.TotalItems, j.CompletedItems, j.FailedItems, started)
	j.UpdatedAt = now
	if j.Status.IsTerminal() {
		if j.CompletedAt == nil {
			j.CompletedAt = &now
		}
	} else {
		j.CompletedAt = nil
	}
}

// DeriveJobStatus computes the job status from item counters.
func DeriveJobStatus(total, completed, failed int, started bool) JobStatus {
	done := completed + failed
	switch {
	case total == 0:
		return JobCompleted
	case done < total:
		if done == 0 && !started {
			return JobPending
		}
		return JobInProgress
	case failed == 0:
		return JobCompleted
	case completed == 0:
		return JobFailed
	default:
		return JobCompletedWithErrors
	}
}
