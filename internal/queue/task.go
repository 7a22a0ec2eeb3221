package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a delivery task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusClaimed     Status = "claimed"
	StatusDone        Status = "done"
	StatusQuarantined Status = "quarantined"
)

// Terminal reports whether a task in this status can never run again.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusQuarantined
}

// IssueContent is the rendered newsletter copied onto every task at
// fan-out time. The task set is immutable after creation, so each row
// carries its own copy rather than joining back to the issue.
type IssueContent struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// Task is one delivery attempt stream for one subscriber of one issue.
type Task struct {
	ID           uuid.UUID
	IssueID      uuid.UUID
	Recipient    string
	Subject      string
	HTMLBody     string
	TextBody     string
	Status       Status
	AttemptCount int
	NextEligible time.Time
	LockedBy     string
	LastError    string
}
