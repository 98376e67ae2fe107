package domain

import "time"

// LogRecordIDKey is the job-data field the recorder writes the durable log
// id into after the first persisted attempt. It joins the transient queue
// job to its NotificationLog across retries.
const LogRecordIDKey = "logRecordId"

// NotificationLog is the durable record of one logical job, created on the
// first observed attempt and updated in place on every later one.
//
// AttemptsMade is monotonically non-decreasing for a given record; an
// update carrying a lower count is an out-of-order event and is skipped.
type NotificationLog struct {
	ID           string
	JobName      string
	State        JobState
	AttemptsMade int
	JobData      map[string]any
	AddedAt      time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NotificationAttempt is one append-only row per terminal processing
// attempt of a log's job. Exactly one of Result and Error is set.
type NotificationAttempt struct {
	ID            string
	LogID         string
	AttemptNumber int
	ProcessedAt   *time.Time
	Result        *string
	Error         *string
	CreatedAt     time.Time
}
