package domain

import (
	"time"

	"gitlab.com/tozd/go/errors"
)

// TaskID is the index of a task within its plan.
type TaskID int

type TransferTask struct {
	ID             TaskID
	Kind           TaskKind
	SourceProvider string
	SourcePath     string
	SourceKind     EntryKind
	// DestProvider and DestPath are empty for delete tasks.
	DestProvider string
	DestPath     string
	Size         int64
	// DependsOn lists tasks that must reach StatusDone before this one starts.
	DependsOn []TaskID
	// Origin is the Key of the marked entry this task was expanded from.
	Origin string
	Status TaskStatus
	Err    error
}

type Plan struct {
	Tasks []TransferTask
}

func (plan Plan) Len() int {
	return len(plan.Tasks)
}

func (plan Plan) Count(kind TaskKind) int {
	count := 0
	for _, task := range plan.Tasks {
		if task.Kind == kind {
			count++
		}
	}
	return count
}

type Failure struct {
	TaskID TaskID
	Origin string
	Path   string
	Err    error
}

type Summary struct {
	Tasks    []TransferTask
	Done     int
	Failed   int
	Skipped  int
	Failures []Failure
	Canceled bool
	Bytes    int64
	Duration time.Duration
}

func (summary Summary) Err() error {
	if summary.Failed == 0 && summary.Skipped == 0 {
		return nil
	}
	return errors.Errorf(
		"%d of %d tasks did not complete (%d failed, %d skipped): %w",
		summary.Failed+summary.Skipped, len(summary.Tasks), summary.Failed, summary.Skipped, ErrPartialTransfer,
	)
}

// ByOrigin groups task indexes by the marked entry they came from.
func (summary Summary) ByOrigin() map[string][]int {
	grouped := make(map[string][]int)
	for index, task := range summary.Tasks {
		grouped[task.Origin] = append(grouped[task.Origin], index)
	}
	return grouped
}

type ProgressEvent struct {
	TaskID TaskID
	Kind   TaskKind
	Path   string
	Status TaskStatus
	Bytes  int64
	Err    error
}
