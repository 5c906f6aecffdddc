package services

import "versfm/internal/domain"

// TransferProgress is one executor event together with the running totals
// of the plan it belongs to.
type TransferProgress struct {
	TaskID     domain.TaskID
	Kind       domain.TaskKind
	Path       string
	Status     domain.TaskStatus
	Finished   int
	Total      int
	Bytes      int64
	ErrMessage string
	Completed  bool
}

func transferProgressNonBlocking(progress chan<- TransferProgress, update TransferProgress) {
	select {
	case progress <- update:
	default:
	}
}
