package domain

type OperationKind string

const (
	OpMove   OperationKind = "move"
	OpCopy   OperationKind = "copy"
	OpDelete OperationKind = "delete"
)

func (kind OperationKind) Valid() bool {
	switch kind {
	case OpMove, OpCopy, OpDelete:
		return true
	}
	return false
}

type TaskKind int

const (
	TaskCreateDir TaskKind = iota
	TaskCopyBytes
	TaskDelete
	// TaskMove uses the provider's native rename.
	TaskMove
)

func (kind TaskKind) String() string {
	switch kind {
	case TaskCreateDir:
		return "create_dir"
	case TaskCopyBytes:
		return "copy_bytes"
	case TaskDelete:
		return "delete"
	case TaskMove:
		return "move"
	}
	return "unknown"
}

type TaskStatus int

const (
	StatusPending TaskStatus = iota
	StatusRunning
	StatusDone
	StatusFailed
	StatusSkipped
)

func (status TaskStatus) String() string {
	switch status {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

func (status TaskStatus) Terminal() bool {
	return status == StatusDone || status == StatusFailed || status == StatusSkipped
}
