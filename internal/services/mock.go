package services

import (
	"context"
	"time"

	"versfm/internal/domain"
	"versfm/internal/planner"
)

// MockTransfers reports every mark as done after a short delay without
// touching any provider.
type MockTransfers struct {
	Delay time.Duration
}

func NewMockTransfers() *MockTransfers {
	return &MockTransfers{Delay: 450 * time.Millisecond}
}

func (transfers *MockTransfers) Execute(ctx context.Context, req planner.Request) (TransferResult, error) {
	start := time.Now()
	select {
	case <-ctx.Done():
		return TransferResult{}, ctx.Err()
	case <-time.After(transfers.Delay):
	}

	tasks := make([]domain.TransferTask, 0, len(req.Marks))
	for index, mark := range req.Marks {
		tasks = append(tasks, domain.TransferTask{
			ID:             domain.TaskID(index),
			Kind:           domain.TaskCopyBytes,
			SourceProvider: req.Source.ProviderID,
			SourcePath:     mark.Entry.Path,
			Origin:         mark.Entry.Key(),
			Status:         domain.StatusDone,
		})
	}
	result := TransferResult{
		Summary:  domain.Summary{Tasks: tasks, Done: len(tasks), Duration: time.Since(start)},
		Duration: time.Since(start),
	}
	result.Message = resultMessage(result)
	return result, nil
}
