package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"versfm/internal/domain"
	"versfm/internal/executor"
	"versfm/internal/planner"
)

// Engine plans a request and runs the plan. Progress for the current run is
// published on the channel returned by TransferProgress, which is closed
// when the run ends.
type Engine struct {
	mu       sync.RWMutex
	progress chan TransferProgress
	planner  *planner.Planner
	executor *executor.Executor
	logger   *zap.Logger
}

func NewEngine(transferPlanner *planner.Planner, transferExecutor *executor.Executor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{planner: transferPlanner, executor: transferExecutor, logger: logger}
}

func (engine *Engine) TransferProgress() <-chan TransferProgress {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	return engine.progress
}

func (engine *Engine) Execute(ctx context.Context, req planner.Request) (TransferResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}

	progress := make(chan TransferProgress, 64)
	engine.setProgress(progress)
	defer close(progress)

	planned := engine.planner.Plan(ctx, req)
	total := planned.Plan.Len()
	engine.logger.Info("executing plan",
		zap.String("source", req.Source.ProviderID+":"+req.Source.Path),
		zap.String("destination", req.Destination.ProviderID+":"+req.Destination.Path),
		zap.Int("marks", len(req.Marks)),
		zap.Int("tasks", total),
		zap.Int("rejected", len(planned.Rejected)),
	)

	events := make(chan domain.ProgressEvent, 64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		finished := 0
		for event := range events {
			if event.Status.Terminal() {
				finished++
			}
			update := TransferProgress{
				TaskID:   event.TaskID,
				Kind:     event.Kind,
				Path:     event.Path,
				Status:   event.Status,
				Finished: finished,
				Total:    total,
				Bytes:    event.Bytes,
			}
			if event.Err != nil {
				update.ErrMessage = domain.Reason(event.Err)
			}
			transferProgressNonBlocking(progress, update)
		}
	}()

	summary := engine.executor.Run(ctx, planned.Plan, events)
	close(events)
	<-forwarded

	result := TransferResult{
		Summary:  summary,
		Rejected: planned.Rejected,
		Duration: time.Since(start),
	}
	result.Message = resultMessage(result)
	transferProgressNonBlocking(progress, TransferProgress{
		Finished:  summary.Done + summary.Failed + summary.Skipped,
		Total:     total,
		Bytes:     summary.Bytes,
		Completed: true,
	})
	return result, nil
}

func (engine *Engine) setProgress(progress chan TransferProgress) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.progress = progress
}
