// Package executor runs transfer plans on a bounded worker pool while
// honoring the dependency edges recorded by the planner.
package executor

import (
	"context"
	"io"
	"sort"
	"time"

	"gitlab.com/tozd/go/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"versfm/internal/domain"
	"versfm/internal/metrics"
	"versfm/internal/provider"
	"versfm/internal/retry"
)

const (
	DefaultConcurrency = 4
	DefaultChunkSize   = 256 << 10
)

type Config struct {
	// Concurrency bounds the number of tasks running at once.
	Concurrency int
	// ProviderLimits bounds concurrent tasks per provider id. Providers
	// without an entry are limited by Concurrency only.
	ProviderLimits map[string]int
	Retry          retry.Config
	// ChunkSize caps a single read from a source stream. Cancellation is
	// checked between reads.
	ChunkSize int
}

func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		Retry:       retry.DefaultConfig(),
		ChunkSize:   DefaultChunkSize,
	}
}

type Executor struct {
	providers provider.Resolver
	cfg       Config
	limits    map[string]*semaphore.Weighted
	logger    *zap.Logger
}

func New(providers provider.Resolver, cfg Config, logger *zap.Logger) *Executor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limits := make(map[string]*semaphore.Weighted, len(cfg.ProviderLimits))
	for id, limit := range cfg.ProviderLimits {
		if limit > 0 {
			limits[id] = semaphore.NewWeighted(int64(limit))
		}
	}
	return &Executor{providers: providers, cfg: cfg, limits: limits, logger: logger}
}

type result struct {
	id    domain.TaskID
	bytes int64
	err   error
}

// Run executes plan and returns once every task is terminal. A failed task
// does not stop its siblings; tasks that depend on it are skipped. When ctx
// ends, no further task starts and the pending ones are skipped.
//
// progress receives events without blocking; events are dropped when the
// channel is full. The returned summary is authoritative.
//
// Run panics when a task names an unknown provider or a dependency that
// does not precede it, since both mean the plan was built wrong.
func (executor *Executor) Run(ctx context.Context, plan domain.Plan, progress chan<- domain.ProgressEvent) domain.Summary {
	start := time.Now()
	tasks := make([]domain.TransferTask, len(plan.Tasks))
	indegree := make([]int, len(plan.Tasks))
	dependents := make([][]domain.TaskID, len(plan.Tasks))
	for index, task := range plan.Tasks {
		if task.ID != domain.TaskID(index) {
			panic(errors.Errorf("task at %d has id %d", index, task.ID))
		}
		for _, dep := range task.DependsOn {
			if dep < 0 || int(dep) >= index {
				panic(errors.Errorf("task %d depends on task %d which does not precede it", index, dep))
			}
			indegree[index]++
			dependents[dep] = append(dependents[dep], task.ID)
		}
		executor.providers.MustGet(task.SourceProvider)
		if task.DestProvider != "" {
			executor.providers.MustGet(task.DestProvider)
		}
		task.DependsOn = append([]domain.TaskID(nil), task.DependsOn...)
		task.Status = domain.StatusPending
		task.Err = nil
		tasks[index] = task
	}

	var ready []domain.TaskID
	for index := range tasks {
		if indegree[index] == 0 {
			ready = append(ready, domain.TaskID(index))
		}
	}

	group := new(errgroup.Group)
	group.SetLimit(executor.cfg.Concurrency)
	results := make(chan result, len(tasks))
	running := 0
	var bytes int64

	for {
		for len(ready) > 0 && ctx.Err() == nil {
			task := tasks[ready[0]]
			task.Status = domain.StatusRunning
			started := group.TryGo(func() error {
				moved, err := executor.runTask(ctx, task)
				results <- result{id: task.ID, bytes: moved, err: err}
				return nil
			})
			if !started {
				break
			}
			ready = ready[1:]
			tasks[task.ID] = task
			running++
			emit(progress, eventFor(task, 0))
		}
		if running == 0 {
			break
		}

		res := <-results
		running--
		task := &tasks[res.id]
		if res.err != nil {
			task.Status = domain.StatusFailed
			task.Err = res.err
			emit(progress, eventFor(*task, res.bytes))
			for _, skipped := range skipDependents(tasks, dependents, res.id) {
				emit(progress, eventFor(tasks[skipped], 0))
			}
			continue
		}

		task.Status = domain.StatusDone
		bytes += res.bytes
		emit(progress, eventFor(*task, res.bytes))
		for _, next := range dependents[res.id] {
			indegree[next]--
			if indegree[next] == 0 && tasks[next].Status == domain.StatusPending {
				ready = append(ready, next)
			}
		}
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		for index := range tasks {
			if tasks[index].Status == domain.StatusPending {
				tasks[index].Status = domain.StatusSkipped
				tasks[index].Err = domain.NewOpError(tasks[index].Kind.String(), taskPath(tasks[index]), domain.ErrSkipped, err)
				emit(progress, eventFor(tasks[index], 0))
			}
		}
	}

	summary := domain.Summary{
		Tasks:    tasks,
		Canceled: ctx.Err() != nil,
		Bytes:    bytes,
		Duration: time.Since(start),
	}
	for _, task := range tasks {
		switch task.Status {
		case domain.StatusDone:
			summary.Done++
			continue
		case domain.StatusFailed:
			summary.Failed++
		case domain.StatusSkipped:
			summary.Skipped++
		}
		summary.Failures = append(summary.Failures, domain.Failure{
			TaskID: task.ID,
			Origin: task.Origin,
			Path:   taskPath(task),
			Err:    task.Err,
		})
	}

	executor.logger.Info("plan finished",
		zap.Int("tasks", len(tasks)),
		zap.Int("done", summary.Done),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Bool("canceled", summary.Canceled),
		zap.Int64("bytes", summary.Bytes),
		zap.Duration("duration", summary.Duration),
	)
	return summary
}

// skipDependents marks every pending task reachable from failed as skipped
// and returns their ids.
func skipDependents(tasks []domain.TransferTask, dependents [][]domain.TaskID, failed domain.TaskID) []domain.TaskID {
	var skipped []domain.TaskID
	stack := append([]domain.TaskID(nil), dependents[failed]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if tasks[id].Status != domain.StatusPending {
			continue
		}
		tasks[id].Status = domain.StatusSkipped
		tasks[id].Err = domain.NewOpError(
			tasks[id].Kind.String(), taskPath(tasks[id]), domain.ErrSkipped,
			errors.Errorf("dependency %d did not complete", failed),
		)
		skipped = append(skipped, id)
		stack = append(stack, dependents[id]...)
	}
	return skipped
}

func (executor *Executor) runTask(ctx context.Context, task domain.TransferTask) (moved int64, err error) {
	start := time.Now()
	logger := executor.logger.With(
		zap.Int("task", int(task.ID)),
		zap.String("kind", task.Kind.String()),
		zap.String("source", task.SourceProvider+":"+task.SourcePath),
	)
	defer func() {
		status := domain.StatusDone
		if err != nil {
			status = domain.StatusFailed
			logger.Warn("task failed", zap.Error(err))
		} else {
			metrics.AddBytes(moved)
			logger.Debug("task done", zap.Int64("bytes", moved), zap.Duration("duration", time.Since(start)))
		}
		metrics.RecordTask(task.Kind.String(), status.String(), time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	release, err := executor.acquire(ctx, task)
	if err != nil {
		return 0, err
	}
	defer release()

	if task.Kind == domain.TaskMove {
		// A move retries each of its steps, since a whole retry would find
		// its own partial destination in the way.
		return executor.move(ctx, logger, task)
	}
	err = executor.withRetry(ctx, task.Kind, logger, func() error {
		var attemptErr error
		moved, attemptErr = executor.attempt(ctx, task)
		return attemptErr
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func (executor *Executor) withRetry(ctx context.Context, kind domain.TaskKind, logger *zap.Logger, fn func() error) error {
	return retry.Do(ctx, executor.cfg.Retry, func(attempt int) error {
		if attempt > 1 {
			metrics.RecordRetry(kind.String())
			logger.Info("retrying task", zap.Int("attempt", attempt))
		}
		return fn()
	})
}

// acquire takes the per-provider slots the task needs in id order.
func (executor *Executor) acquire(ctx context.Context, task domain.TransferTask) (func(), error) {
	ids := []string{task.SourceProvider}
	if task.DestProvider != "" && task.DestProvider != task.SourceProvider {
		ids = append(ids, task.DestProvider)
	}
	sort.Strings(ids)

	var held []*semaphore.Weighted
	release := func() {
		for index := len(held) - 1; index >= 0; index-- {
			held[index].Release(1)
		}
	}
	for _, id := range ids {
		limit, ok := executor.limits[id]
		if !ok {
			continue
		}
		if err := limit.Acquire(ctx, 1); err != nil {
			release()
			return nil, err
		}
		held = append(held, limit)
	}
	return release, nil
}

func (executor *Executor) attempt(ctx context.Context, task domain.TransferTask) (int64, error) {
	source := executor.providers.MustGet(task.SourceProvider)
	switch task.Kind {
	case domain.TaskCreateDir:
		return 0, executor.providers.MustGet(task.DestProvider).Mkdir(ctx, task.DestPath)
	case domain.TaskCopyBytes:
		return executor.copyFile(ctx, source, executor.providers.MustGet(task.DestProvider), task.SourcePath, task.DestPath)
	case domain.TaskDelete:
		return 0, source.Remove(ctx, domain.Entry{
			Path:       task.SourcePath,
			Name:       domain.BaseName(task.SourcePath),
			Kind:       task.SourceKind,
			ProviderID: task.SourceProvider,
		})
	default:
		return 0, errors.Errorf("task %d has kind %s: %w", task.ID, task.Kind, domain.ErrUnsupported)
	}
}

func (executor *Executor) copyFile(ctx context.Context, source, destination provider.Provider, from, to string) (int64, error) {
	if _, err := destination.Stat(ctx, to); err == nil {
		return 0, domain.NewOpError("copy", to, domain.ErrAlreadyExists, nil)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}

	reader, err := source.Read(ctx, from)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	counted := &contextReader{ctx: ctx, reader: reader, chunk: executor.cfg.ChunkSize}
	if _, err := destination.Write(ctx, to, counted); err != nil {
		return counted.n, err
	}
	return counted.n, nil
}

// move renames natively when the provider can. Otherwise, or when the
// backend refuses the particular rename, it copies the subtree and removes
// the source children first.
func (executor *Executor) move(ctx context.Context, logger *zap.Logger, task domain.TransferTask) (int64, error) {
	source := executor.providers.MustGet(task.SourceProvider)
	destination := executor.providers.MustGet(task.DestProvider)
	step := func(fn func() error) error {
		return executor.withRetry(ctx, task.Kind, logger, fn)
	}

	if source.ID() == destination.ID() {
		if mover, ok := provider.NativeMover(source); ok {
			var entry domain.Entry
			err := step(func() error {
				var moveErr error
				entry, moveErr = mover.NativeMove(ctx, task.SourcePath, task.DestPath)
				return moveErr
			})
			if err == nil {
				return entry.Size, nil
			}
			if !errors.Is(err, domain.ErrUnsupported) {
				return 0, err
			}
			logger.Info("native move unsupported, copying instead",
				zap.String("from", task.SourcePath), zap.String("to", task.DestPath), zap.Error(err))
		}
	}

	var root domain.Entry
	err := step(func() error {
		var statErr error
		root, statErr = source.Stat(ctx, task.SourcePath)
		return statErr
	})
	if err != nil {
		return 0, err
	}
	err = step(func() error {
		_, statErr := destination.Stat(ctx, task.DestPath)
		switch {
		case statErr == nil:
			return domain.NewOpError("move", task.DestPath, domain.ErrAlreadyExists, nil)
		case errors.Is(statErr, domain.ErrNotFound):
			return nil
		}
		return statErr
	})
	if err != nil {
		return 0, err
	}

	type item struct {
		entry domain.Entry
		to    string
	}
	var ordered []item
	var created []domain.Entry
	var moved int64
	fail := func(err error) (int64, error) {
		executor.discard(ctx, logger, destination, created)
		return moved, err
	}
	stack := []item{{entry: root, to: task.DestPath}}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ordered = append(ordered, current)
		target := domain.Entry{
			Path:       current.to,
			Name:       domain.BaseName(current.to),
			Kind:       current.entry.Kind,
			ProviderID: destination.ID(),
		}

		if !current.entry.IsDir() {
			var n int64
			err := step(func() error {
				var copyErr error
				n, copyErr = executor.copyFile(ctx, source, destination, current.entry.Path, current.to)
				return copyErr
			})
			if err != nil {
				return fail(err)
			}
			moved += n
			created = append(created, target)
			continue
		}
		if err := step(func() error { return destination.Mkdir(ctx, current.to) }); err != nil {
			return fail(err)
		}
		created = append(created, target)
		var children []domain.Entry
		err := step(func() error {
			var listErr error
			children, listErr = source.List(ctx, current.entry.Path)
			return listErr
		})
		if err != nil {
			return fail(err)
		}
		for index := len(children) - 1; index >= 0; index-- {
			child := children[index]
			stack = append(stack, item{entry: child, to: domain.JoinPath(current.to, child.Name)})
		}
	}

	// The destination is complete from here on, so a failed removal keeps it.
	for index := len(ordered) - 1; index >= 0; index-- {
		entry := ordered[index].entry
		if err := step(func() error { return source.Remove(ctx, entry) }); err != nil {
			return moved, err
		}
	}
	return moved, nil
}

// discard removes, deepest first, what a failed move copied so far. The
// source is still intact at that point.
func (executor *Executor) discard(ctx context.Context, logger *zap.Logger, destination provider.Provider, created []domain.Entry) {
	ctx = context.WithoutCancel(ctx)
	for index := len(created) - 1; index >= 0; index-- {
		if err := destination.Remove(ctx, created[index]); err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("cannot discard partial move", zap.String("path", created[index].Path), zap.Error(err))
		}
	}
}

// contextReader fails reads once ctx ends and counts the bytes it passes.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
	chunk  int
	n      int64
}

func (reader *contextReader) Read(p []byte) (int, error) {
	if err := reader.ctx.Err(); err != nil {
		return 0, err
	}
	if reader.chunk > 0 && len(p) > reader.chunk {
		p = p[:reader.chunk]
	}
	n, err := reader.reader.Read(p)
	reader.n += int64(n)
	return n, err
}

func taskPath(task domain.TransferTask) string {
	if task.DestPath != "" {
		return task.DestPath
	}
	return task.SourcePath
}

func eventFor(task domain.TransferTask, bytes int64) domain.ProgressEvent {
	return domain.ProgressEvent{
		TaskID: task.ID,
		Kind:   task.Kind,
		Path:   taskPath(task),
		Status: task.Status,
		Bytes:  bytes,
		Err:    task.Err,
	}
}

func emit(progress chan<- domain.ProgressEvent, event domain.ProgressEvent) {
	if progress == nil {
		return
	}
	select {
	case progress <- event:
	default:
	}
}
