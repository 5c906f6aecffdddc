// Package planner turns marks into an ordered transfer plan with explicit
// dependency edges between tasks.
package planner

import (
	"context"

	"gitlab.com/tozd/go/errors"
	"go.uber.org/zap"

	"versfm/internal/domain"
	"versfm/internal/provider"
)

// PaneRef names a directory on a provider.
type PaneRef struct {
	ProviderID string
	Path       string
}

type Mark struct {
	Entry domain.Entry
	Kind  domain.OperationKind
}

// Request is everything one commit needs: marks from the source pane, in
// listing order, and the other pane's directory as destination.
type Request struct {
	Source      PaneRef
	Destination PaneRef
	Marks       []Mark
}

type Result struct {
	Plan domain.Plan
	// Rejected holds marks that could not be planned. They produce no tasks.
	Rejected []domain.Failure
}

type Planner struct {
	providers provider.Resolver
	logger    *zap.Logger
}

func New(providers provider.Resolver, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{providers: providers, logger: logger}
}

// Plan expands every mark. Directories are enumerated depth first through
// the source provider; a listing failure rejects that mark only.
func (planner *Planner) Plan(ctx context.Context, req Request) Result {
	source := planner.providers.MustGet(req.Source.ProviderID)
	var destination provider.Provider
	if req.Destination.ProviderID != "" {
		destination = planner.providers.MustGet(req.Destination.ProviderID)
	}

	builder := &planBuilder{}
	var rejected []domain.Failure
	for _, mark := range req.Marks {
		if err := planner.planMark(ctx, builder, source, destination, req, mark); err != nil {
			planner.logger.Warn("mark rejected", zap.String("path", mark.Entry.Path), zap.String("kind", string(mark.Kind)), zap.Error(err))
			rejected = append(rejected, domain.Failure{TaskID: -1, Origin: mark.Entry.Key(), Path: mark.Entry.Path, Err: err})
		}
	}

	planner.logger.Debug("plan built",
		zap.Int("marks", len(req.Marks)),
		zap.Int("tasks", len(builder.tasks)),
		zap.Int("rejected", len(rejected)),
	)
	return Result{Plan: domain.Plan{Tasks: builder.tasks}, Rejected: rejected}
}

func (planner *Planner) planMark(ctx context.Context, builder *planBuilder, source, destination provider.Provider, req Request, mark Mark) error {
	if !mark.Kind.Valid() {
		return errors.Errorf("mark %s has unknown kind %q: %w", mark.Entry.Path, mark.Kind, domain.ErrUnsupported)
	}
	if mark.Kind == domain.OpDelete {
		nodes, err := walk(ctx, source, mark.Entry)
		if err != nil {
			return err
		}
		builder.deletes(source.ID(), mark.Entry.Key(), nodes, nil)
		return nil
	}

	if destination == nil {
		return errors.Errorf("%s %s: no destination pane: %w", mark.Kind, mark.Entry.Path, domain.ErrConfiguration)
	}
	destPath := domain.JoinPath(req.Destination.Path, mark.Entry.Name)
	sameProvider := source.ID() == destination.ID()
	if sameProvider && mark.Entry.IsDir() && domain.IsWithin(mark.Entry.Path, destPath) {
		return errors.Errorf("%s %s into %s: destination is inside the source: %w", mark.Kind, mark.Entry.Path, destPath, domain.ErrConflict)
	}

	if mark.Kind == domain.OpMove && sameProvider {
		if _, ok := provider.NativeMover(source); ok {
			builder.add(domain.TransferTask{
				Kind:           domain.TaskMove,
				SourceProvider: source.ID(),
				SourcePath:     mark.Entry.Path,
				SourceKind:     mark.Entry.Kind,
				DestProvider:   destination.ID(),
				DestPath:       destPath,
				Size:           mark.Entry.Size,
				Origin:         mark.Entry.Key(),
			})
			return nil
		}
	}

	nodes, err := walk(ctx, source, mark.Entry)
	if err != nil {
		return err
	}
	copies := builder.copies(source.ID(), destination.ID(), destPath, mark.Entry.Key(), nodes)
	if mark.Kind == domain.OpMove {
		builder.deletes(source.ID(), mark.Entry.Key(), nodes, copies)
	}
	return nil
}

// node is one entry of an enumerated subtree. parent indexes into the same
// slice and is -1 for the marked entry.
type node struct {
	entry  domain.Entry
	rel    string
	parent int
}

// walk enumerates the subtree under root in pre-order using an explicit
// stack. Children keep the provider's listing order.
func walk(ctx context.Context, source provider.Provider, root domain.Entry) ([]node, error) {
	nodes := []node{{entry: root, parent: -1}}
	if !root.IsDir() {
		return nodes, nil
	}

	ordered := make([]node, 0, 8)
	stack := []node{nodes[0]}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		index := len(ordered)
		ordered = append(ordered, current)

		if !current.entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		children, err := source.List(ctx, current.entry.Path)
		if err != nil {
			return nil, errors.Errorf("enumerate %s: %w", current.entry.Path, err)
		}
		for i := len(children) - 1; i >= 0; i-- {
			child := children[i]
			stack = append(stack, node{
				entry:  child,
				rel:    joinRel(current.rel, child.Name),
				parent: index,
			})
		}
	}
	return ordered, nil
}

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

type planBuilder struct {
	tasks []domain.TransferTask
}

func (builder *planBuilder) add(task domain.TransferTask) domain.TaskID {
	task.ID = domain.TaskID(len(builder.tasks))
	task.Status = domain.StatusPending
	builder.tasks = append(builder.tasks, task)
	return task.ID
}

// copies emits CreateDir and CopyBytes tasks in pre-order. Every task
// depends on the CreateDir of its parent directory. It returns the task id
// for each node.
func (builder *planBuilder) copies(sourceID, destID, destRoot, origin string, nodes []node) []domain.TaskID {
	ids := make([]domain.TaskID, len(nodes))
	for index, current := range nodes {
		task := domain.TransferTask{
			Kind:           domain.TaskCopyBytes,
			SourceProvider: sourceID,
			SourcePath:     current.entry.Path,
			SourceKind:     current.entry.Kind,
			DestProvider:   destID,
			DestPath:       domain.JoinPath(destRoot, current.rel),
			Size:           current.entry.Size,
			Origin:         origin,
		}
		if current.entry.IsDir() {
			task.Kind = domain.TaskCreateDir
		}
		if current.parent >= 0 {
			task.DependsOn = []domain.TaskID{ids[current.parent]}
		}
		ids[index] = builder.add(task)
	}
	return ids
}

// deletes emits Delete tasks in reverse pre-order, so every child precedes
// its parent. A directory delete depends on the deletes of its children.
// When copiedBy is set, each delete also depends on the copy of the same
// node.
func (builder *planBuilder) deletes(sourceID, origin string, nodes []node, copiedBy []domain.TaskID) {
	ids := make([]domain.TaskID, len(nodes))
	children := make([][]domain.TaskID, len(nodes))
	for index := len(nodes) - 1; index >= 0; index-- {
		current := nodes[index]
		var deps []domain.TaskID
		if copiedBy != nil {
			deps = append(deps, copiedBy[index])
		}
		deps = append(deps, children[index]...)

		ids[index] = builder.add(domain.TransferTask{
			Kind:           domain.TaskDelete,
			SourceProvider: sourceID,
			SourcePath:     current.entry.Path,
			SourceKind:     current.entry.Kind,
			Size:           current.entry.Size,
			DependsOn:      deps,
			Origin:         origin,
		})
		if current.parent >= 0 {
			children[current.parent] = append(children[current.parent], ids[index])
		}
	}
}
