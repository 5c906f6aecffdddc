package services

import (
	"context"

	"gitlab.com/tozd/go/errors"
	"go.uber.org/zap"

	"versfm/internal/domain"
	"versfm/internal/state"
)

// Session is the control path. It is the only writer of the state and is
// not safe for concurrent use; a Job may run on another goroutine while the
// session waits for its result.
type Session struct {
	state     *state.State
	transfers Transfers
	logger    *zap.Logger
}

func NewSession(appState *state.State, transfers Transfers, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{state: appState, transfers: transfers, logger: logger}
}

func (session *Session) State() *state.State {
	return session.state
}

func (session *Session) Dispatch(ctx context.Context, action Action) error {
	appState := session.state
	switch action.Kind {
	case ActionCursorUp:
		return appState.MoveCursor(-1)
	case ActionCursorDown:
		return appState.MoveCursor(1)
	case ActionEnterDir:
		return appState.EnterDir(ctx)
	case ActionLeaveDir:
		return appState.LeaveDir(ctx)
	case ActionSwitchPane:
		return appState.SwitchPane()
	case ActionFocusLeft:
		return appState.Focus(state.SideLeft)
	case ActionFocusRight:
		return appState.Focus(state.SideRight)
	case ActionRefresh:
		return appState.Refresh(ctx)
	case ActionMark:
		return appState.ToggleMark(action.Mark)
	case ActionToggleHidden:
		appState.ToggleShowHidden()
		return nil
	case ActionDismissErrors:
		appState.DismissErrors()
		return nil
	case ActionExit:
		return appState.Exit()
	}
	return errors.Errorf("action %d: %w", action.Kind, domain.ErrUnsupported)
}

// BeginCommit moves the state to executing and returns the job to run.
func (session *Session) BeginCommit() (*Job, error) {
	req, err := session.state.BeginCommit()
	if err != nil {
		return nil, err
	}
	session.logger.Debug("commit started", zap.Int("marks", len(req.Marks)))
	return &Job{Request: req, transfers: session.transfers}, nil
}

// Run plans and executes the job. When the engine fails before running
// anything, every mark is reported as rejected so that Finish keeps it.
func (job *Job) Run(ctx context.Context) TransferResult {
	result, err := job.transfers.Execute(ctx, job.Request)
	if err == nil {
		return result
	}
	result = TransferResult{Message: "transfer failed: " + domain.Reason(err)}
	for _, mark := range job.Request.Marks {
		result.Rejected = append(result.Rejected, domain.Failure{
			TaskID: -1,
			Origin: mark.Entry.Key(),
			Path:   mark.Entry.Path,
			Err:    err,
		})
	}
	return result
}

// Finish returns the state to browsing with the outcome of a job.
func (session *Session) Finish(ctx context.Context, result TransferResult) error {
	if err := session.state.Complete(ctx, result.Summary, result.Rejected); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.Int("done", result.Summary.Done),
		zap.Int("failed", result.Summary.Failed),
		zap.Int("skipped", result.Summary.Skipped),
		zap.Int("rejected", len(result.Rejected)),
		zap.Duration("duration", result.Duration),
	}
	if err := result.Err(); err != nil {
		session.logger.Warn("commit finished with failures", append(fields, zap.Error(err))...)
		return nil
	}
	session.logger.Info("commit finished", fields...)
	return nil
}

// Commit runs a whole commit on the calling goroutine.
func (session *Session) Commit(ctx context.Context) (TransferResult, error) {
	job, err := session.BeginCommit()
	if err != nil {
		return TransferResult{}, err
	}
	result := job.Run(ctx)
	if err := session.Finish(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}
