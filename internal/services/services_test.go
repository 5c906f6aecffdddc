package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versfm/internal/domain"
	"versfm/internal/executor"
	"versfm/internal/planner"
	"versfm/internal/provider"
	"versfm/internal/provider/local"
	"versfm/internal/provider/s3"
	"versfm/internal/provider/s3/s3test"
	"versfm/internal/retry"
	"versfm/internal/state"
)

type fixture struct {
	session *Session
	engine  *Engine
	home    *local.Provider
	bucket  *s3.Provider
	client  *s3test.Client
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	home := local.NewMemory("home", nil)
	require.NoError(t, home.Mkdir(ctx, "/home/user/sub"))
	for entryPath, content := range map[string]string{
		"/home/user/a.txt":     "0123456789",
		"/home/user/sub/b.txt": "12345",
	} {
		_, err := home.Write(ctx, entryPath, strings.NewReader(content))
		require.NoError(t, err)
	}
	client := s3test.NewClient()
	bucket := s3.New("backup", client, s3.Settings{Bucket: "backup"}, nil)
	set, err := provider.NewSet(home, bucket)
	require.NoError(t, err)

	cfg := executor.DefaultConfig()
	cfg.Retry = retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
	engine := NewEngine(planner.New(set, nil), executor.New(set, cfg, nil), nil)

	appState := state.New(set,
		planner.PaneRef{ProviderID: "home", Path: "/home/user"},
		planner.PaneRef{ProviderID: "backup", Path: "/"},
		state.Preferences{},
	)
	appState.Load(ctx)
	return fixture{
		session: NewSession(appState, engine, nil),
		engine:  engine,
		home:    home,
		bucket:  bucket,
		client:  client,
	}
}

func (f fixture) dispatch(t *testing.T, actions ...Action) {
	t.Helper()
	for _, action := range actions {
		require.NoError(t, f.session.Dispatch(context.Background(), action))
	}
}

func mark(kind domain.OperationKind) Action {
	return Action{Kind: ActionMark, Mark: kind}
}

func TestCommitCopiesDirectoryToBucket(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, mark(domain.OpCopy))

	result, err := f.session.Commit(context.Background())
	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.Equal(t, 2, result.Summary.Done)
	assert.Contains(t, result.Message, "2 done")

	appState := f.session.State()
	assert.Equal(t, state.ModeBrowsing, appState.Mode)
	assert.Empty(t, appState.Pane(state.SideLeft).Marks)
	right := appState.Visible(state.SideRight)
	require.Len(t, right, 1)
	assert.Equal(t, "sub", right[0].Name)

	f.dispatch(t, Action{Kind: ActionFocusRight}, Action{Kind: ActionEnterDir})
	entries := appState.Visible(state.SideRight)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.txt", entries[0].Name)
	assert.Equal(t, int64(5), entries[0].Size)
}

func TestFailedMoveKeepsMarkAndSource(t *testing.T) {
	f := newFixture(t)
	f.client.Inject = func(op, _ string) error {
		if op == "PutObject" {
			return &smithy.GenericAPIError{Code: "ServiceUnavailable"}
		}
		return nil
	}
	f.dispatch(t, Action{Kind: ActionCursorDown}, mark(domain.OpMove))

	result, err := f.session.Commit(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, result.Err(), domain.ErrPartialTransfer)
	assert.Equal(t, 1, result.Summary.Failed)
	assert.Equal(t, 1, result.Summary.Skipped)
	assert.Len(t, result.Errors(), 2)

	appState := f.session.State()
	assert.Equal(t, state.Mark{Kind: domain.OpMove, Reason: "provider unavailable"}, appState.Pane(state.SideLeft).Marks["/home/user/a.txt"])
	_, err = f.home.Stat(context.Background(), "/home/user/a.txt")
	assert.NoError(t, err)
	assert.NotEmpty(t, appState.Errors)

	f.dispatch(t, Action{Kind: ActionDismissErrors})
	assert.Empty(t, appState.Errors)
}

func TestDeletingFileKeepsDirectoryOfSameName(t *testing.T) {
	f := newFixture(t)
	f.client.Put("a", []byte("file"))
	f.client.Put("a/keep.txt", []byte("keep"))
	f.dispatch(t, Action{Kind: ActionFocusRight}, Action{Kind: ActionRefresh})

	entries := f.session.State().Visible(state.SideRight)
	require.Len(t, entries, 2)
	require.True(t, entries[0].IsDir())
	f.dispatch(t, Action{Kind: ActionCursorDown}, mark(domain.OpDelete))

	result, err := f.session.Commit(context.Background())
	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Summary.Done)
	assert.Equal(t, []string{"a/keep.txt"}, f.client.Keys())
	assert.Empty(t, f.session.State().Pane(state.SideRight).Marks)
}

func TestDispatchDuringCommitIsRejected(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, mark(domain.OpDelete))

	job, err := f.session.BeginCommit()
	require.NoError(t, err)
	assert.Equal(t, "/home/user/sub", job.Request.Marks[0].Entry.Path)

	for _, kind := range []ActionKind{ActionCursorDown, ActionEnterDir, ActionLeaveDir, ActionSwitchPane, ActionRefresh, ActionExit} {
		assert.ErrorIs(t, f.session.Dispatch(context.Background(), Action{Kind: kind}), state.ErrInvalidTransition)
	}
	assert.ErrorIs(t, f.session.Dispatch(context.Background(), mark(domain.OpCopy)), state.ErrInvalidTransition)
	_, err = f.session.BeginCommit()
	assert.ErrorIs(t, err, state.ErrInvalidTransition)

	result := job.Run(context.Background())
	require.NoError(t, f.session.Finish(context.Background(), result))
	assert.Equal(t, 2, result.Summary.Done)
	_, err = f.home.Stat(context.Background(), "/home/user/sub")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.dispatch(t, Action{Kind: ActionExit})
	assert.Equal(t, state.ModeExited, f.session.State().Mode)
}

func TestCanceledJobKeepsMarks(t *testing.T) {
	f := newFixture(t)
	f.session.transfers = &MockTransfers{Delay: time.Hour}
	f.dispatch(t, mark(domain.OpCopy))

	job, err := f.session.BeginCommit()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := job.Run(ctx)
	require.Len(t, result.Rejected, 1)

	require.NoError(t, f.session.Finish(context.Background(), result))
	assert.Equal(t, "canceled", f.session.State().Pane(state.SideLeft).Marks["/home/user/sub/"].Reason)
}

func TestMockTransfersReportsMarksDone(t *testing.T) {
	f := newFixture(t)
	f.session.transfers = &MockTransfers{}
	f.dispatch(t, mark(domain.OpCopy), Action{Kind: ActionCursorDown}, mark(domain.OpCopy))

	result, err := f.session.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Summary.Done)
	assert.Empty(t, f.session.State().Pane(state.SideLeft).Marks)
}

func TestEngineProgress(t *testing.T) {
	f := newFixture(t)
	entry, err := f.home.Stat(context.Background(), "/home/user/sub")
	require.NoError(t, err)
	req := planner.Request{
		Source:      planner.PaneRef{ProviderID: "home", Path: "/home/user"},
		Destination: planner.PaneRef{ProviderID: "backup", Path: "/"},
		Marks:       []planner.Mark{{Entry: entry, Kind: domain.OpCopy}},
	}

	type outcome struct {
		result TransferResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.engine.Execute(context.Background(), req)
		done <- outcome{result: result, err: err}
	}()
	finished := <-done
	require.NoError(t, finished.err)

	var updates []TransferProgress
	for update := range f.engine.TransferProgress() {
		updates = append(updates, update)
	}
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.True(t, last.Completed)
	assert.Equal(t, 2, last.Finished)
	assert.Equal(t, 2, last.Total)
	assert.Equal(t, int64(5), last.Bytes)
}

func TestEngineCanceledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.engine.Execute(ctx, planner.Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnknownActionKind(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.session.Dispatch(context.Background(), Action{Kind: ActionKind(99)}), domain.ErrUnsupported)
}
