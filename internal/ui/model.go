package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"gitlab.com/tozd/go/errors"

	"versfm/internal/config"
	"versfm/internal/domain"
	"versfm/internal/provider"
	"versfm/internal/services"
	"versfm/internal/state"
)

type Model struct {
	session   *services.Session
	state     *state.State
	providers provider.Resolver
	progress  services.TransferProgressProvider
	keys      KeyMap
	showHelp  bool
	status    string
	running   bool
	quitting  bool
	cancel    context.CancelFunc
	finished  int
	total     int
	bytes     int64
	width     int
	height    int
}

type ConfigProvider interface {
	ConfigSnapshot(base config.Config) config.Config
}

func NewModel(session *services.Session, transfers services.Transfers, providers provider.Resolver) Model {
	return Model{
		session:   session,
		state:     session.State(),
		providers: providers,
		progress:  transferProgressProvider(transfers),
		keys:      DefaultKeyMap(),
		status:    "Ready - m/c/d mark, enter commit, ? help",
		width:     100,
		height:    30,
	}
}

func transferProgressProvider(transfers services.Transfers) services.TransferProgressProvider {
	if provider, ok := transfers.(services.TransferProgressProvider); ok {
		return provider
	}
	return nil
}

func (model Model) WithStatus(message string) Model {
	if message != "" {
		model.status = message
	}
	return model
}

// ConfigSnapshot copies the pane locations and preferences into base so
// they can be saved on exit.
func (model Model) ConfigSnapshot(base config.Config) config.Config {
	left, right := model.state.Pane(state.SideLeft), model.state.Pane(state.SideRight)
	base.Left = config.PaneConfig{Provider: left.ProviderID, Path: left.Path}
	base.Right = config.PaneConfig{Provider: right.ProviderID, Path: right.Path}
	base.ShowHidden = model.state.Prefs.ShowHidden
	base.Theme = model.state.Prefs.Theme
	return base
}

func (model Model) Init() tea.Cmd {
	return nil
}

func (model Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.KeyMsg:
		return model.handleKey(typed)
	case tea.WindowSizeMsg:
		model.width = typed.Width
		model.height = typed.Height
		return model, nil
	case transferResultMsg:
		model.running = false
		if model.cancel != nil {
			model.cancel()
			model.cancel = nil
		}
		if err := model.session.Finish(context.Background(), typed.result); err != nil {
			model.status = fmt.Sprintf("Error: %v", err)
			return model, nil
		}
		model.status = fmt.Sprintf("%s in %s", typed.result.Message, typed.result.Duration.Round(time.Millisecond))
		if model.quitting {
			_ = model.session.Dispatch(context.Background(), services.Action{Kind: services.ActionExit})
			return model, tea.Quit
		}
		return model, nil
	case transferProgressMsg:
		if typed.progress.Completed {
			// The end of the previous job's stream can arrive after the
			// next commit started.
			if model.running {
				return model, model.progressCmd()
			}
			return model, nil
		}
		model.finished = typed.progress.Finished
		model.total = typed.progress.Total
		model.bytes += typed.progress.Bytes
		if typed.progress.ErrMessage != "" {
			model.status = fmt.Sprintf("Warning: %s %s", typed.progress.Path, typed.progress.ErrMessage)
		} else if typed.progress.Path != "" {
			model.status = fmt.Sprintf("%s %s %s", typed.progress.Status, typed.progress.Kind, typed.progress.Path)
		}
		return model, model.progressCmd()
	default:
		return model, nil
	}
}

func (model Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, model.keys.Quit):
		if model.running {
			model.quitting = true
			model.cancel()
			model.status = "Canceling transfer before exit..."
			return model, nil
		}
		if err := model.session.Dispatch(context.Background(), services.Action{Kind: services.ActionExit}); err != nil {
			model.status = fmt.Sprintf("Error: %v", err)
			return model, nil
		}
		return model, tea.Quit
	case key.Matches(msg, model.keys.Help):
		model.showHelp = !model.showHelp
		return model, nil
	case len(model.state.Errors) > 0:
		if key.Matches(msg, model.keys.Commit) {
			return model.dispatch(services.Action{Kind: services.ActionDismissErrors})
		}
		return model, nil
	case key.Matches(msg, model.keys.Cancel):
		if model.running && model.cancel != nil {
			model.cancel()
			model.status = "Canceling transfer..."
		}
		return model, nil
	case model.running:
		model.status = "Transfer running - esc to cancel"
		return model, nil
	case key.Matches(msg, model.keys.Up):
		return model.dispatch(services.Action{Kind: services.ActionCursorUp})
	case key.Matches(msg, model.keys.Down):
		return model.dispatch(services.Action{Kind: services.ActionCursorDown})
	case key.Matches(msg, model.keys.Enter):
		return model.dispatch(services.Action{Kind: services.ActionEnterDir})
	case key.Matches(msg, model.keys.Back):
		return model.dispatch(services.Action{Kind: services.ActionLeaveDir})
	case key.Matches(msg, model.keys.FocusLeft):
		return model.dispatch(services.Action{Kind: services.ActionFocusLeft})
	case key.Matches(msg, model.keys.FocusRight):
		return model.dispatch(services.Action{Kind: services.ActionFocusRight})
	case key.Matches(msg, model.keys.Switch):
		return model.dispatch(services.Action{Kind: services.ActionSwitchPane})
	case key.Matches(msg, model.keys.Move):
		return model.dispatch(services.Action{Kind: services.ActionMark, Mark: domain.OpMove})
	case key.Matches(msg, model.keys.Copy):
		return model.dispatch(services.Action{Kind: services.ActionMark, Mark: domain.OpCopy})
	case key.Matches(msg, model.keys.Delete):
		return model.dispatch(services.Action{Kind: services.ActionMark, Mark: domain.OpDelete})
	case key.Matches(msg, model.keys.Refresh):
		return model.dispatch(services.Action{Kind: services.ActionRefresh})
	case key.Matches(msg, model.keys.Hidden):
		return model.dispatch(services.Action{Kind: services.ActionToggleHidden})
	case key.Matches(msg, model.keys.Commit):
		return model.beginCommit()
	default:
		return model, nil
	}
}

func (model Model) dispatch(action services.Action) (tea.Model, tea.Cmd) {
	if err := model.session.Dispatch(context.Background(), action); err != nil {
		model.status = fmt.Sprintf("Error: %v", err)
	}
	return model, nil
}

func (model Model) beginCommit() (tea.Model, tea.Cmd) {
	job, err := model.session.BeginCommit()
	if err != nil {
		if errors.Is(err, state.ErrNothingMarked) {
			model.status = "Nothing marked - m/c/d mark the entry under the cursor"
			return model, nil
		}
		model.status = fmt.Sprintf("Error: %v", err)
		return model, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	model.running = true
	model.cancel = cancel
	model.finished = 0
	model.total = 0
	model.bytes = 0
	model.status = fmt.Sprintf("Running %d marks...", len(job.Request.Marks))
	return model, tea.Batch(runJobCmd(ctx, job), model.progressCmd())
}

func runJobCmd(ctx context.Context, job *services.Job) tea.Cmd {
	return func() tea.Msg {
		return transferResultMsg{result: job.Run(ctx)}
	}
}

func (model Model) progressCmd() tea.Cmd {
	if model.progress == nil {
		return nil
	}
	return func() tea.Msg {
		for {
			channel := model.progress.TransferProgress()
			if channel == nil {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			progress, ok := <-channel
			if !ok {
				time.Sleep(50 * time.Millisecond)
				return transferProgressMsg{progress: services.TransferProgress{Completed: true}}
			}
			return transferProgressMsg{progress: progress}
		}
	}
}
