// Package state holds the two panes, their marks and the browsing/executing
// mode. Only the control path mutates it.
package state

import (
	"context"
	"sort"
	"strings"

	"gitlab.com/tozd/go/errors"

	"versfm/internal/domain"
	"versfm/internal/planner"
	"versfm/internal/provider"
)

var (
	ErrInvalidTransition = errors.Base("invalid transition")
	ErrNothingMarked     = errors.Base("nothing marked")
)

const maxErrors = 32

type Mode int

const (
	ModeBrowsing Mode = iota
	ModeExecuting
	ModeExited
)

func (mode Mode) String() string {
	switch mode {
	case ModeBrowsing:
		return "browsing"
	case ModeExecuting:
		return "executing"
	case ModeExited:
		return "exited"
	}
	return "unknown"
}

type Side int

const (
	SideLeft Side = iota
	SideRight
)

func (side Side) Other() Side {
	if side == SideLeft {
		return SideRight
	}
	return SideLeft
}

// Mark is the pending operation on one entry. Reason is set when a commit
// left the mark in place because its tasks did not complete.
type Mark struct {
	Kind   domain.OperationKind
	Reason string
}

type Pane struct {
	ProviderID string
	Path       string
	// Entries is the last successful listing, directories first.
	Entries []domain.Entry
	Cursor  int
	// Marks is keyed by domain.Entry.Key.
	Marks map[string]Mark
	// Err is the last listing failure. Entries stay as they were.
	Err error
}

func (pane *Pane) Ref() planner.PaneRef {
	return planner.PaneRef{ProviderID: pane.ProviderID, Path: pane.Path}
}

// Mark returns the mark on the entry with key, see domain.Entry.Key.
func (pane *Pane) Mark(key string) (Mark, bool) {
	mark, ok := pane.Marks[key]
	return mark, ok
}

type Preferences struct {
	ShowHidden bool
	Theme      string
}

type State struct {
	Panes  [2]*Pane
	Active Side
	Mode   Mode
	Prefs  Preferences
	// Errors is shown in place of the panes until dismissed.
	Errors []string

	providers  provider.Resolver
	committing Side
}

func New(providers provider.Resolver, left, right planner.PaneRef, prefs Preferences) *State {
	return &State{
		Panes:     [2]*Pane{newPane(left), newPane(right)},
		Active:    SideLeft,
		Mode:      ModeBrowsing,
		Prefs:     prefs,
		providers: providers,
	}
}

func newPane(ref planner.PaneRef) *Pane {
	return &Pane{
		ProviderID: ref.ProviderID,
		Path:       domain.CleanPath(ref.Path),
		Marks:      make(map[string]Mark),
	}
}

// Load lists both panes at their configured paths.
func (appState *State) Load(ctx context.Context) {
	for _, pane := range appState.Panes {
		appState.list(ctx, pane, pane.Path, "")
	}
}

func (appState *State) Pane(side Side) *Pane {
	return appState.Panes[side]
}

func (appState *State) ActivePane() *Pane {
	return appState.Panes[appState.Active]
}

func (appState *State) InactivePane() *Pane {
	return appState.Panes[appState.Active.Other()]
}

// Visible returns the entries of side that are shown with the current
// preferences. The cursor indexes this slice.
func (appState *State) Visible(side Side) []domain.Entry {
	entries := appState.Panes[side].Entries
	if appState.Prefs.ShowHidden {
		return entries
	}
	visible := make([]domain.Entry, 0, len(entries))
	for _, entry := range entries {
		if !isHiddenName(entry.Name) {
			visible = append(visible, entry)
		}
	}
	return visible
}

// CurrentEntry is the entry under the active pane's cursor.
func (appState *State) CurrentEntry() (domain.Entry, bool) {
	visible := appState.Visible(appState.Active)
	cursor := appState.ActivePane().Cursor
	if cursor < 0 || cursor >= len(visible) {
		return domain.Entry{}, false
	}
	return visible[cursor], true
}

func (appState *State) MoveCursor(delta int) error {
	if err := appState.require(ModeBrowsing, "move cursor"); err != nil {
		return err
	}
	pane := appState.ActivePane()
	pane.Cursor += delta
	appState.clampCursor(appState.Active)
	return nil
}

// EnterDir lists the directory under the cursor and makes it current. A
// file under the cursor is left alone.
func (appState *State) EnterDir(ctx context.Context) error {
	if err := appState.require(ModeBrowsing, "enter directory"); err != nil {
		return err
	}
	entry, ok := appState.CurrentEntry()
	if !ok || !entry.IsDir() {
		return nil
	}
	if appState.list(ctx, appState.ActivePane(), entry.Path, "") {
		appState.ActivePane().Cursor = 0
	}
	return nil
}

// LeaveDir moves to the parent directory with the cursor on the directory
// that was left.
func (appState *State) LeaveDir(ctx context.Context) error {
	if err := appState.require(ModeBrowsing, "leave directory"); err != nil {
		return err
	}
	pane := appState.ActivePane()
	if pane.Path == "/" {
		return nil
	}
	appState.list(ctx, pane, domain.ParentPath(pane.Path), pane.Path)
	return nil
}

func (appState *State) SwitchPane() error {
	return appState.Focus(appState.Active.Other())
}

func (appState *State) Focus(side Side) error {
	if err := appState.require(ModeBrowsing, "switch pane"); err != nil {
		return err
	}
	appState.Active = side
	return nil
}

// Refresh lists the active pane again.
func (appState *State) Refresh(ctx context.Context) error {
	if err := appState.require(ModeBrowsing, "refresh"); err != nil {
		return err
	}
	pane := appState.ActivePane()
	appState.list(ctx, pane, pane.Path, "")
	return nil
}

func (appState *State) RefreshAll(ctx context.Context) error {
	if err := appState.require(ModeBrowsing, "refresh"); err != nil {
		return err
	}
	for _, pane := range appState.Panes {
		appState.list(ctx, pane, pane.Path, "")
	}
	return nil
}

// ToggleMark marks the entry under the cursor. The same kind again removes
// the mark and a different kind replaces it.
func (appState *State) ToggleMark(kind domain.OperationKind) error {
	if err := appState.require(ModeBrowsing, "mark"); err != nil {
		return err
	}
	if !kind.Valid() {
		return errors.Errorf("mark kind %q: %w", kind, domain.ErrUnsupported)
	}
	entry, ok := appState.CurrentEntry()
	if !ok {
		return nil
	}
	pane := appState.ActivePane()
	key := entry.Key()
	if current, ok := pane.Marks[key]; ok && current.Kind == kind {
		delete(pane.Marks, key)
		return nil
	}
	pane.Marks[key] = Mark{Kind: kind}
	return nil
}

// BeginCommit switches to executing and returns the request for the active
// pane's marks, in listing order, with the other pane as destination.
func (appState *State) BeginCommit() (planner.Request, error) {
	if err := appState.require(ModeBrowsing, "commit"); err != nil {
		return planner.Request{}, err
	}
	source := appState.ActivePane()
	if len(source.Marks) == 0 {
		return planner.Request{}, errors.WithStack(ErrNothingMarked)
	}

	req := planner.Request{
		Source:      source.Ref(),
		Destination: appState.InactivePane().Ref(),
	}
	for _, entry := range appState.Visible(appState.Active) {
		if mark, ok := source.Marks[entry.Key()]; ok {
			req.Marks = append(req.Marks, planner.Mark{Entry: entry, Kind: mark.Kind})
		}
	}
	appState.Mode = ModeExecuting
	appState.committing = appState.Active
	return req, nil
}

// Complete returns to browsing after a commit. Marks whose tasks all
// finished are cleared; the others stay with the failure reason. Both panes
// are listed again.
func (appState *State) Complete(ctx context.Context, summary domain.Summary, rejected []domain.Failure) error {
	if err := appState.require(ModeExecuting, "complete"); err != nil {
		return err
	}
	reasons := make(map[string]string)
	for _, failure := range append(append([]domain.Failure(nil), rejected...), summary.Failures...) {
		if _, seen := reasons[failure.Origin]; !seen {
			reasons[failure.Origin] = domain.Reason(failure.Err)
		}
		appState.PushError(errors.Errorf("%s: %w", failure.Path, failure.Err))
	}

	pane := appState.Panes[appState.committing]
	for key, mark := range pane.Marks {
		reason, failed := reasons[key]
		if !failed {
			delete(pane.Marks, key)
			continue
		}
		mark.Reason = reason
		pane.Marks[key] = mark
	}

	appState.Mode = ModeBrowsing
	return appState.RefreshAll(ctx)
}

func (appState *State) Exit() error {
	if err := appState.require(ModeBrowsing, "exit"); err != nil {
		return err
	}
	appState.Mode = ModeExited
	return nil
}

// ToggleShowHidden flips the hidden-entry preference. Hiding entries drops
// their marks so that a commit only acts on what the panes show.
func (appState *State) ToggleShowHidden() bool {
	appState.Prefs.ShowHidden = !appState.Prefs.ShowHidden
	if !appState.Prefs.ShowHidden {
		for _, pane := range appState.Panes {
			for _, entry := range pane.Entries {
				if isHiddenName(entry.Name) {
					delete(pane.Marks, entry.Key())
				}
			}
		}
	}
	appState.clampCursor(SideLeft)
	appState.clampCursor(SideRight)
	return appState.Prefs.ShowHidden
}

func (appState *State) PushError(err error) {
	if err == nil {
		return
	}
	appState.Errors = append(appState.Errors, err.Error())
	if len(appState.Errors) > maxErrors {
		appState.Errors = appState.Errors[len(appState.Errors)-maxErrors:]
	}
}

func (appState *State) DismissErrors() {
	appState.Errors = nil
}

func (appState *State) require(mode Mode, action string) error {
	if appState.Mode != mode {
		return errors.Errorf("%s while %s: %w", action, appState.Mode, ErrInvalidTransition)
	}
	return nil
}

// list replaces the pane listing with dir. On failure the pane keeps its
// entries and records the error. When focus names an entry of the new
// listing the cursor is placed on that directory.
func (appState *State) list(ctx context.Context, pane *Pane, dir, focus string) bool {
	dir = domain.CleanPath(dir)
	entries, err := appState.providers.MustGet(pane.ProviderID).List(ctx, dir)
	if err != nil {
		pane.Err = err
		appState.PushError(errors.Errorf("list %s:%s: %w", pane.ProviderID, dir, err))
		return false
	}
	sortEntries(entries)

	pane.Path = dir
	pane.Entries = entries
	pane.Err = nil

	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if appState.Prefs.ShowHidden || !isHiddenName(entry.Name) {
			present[entry.Key()] = true
		}
	}
	for key := range pane.Marks {
		if !present[key] {
			delete(pane.Marks, key)
		}
	}

	side := SideLeft
	if pane == appState.Panes[SideRight] {
		side = SideRight
	}
	if focus != "" {
		for index, entry := range appState.Visible(side) {
			if entry.IsDir() && entry.Path == focus {
				pane.Cursor = index
				break
			}
		}
	}
	appState.clampCursor(side)
	return true
}

func (appState *State) clampCursor(side Side) {
	pane := appState.Panes[side]
	count := len(appState.Visible(side))
	if pane.Cursor >= count {
		pane.Cursor = count - 1
	}
	if pane.Cursor < 0 {
		pane.Cursor = 0
	}
}

func sortEntries(entries []domain.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name < entries[j].Name
	})
}

func isHiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}
