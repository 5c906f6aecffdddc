package services

import (
	"versfm/internal/domain"
	"versfm/internal/planner"
)

type ActionKind int

const (
	ActionCursorUp ActionKind = iota
	ActionCursorDown
	ActionEnterDir
	ActionLeaveDir
	ActionSwitchPane
	ActionFocusLeft
	ActionFocusRight
	ActionRefresh
	ActionMark
	ActionToggleHidden
	ActionDismissErrors
	ActionExit
)

// Action is one input delivered to the session. Mark is only read for
// ActionMark.
type Action struct {
	Kind ActionKind
	Mark domain.OperationKind
}

// Job is a commit in flight. Its request is a copy taken when the commit
// began, so running it never reads pane state.
type Job struct {
	Request   planner.Request
	transfers Transfers
}
