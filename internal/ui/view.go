package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"versfm/internal/domain"
	"versfm/internal/state"
)

type uiStyles struct {
	headerStyle  lipgloss.Style
	mutedStyle   lipgloss.Style
	statusStyle  lipgloss.Style
	warnStyle    lipgloss.Style
	cursorStyle  lipgloss.Style
	markStyle    lipgloss.Style
	panelBorder  lipgloss.Style
	activeBorder lipgloss.Style
	reasonStyle  lipgloss.Style
	dimmedCursor lipgloss.Style
}

func stylesFor(model Model) uiStyles {
	if strings.ToLower(model.state.Prefs.Theme) == "light" {
		return uiStyles{
			headerStyle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("235")),
			mutedStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
			statusStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("25")).Bold(true),
			warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("124")).Bold(true),
			cursorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("90")).Bold(true),
			markStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true),
			panelBorder:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
			activeBorder: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("25")).Padding(0, 1),
			reasonStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("124")),
			dimmedCursor: lipgloss.NewStyle().Underline(true),
		}
	}
	return uiStyles{
		headerStyle:  lipgloss.NewStyle().Bold(true),
		mutedStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		statusStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("69")).Bold(true),
		warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("204")).Bold(true),
		cursorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		markStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		panelBorder:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		activeBorder: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("69")).Padding(0, 1),
		reasonStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("204")),
		dimmedCursor: lipgloss.NewStyle().Underline(true),
	}
}

func (model Model) View() string {
	styles := stylesFor(model)
	if model.showHelp {
		return renderHelpView(model, styles)
	}

	body := renderBody(model, styles)
	footer := renderFooter(model, styles)
	return strings.Join([]string{body, footer}, "\n")
}

func (model Model) bodyHeight() int {
	height := model.height - 4
	if height < 3 {
		height = 3
	}
	return height
}

func renderBody(model Model, styles uiStyles) string {
	height := model.bodyHeight()
	if len(model.state.Errors) > 0 {
		return renderErrorPanel(model, styles, height)
	}
	leftWidth := maxInt(model.width/2-1, 20)
	rightWidth := maxInt(model.width-leftWidth-1, 20)
	left := renderPane(model, styles, state.SideLeft, height, leftWidth)
	right := renderPane(model, styles, state.SideRight, height, rightWidth)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func renderErrorPanel(model Model, styles uiStyles, height int) string {
	lines := []string{styles.warnStyle.Render(fmt.Sprintf("Errors (%d) - enter to dismiss", len(model.state.Errors))), ""}
	errorsShown := model.state.Errors
	if len(errorsShown) > height-2 {
		errorsShown = errorsShown[len(errorsShown)-(height-2):]
	}
	for _, message := range errorsShown {
		lines = append(lines, trimStatus(message, model.width-4))
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return styles.panelBorder.Width(maxInt(model.width-2, 10)).Render(strings.Join(lines, "\n"))
}

// paneTitle names the pane as provider@backend:path.
func paneTitle(model Model, pane *state.Pane) string {
	backend := "?"
	if model.providers != nil {
		if p, ok := model.providers.Get(pane.ProviderID); ok {
			backend = p.Backend()
		}
	}
	return fmt.Sprintf("%s@%s:%s", pane.ProviderID, backend, pane.Path)
}

func renderPane(model Model, styles uiStyles, side state.Side, height, width int) string {
	pane := model.state.Pane(side)
	active := side == model.state.Active
	contentWidth := maxInt(width-4, 10)
	border := styles.panelBorder
	if active {
		border = styles.activeBorder
	}

	title := styles.headerStyle.Render(trimStatus(paneTitle(model, pane), contentWidth-8))
	marks := ""
	if len(pane.Marks) > 0 {
		marks = styles.markStyle.Render(fmt.Sprintf("%d marked", len(pane.Marks)))
	}
	lines := []string{padLine(title, marks, contentWidth)}
	if pane.Err != nil {
		lines = append(lines, styles.warnStyle.Render(trimStatus("! "+domain.Reason(pane.Err), contentWidth)))
	}

	visible := model.state.Visible(side)
	listHeight := maxInt(height-len(lines), 1)
	if len(visible) == 0 {
		lines = append(lines, styles.mutedStyle.Render("(empty)"))
	}
	start := 0
	if pane.Cursor >= listHeight {
		start = pane.Cursor - listHeight + 1
	}
	end := minInt(start+listHeight, len(visible))
	for index := start; index < end; index++ {
		line := entryLine(styles, pane, visible[index], contentWidth)
		if index == pane.Cursor {
			if active {
				line = styles.cursorStyle.Render(line)
			} else {
				line = styles.dimmedCursor.Render(line)
			}
		}
		lines = append(lines, line)
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return border.Width(contentWidth + 2).Render(strings.Join(lines, "\n"))
}

func entryLine(styles uiStyles, pane *state.Pane, entry domain.Entry, width int) string {
	glyph := " "
	reason := ""
	if mark, ok := pane.Mark(entry.Key()); ok {
		glyph = styles.markStyle.Render(markGlyph(mark.Kind))
		if mark.Reason != "" {
			reason = " " + styles.reasonStyle.Render("! "+mark.Reason)
		}
	}
	name := entry.Name
	if entry.IsDir() {
		name += "/"
	}
	size := ""
	if entry.HasSize {
		size = formatSize(entry.Size)
	}
	return padLine(fmt.Sprintf("%s %s%s", glyph, name, reason), size, width)
}

func markGlyph(kind domain.OperationKind) string {
	switch kind {
	case domain.OpMove:
		return "M"
	case domain.OpCopy:
		return "C"
	case domain.OpDelete:
		return "D"
	}
	return "?"
}

func renderFooter(model Model, styles uiStyles) string {
	statusLine := trimStatus(model.status, model.width)
	if model.running {
		statusLine = fmt.Sprintf("%s  %s %d/%d  %s", statusLine, progressBar(model.finished, model.total, 18), model.finished, model.total, formatSize(model.bytes))
	}
	statusStyle := styles.mutedStyle
	lower := strings.ToLower(model.status)
	if strings.Contains(lower, "error") || strings.Contains(lower, "warning") {
		statusStyle = styles.warnStyle
	}
	statusLine = statusStyle.Render(statusLine)

	hiddenInfo := "Hidden: off"
	if model.state.Prefs.ShowHidden {
		hiddenInfo = "Hidden: on"
	}
	left := fmt.Sprintf("%s  %s", strings.ToUpper(model.state.Mode.String()), hiddenInfo)
	keys := "↑/↓ move  → enter  ← up  tab switch  m/c/d mark  enter commit  r refresh  . hidden  ? help  q quit"
	if model.running {
		keys = "esc cancel  q cancel and quit"
	}
	if len(model.state.Errors) > 0 {
		keys = "enter dismiss errors"
	}
	footerLine := padLine(left, keys, model.width)
	return strings.Join([]string{statusLine, styles.mutedStyle.Render(footerLine)}, "\n")
}

func renderHelpView(model Model, styles uiStyles) string {
	bindings := []key.Binding{
		model.keys.Up,
		model.keys.Down,
		model.keys.Enter,
		model.keys.Back,
		model.keys.FocusLeft,
		model.keys.FocusRight,
		model.keys.Switch,
		model.keys.Move,
		model.keys.Copy,
		model.keys.Delete,
		model.keys.Commit,
		model.keys.Refresh,
		model.keys.Hidden,
		model.keys.Cancel,
		model.keys.Help,
		model.keys.Quit,
	}

	lines := []string{styles.headerStyle.Render("versfm Help"), ""}
	lines = append(lines, styles.headerStyle.Render("Marks"))
	lines = append(lines,
		"m/c/d mark the entry under the cursor for move, copy or delete",
		"the same key again removes the mark, another key replaces it",
		"enter runs the marks of the active pane into the other pane's directory",
		"existing destinations are never overwritten; failed marks stay with a reason",
	)
	lines = append(lines, "", styles.headerStyle.Render("Keys"))
	for _, binding := range bindings {
		lines = append(lines, fmt.Sprintf("%-18s %s", binding.Help().Key, binding.Help().Desc))
	}
	lines = append(lines, "", "Press ? to close help")
	content := strings.Join(lines, "\n")
	width := model.width
	if width <= 0 {
		width = 80
	}
	return styles.panelBorder.Width(maxInt(width-2, 10)).Render(content)
}

func padLine(left, right string, width int) string {
	if width <= 0 {
		return left
	}
	space := width - lipgloss.Width(left) - lipgloss.Width(right)
	if space < 1 {
		return left + " " + right
	}
	return left + strings.Repeat(" ", space) + right
}

func formatSize(size int64) string {
	const unit = 1000
	if size < unit {
		return fmt.Sprintf("%dB", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit && exp < 5; n /= unit {
		div *= unit
		exp++
	}
	value := float64(size) / float64(div)
	units := []string{"KB", "MB", "GB", "TB", "PB", "EB"}
	return fmt.Sprintf("%.1f%s", value, units[exp])
}

func progressBar(done, total, width int) string {
	if width <= 0 {
		return ""
	}
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	filled = clamp(filled, 0, width)
	return fmt.Sprintf("[%s%s]", strings.Repeat("█", filled), strings.Repeat("░", width-filled))
}

func trimStatus(message string, width int) string {
	if width <= 0 {
		return message
	}
	max := width - 4
	if max <= 0 || len(message) <= max {
		return message
	}
	return message[:max] + "..."
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
