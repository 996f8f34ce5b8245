package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"portkeep/internal/model"
)

// formMode distinguishes between the mode-select, quick-add, and two-field screens.
type formMode int

const (
	formModeSelect formMode = iota
	formModeQuick
	formModeFull
)

// Field indices for the two-field form.
const (
	fieldLocal = iota
	fieldRemote
	fieldCount
)

// formResult is returned when the user completes the form. Addresses are
// passed on in user-facing form; the manager validates them on add.
type formResult struct {
	local  string
	remote string
}

// addForm holds all state for the "new mapping" screen.
type addForm struct {
	mode    formMode
	modeSel int // 0 = quick, 1 = two-field (for mode selection screen)

	// Quick add
	quickInput textinput.Model

	// Two-field form
	fields   []textinput.Model
	focusIdx int

	// Validation error
	errMsg string
}

// newForm creates an initialized form starting at mode selection.
func newForm() *addForm {
	f := &addForm{
		mode: formModeSelect,
	}

	// Quick add input.
	qi := textinput.New()
	qi.Placeholder = "127.0.0.1:9000 10.0.0.5:80"
	qi.CharLimit = 256
	qi.Width = 50
	f.quickInput = qi

	// Two-field form.
	placeholders := []string{
		"127.0.0.1:9000 (required)",
		"10.0.0.5:80 or db.internal:5432 (required)",
	}

	f.fields = make([]textinput.Model, fieldCount)
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 256
		ti.Width = 40
		f.fields[i] = ti
	}

	return f
}

// update processes a key message and returns a formResult if the form is complete.
func (f *addForm) update(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch f.mode {
	case formModeSelect:
		return f.updateModeSelect(msg)
	case formModeQuick:
		return f.updateQuick(msg)
	case formModeFull:
		return f.updateFull(msg)
	}
	return nil, nil
}

func (f *addForm) updateModeSelect(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if f.modeSel < 1 {
			f.modeSel++
		}
	case "k", "up":
		if f.modeSel > 0 {
			f.modeSel--
		}
	case "enter":
		if f.modeSel == 0 {
			f.mode = formModeQuick
			f.quickInput.Focus()
			return nil, f.quickInput.Cursor.BlinkCmd()
		}
		f.mode = formModeFull
		f.focusIdx = 0
		f.fields[0].Focus()
		return nil, f.fields[0].Cursor.BlinkCmd()
	}
	return nil, nil
}

func (f *addForm) updateQuick(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "enter":
		local, remote, err := parseQuickAdd(f.quickInput.Value())
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{local: local, remote: remote}, nil
	default:
		var cmd tea.Cmd
		f.quickInput, cmd = f.quickInput.Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *addForm) updateFull(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		// Navigate between fields.
		f.fields[f.focusIdx].Blur()
		if msg.String() == "tab" {
			f.focusIdx = (f.focusIdx + 1) % fieldCount
		} else {
			f.focusIdx = (f.focusIdx - 1 + fieldCount) % fieldCount
		}
		f.fields[f.focusIdx].Focus()
		return nil, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "enter":
		local, remote, err := f.buildPair()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{local: local, remote: remote}, nil
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *addForm) buildPair() (string, string, error) {
	local := strings.TrimSpace(f.fields[fieldLocal].Value())
	remote := strings.TrimSpace(f.fields[fieldRemote].Value())

	if local == "" {
		return "", "", fmt.Errorf("local address is required")
	}
	if remote == "" {
		return "", "", fmt.Errorf("remote address is required")
	}
	if _, err := model.ParseEndpoint(local); err != nil {
		return "", "", fmt.Errorf("local: %v", err)
	}
	if _, err := model.ParseEndpoint(remote); err != nil {
		return "", "", fmt.Errorf("remote: %v", err)
	}
	return local, remote, nil
}

// view renders the form panel.
func (f *addForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	accent := lipgloss.Color("214")
	switch f.mode {
	case formModeSelect:
		return renderPanel("New Mapping", f.modeSelectView(), width, accent)
	case formModeQuick:
		return renderPanel("Quick Add", f.quickView(), width, accent)
	case formModeFull:
		return renderPanel("New Mapping - Two Fields", f.fullView(), width, accent)
	}
	return ""
}

func (f *addForm) modeSelectView() string {
	var b strings.Builder
	b.WriteString("Choose input style:\n\n")

	options := []struct {
		label string
		desc  string
	}{
		{"Quick Add", "Type local and remote on one line"},
		{"Two Fields", "Fill local and remote separately"},
	}

	for i, opt := range options {
		cursor := "  "
		if i == f.modeSel {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s[%s]  %s\n", cursor, opt.label, opt.desc))
	}

	b.WriteString("\nj/k to select, Enter to confirm, Esc to cancel")
	return b.String()
}

func (f *addForm) quickView() string {
	var b strings.Builder
	b.WriteString("Mapping:\n\n")
	b.WriteString("  " + f.quickInput.View() + "\n\n")
	b.WriteString("Formats: <local> <remote> | <local> -> <remote>\n")

	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}

	b.WriteString("\nEnter to add, Esc to cancel")
	return b.String()
}

func (f *addForm) fullView() string {
	labels := []string{"Local:", "Remote:"}

	var b strings.Builder
	for i, label := range labels {
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-10s %s\n", cursor, label, f.fields[i].View()))
	}

	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}

	b.WriteString("\nTab/Shift-Tab navigate | Enter add | Esc cancel")
	return b.String()
}

// parseQuickAdd splits a quick-add line into local and remote addresses.
// Supported formats: "<local> <remote>" and "<local> -> <remote>".
func parseQuickAdd(input string) (string, string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", "", fmt.Errorf("mapping cannot be empty")
	}

	input = strings.ReplaceAll(input, "->", " ")
	parts := strings.Fields(input)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected a local and a remote address")
	}

	local, remote := parts[0], parts[1]
	if _, err := model.ParseEndpoint(local); err != nil {
		return "", "", fmt.Errorf("local: %v", err)
	}
	if _, err := model.ParseEndpoint(remote); err != nil {
		return "", "", fmt.Errorf("remote: %v", err)
	}
	return local, remote, nil
}
