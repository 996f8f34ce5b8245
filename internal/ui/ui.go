package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"portkeep/internal/appconfig"
	"portkeep/internal/engine"
	"portkeep/internal/events"
	"portkeep/internal/manager"
	"portkeep/internal/model"
	"portkeep/internal/store"
	"portkeep/internal/supervise"
	"portkeep/internal/validate"
)

type tickMsg time.Time

type modelUI struct {
	statuses   []model.MappingStatus
	filtered   []model.MappingStatus
	sel        int
	filter     string
	filterMode bool
	showHelp   bool
	status     string
	recent     []events.Event
	width      int
	height     int
	cfg        appconfig.Config
	mgr        *manager.Manager
	form       *addForm
}

func initialModel() modelUI {
	cfg, _ := appconfig.Load()
	launcher := engine.NewLauncher(cfg.Forwarder.Command, cfg.LogFile)
	mgr := manager.New(store.New(cfg.StoreFile), validate.New(), supervise.New(launcher), events.NewStore())
	m := modelUI{cfg: cfg, mgr: mgr}
	m.refresh()
	m.status = "Ready. j/k to select, a to add a mapping, d to remove, R to restore."
	return m
}

func (m *modelUI) refresh() {
	statuses, err := m.mgr.Snapshot(context.Background())
	if err != nil {
		m.status = "snapshot error: " + err.Error()
		return
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Local.String() < statuses[j].Local.String() })
	m.statuses = statuses
	m.applyFilter()
	m.recent, _ = events.NewStore().Read(events.Query{Limit: 5})
}

func (m *modelUI) applyFilter() {
	if strings.TrimSpace(m.filter) == "" {
		m.filtered = append([]model.MappingStatus(nil), m.statuses...)
	} else {
		f := strings.ToLower(strings.TrimSpace(m.filter))
		m.filtered = nil
		for _, st := range m.statuses {
			if strings.Contains(strings.ToLower(st.Local.String()), f) || strings.Contains(strings.ToLower(st.Remote.String()), f) {
				m.filtered = append(m.filtered, st)
			}
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func tickCmd(seconds int) tea.Cmd {
	if seconds <= 0 {
		seconds = 3
	}
	return tea.Tick(time.Duration(seconds)*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m modelUI) Init() tea.Cmd {
	return tickCmd(m.cfg.UI.RefreshSeconds)
}

func (m modelUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, tickCmd(m.cfg.UI.RefreshSeconds)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		if m.form != nil {
			if msg.String() == "esc" {
				m.form = nil
				m.status = "Add cancelled."
				return m, nil
			}
			res, cmd := m.form.update(msg)
			if res == nil {
				return m, cmd
			}
			m.form = nil
			mp, warns, err := m.mgr.Add(context.Background(), res.local, res.remote)
			if err != nil {
				m.status = "add failed: " + err.Error()
			} else {
				m.status = fmt.Sprintf("Added %s -> %s (pid=%d)", mp.Local, mp.Remote, mp.Handle.PID)
				if len(warns) > 0 {
					m.status += " [" + strings.Join(warns, "; ") + "]"
				}
			}
			m.refresh()
			return m, nil
		}
		if m.filterMode {
			switch msg.String() {
			case "enter", "esc":
				m.filterMode = false
				m.applyFilter()
				return m, nil
			case "backspace":
				if len(m.filter) > 0 {
					m.filter = m.filter[:len(m.filter)-1]
				}
				m.applyFilter()
				return m, nil
			default:
				if len(msg.String()) == 1 {
					m.filter += msg.String()
					m.applyFilter()
				}
				return m, nil
			}
		}
		switch msg.String() {
		case "q", "ctrl+c":
			// Forwarders keep running after the dashboard exits.
			return m, tea.Quit
		case "j", "down":
			if m.sel < len(m.filtered)-1 {
				m.sel++
			}
		case "k", "up":
			if m.sel > 0 {
				m.sel--
			}
		case "/":
			m.filterMode = true
			m.status = "Filter mode: type and press Enter"
		case "?":
			m.showHelp = !m.showHelp
		case "r":
			m.refresh()
			m.status = "Refreshed mapping snapshot"
		case "a":
			m.form = newForm()
			m.status = "Add a mapping: pick an input style."
		case "d":
			if len(m.filtered) == 0 {
				break
			}
			st := m.filtered[m.sel]
			removed, err := m.mgr.Remove(context.Background(), st.Local.String())
			if err != nil {
				m.status = "remove failed: " + err.Error()
			} else {
				m.status = fmt.Sprintf("Removed %s -> %s", removed.Local, removed.Remote)
			}
			m.refresh()
		case "R":
			res, err := m.mgr.Restore(context.Background())
			if err != nil {
				m.status = "restore failed: " + err.Error()
			} else {
				m.status = fmt.Sprintf("Restore: kept %d, restarted %d, dropped %d", len(res.Kept), len(res.Restarted), len(res.Dropped))
			}
			m.refresh()
		}
	case statusMsg:
		m.status = string(msg)
	}
	return m, nil
}

type statusMsg string

func (m modelUI) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("Portkeep Dashboard")
	subhead := fmt.Sprintf("mappings=%d shown=%d live=%d refresh=%ds", len(m.statuses), len(m.filtered), m.liveCount(), clampRefresh(m.cfg.UI.RefreshSeconds))
	left := strings.Builder{}
	left.WriteString("j/k to navigate; [L] means the forwarder is live.\n")
	for i, st := range m.filtered {
		cursor := " "
		if i == m.sel {
			cursor = ">"
		}
		liveMark := " "
		if st.Health == model.HealthLive {
			liveMark = "L"
		}
		left.WriteString(fmt.Sprintf("%s[%s] %-22s -> %s\n", cursor, liveMark, st.Local, st.Remote))
	}
	if len(m.filtered) == 0 {
		left.WriteString("  (no mappings matched)\n")
	}

	detail := strings.Builder{}
	if len(m.filtered) > 0 {
		st := m.filtered[m.sel]
		detail.WriteString(fmt.Sprintf("Local: %s\nRemote: %s\nStatus: %s\nPID: %d\nHandle: %s\n", st.Local, st.Remote, st.Health, st.Handle.PID, st.Handle))
		if st.Health == model.HealthLive {
			detail.WriteString(fmt.Sprintf("Started: %s\nUptime: %s\nLatency: %dms\n",
				st.Handle.StartedAt().Local().Format(time.RFC3339),
				(time.Duration(st.UptimeSec) * time.Second).String(),
				st.LatencyMS))
		}
		detail.WriteString("\nNext steps:\n")
		detail.WriteString(m.guidanceForMapping(st))
	} else {
		detail.WriteString("Pick a mapping, or press a to add one.\n")
	}

	tbl := strings.Builder{}
	tbl.WriteString(fmt.Sprintf("%-22s %-18s %-22s %s\n", "TIME", "TYPE", "LOCAL", "DETAIL"))
	for _, e := range m.recent {
		detailCol := e.Message
		if detailCol == "" {
			detailCol = e.Handle
		}
		tbl.WriteString(fmt.Sprintf("%-22s %-18s %-22s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.EventType, emptyDash(e.Local), emptyDash(detailCol)))
	}
	if len(m.recent) == 0 {
		tbl.WriteString("(none)\n")
	}

	filterLine := fmt.Sprintf("Filter: %s", m.filter)
	if m.filterMode {
		filterLine += " (typing...)"
	}

	quickHelp := "Keys: a add | d remove | R restore | / filter | r refresh | ? help | q quit"
	main := m.renderMainPanels(left.String(), detail.String())
	eventsPanel := m.renderPanel("Recent Events", tbl.String(), m.effectiveWidth(), lipgloss.Color("63"))
	status := m.renderPanel("Status", m.status, m.effectiveWidth(), lipgloss.Color("205"))
	formPanel := ""
	if m.form != nil {
		formPanel = m.form.view(m.renderPanel, m.effectiveWidth())
	}
	help := ""
	if m.showHelp {
		help = m.renderPanel("Help", m.helpBlock(), m.effectiveWidth(), lipgloss.Color("244"))
	}
	layout := lipgloss.JoinVertical(
		lipgloss.Left,
		head,
		subhead,
		filterLine,
		quickHelp,
		main,
		formPanel,
		eventsPanel,
		help,
		status,
	)
	return layout
}

// Run opens the dashboard. The forwarder binary must be present.
func Run() error {
	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}
	if err := engine.Ensure(cfg.Forwarder.Command); err != nil {
		return err
	}
	p := tea.NewProgram(initialModel(), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func emptyDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return 3
	}
	return seconds
}

func (m modelUI) liveCount() int {
	n := 0
	for _, st := range m.statuses {
		if st.Health == model.HealthLive {
			n++
		}
	}
	return n
}

func (m modelUI) guidanceForMapping(st model.MappingStatus) string {
	var lines []string
	if st.Health == model.HealthLive {
		lines = append(lines, "  - Press d to stop the forwarder and delete the record.")
		lines = append(lines, fmt.Sprintf("  - Test it: nc -z %s %d", st.Local.Host, st.Local.Port))
	} else {
		lines = append(lines, "  - Press R to restart dead mappings; failed restarts are dropped.")
		lines = append(lines, "  - Run `portkeep doctor` if restarts keep failing.")
	}
	lines = append(lines, fmt.Sprintf("  - CLI: portkeep remove %s", st.Local))
	return strings.Join(lines, "\n") + "\n"
}

func (m modelUI) renderMainPanels(mappingsPanel, detailsPanel string) string {
	width := m.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderPanel("Mappings", mappingsPanel, width, lipgloss.Color("39")),
			m.renderPanel("Details", detailsPanel, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width / 2
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderPanel("Mappings", mappingsPanel, leftWidth, lipgloss.Color("39")),
		m.renderPanel("Details", detailsPanel, rightWidth, lipgloss.Color("69")),
	)
}

func (m modelUI) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection.",
		"  Filtering: press /, type local/remote text, then Enter.",
		"  Add: press a, pick quick or two-field input, Enter to submit.",
		"  Remove: press d to stop the selected forwarder and delete it.",
		"  Restore: press R to restart dead mappings (failed ones are dropped).",
		"  Refresh: press r to re-read the store and probe live mappings.",
		"  Quit: press q (or Ctrl+C); forwarders keep running.",
	}, "\n")
}

func (m modelUI) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m modelUI) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}
