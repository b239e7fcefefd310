package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"labos/internal/core"
)

type tabID int

const (
	tabExperiments tabID = iota
	tabJobs
	tabDatasets
	tabAudit
	tabCount
)

var tabTitles = [tabCount]string{"Experiments", "Jobs", "Datasets", "Audit"}

const auditTailLimit = 50

// refreshMsg asks the model to reload from the service.
type refreshMsg struct{}

// dataMsg carries a freshly loaded snapshot.
type dataMsg struct {
	experiments []core.Experiment
	jobs        []core.Job
	datasets    []core.DatasetRef
	audit       []core.AuditEvent
	err         error
}

// Model is the dashboard bubbletea model. It is read-only over the
// service layer.
type Model struct {
	service *core.Service
	watcher *Watcher
	styles  Styles

	viewport viewport.Model
	active   tabID
	data     dataMsg
	loaded   bool
	width    int
	height   int
	ready    bool
}

// NewModel builds the dashboard. A nil watcher disables auto-refresh.
func NewModel(service *core.Service, watcher *Watcher) Model {
	return Model{
		service:  service,
		watcher:  watcher,
		styles:   DefaultStyles(),
		viewport: viewport.New(80, 20),
	}
}

// Init loads the first snapshot and arms the watcher.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.watchCmd())
}

func (m Model) refreshCmd() tea.Cmd {
	service := m.service
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var msg dataMsg
		var err error
		if msg.experiments, err = service.ListExperiments(ctx); err != nil {
			msg.err = err
			return msg
		}
		if msg.jobs, err = service.ListJobs(ctx); err != nil {
			msg.err = err
			return msg
		}
		if msg.datasets, err = service.ListDatasets(ctx); err != nil {
			msg.err = err
			return msg
		}
		msg.audit, msg.err = service.AuditTail(ctx, auditTailLimit)
		return msg
	}
}

func (m Model) watchCmd() tea.Cmd {
	if m.watcher == nil {
		return nil
	}
	events := m.watcher.Events()
	return func() tea.Msg {
		if _, ok := <-events; !ok {
			return nil
		}
		return refreshMsg{}
	}
}

// Update handles input, resizes, and data refreshes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "tab":
			m.active = (m.active + 1) % tabCount
			m.updateContent()
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		m.ready = true
		m.updateContent()
		return m, nil
	case refreshMsg:
		return m, tea.Batch(m.refreshCmd(), m.watchCmd())
	case dataMsg:
		m.data = msg
		m.loaded = true
		m.updateContent()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the tab bar, the active table, and the key help line.
func (m Model) View() string {
	var tabs []string
	for i := tabID(0); i < tabCount; i++ {
		style := m.styles.Tab
		if i == m.active {
			style = m.styles.ActiveTab
		}
		tabs = append(tabs, style.Render(tabTitles[i]))
	}
	header := m.styles.Header.Render("LabOS") + "  " + lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
	footer := m.styles.Footer.Render("r refresh · tab cycle · q quit")
	return header + "\n" + m.viewport.View() + "\n" + footer
}

func (m *Model) updateContent() {
	if !m.loaded {
		m.viewport.SetContent("Loading...")
		return
	}
	if m.data.err != nil {
		m.viewport.SetContent(m.styles.Error.Render("load failed: " + m.data.err.Error()))
		return
	}
	switch m.active {
	case tabJobs:
		m.viewport.SetContent(renderJobs(m.data.jobs))
	case tabDatasets:
		m.viewport.SetContent(renderDatasets(m.data.datasets))
	case tabAudit:
		m.viewport.SetContent(renderAudit(m.data.audit))
	default:
		m.viewport.SetContent(renderExperiments(m.data.experiments))
	}
}

func renderExperiments(experiments []core.Experiment) string {
	if len(experiments) == 0 {
		return "No experiments yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-14s %-30s %-12s %-10s\n", "ID", "TITLE", "OWNER", "STATUS")
	sb.WriteString(strings.Repeat("-", 70) + "\n")
	for _, exp := range experiments {
		fmt.Fprintf(&sb, "%-14s %-30s %-12s %-10s\n",
			exp.ID, clip(exp.Title, 30), clip(exp.Owner, 12), exp.Status)
	}
	return sb.String()
}

func renderJobs(jobs []core.Job) string {
	if len(jobs) == 0 {
		return "No jobs yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-14s %-18s %-12s %-10s\n", "ID", "MODULE", "OPERATION", "STATUS")
	sb.WriteString(strings.Repeat("-", 60) + "\n")
	for _, job := range jobs {
		fmt.Fprintf(&sb, "%-14s %-18s %-12s %-10s\n",
			job.ID, clip(job.ModuleKey, 18), clip(job.Operation, 12), job.Status)
	}
	return sb.String()
}

func renderDatasets(datasets []core.DatasetRef) string {
	if len(datasets) == 0 {
		return "No datasets yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-14s %-26s %-10s %-24s\n", "ID", "LABEL", "TYPE", "URI")
	sb.WriteString(strings.Repeat("-", 78) + "\n")
	for _, ds := range datasets {
		fmt.Fprintf(&sb, "%-14s %-26s %-10s %-24s\n",
			ds.ID, clip(ds.Label, 26), ds.Type, clip(ds.URI, 24))
	}
	return sb.String()
}

func renderAudit(events []core.AuditEvent) string {
	if len(events) == 0 {
		return "No audit events yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-20s %-24s %-16s\n", "TIME", "EVENT", "ACTOR")
	sb.WriteString(strings.Repeat("-", 64) + "\n")
	for _, event := range events {
		fmt.Fprintf(&sb, "%-20s %-24s %-16s\n",
			event.Timestamp.Format("2006-01-02 15:04:05"), clip(event.EventType, 24), clip(event.Actor, 16))
	}
	return sb.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// Run drives the dashboard until the user quits. Dirs are watched for
// changes to auto-refresh; a failed watcher just disables auto-refresh.
func Run(service *core.Service, dirs ...string) error {
	watcher, err := NewWatcher(dirs...)
	if err != nil {
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
	}
	program := tea.NewProgram(NewModel(service, watcher), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
