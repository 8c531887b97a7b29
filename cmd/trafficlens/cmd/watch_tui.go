package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/trafficlens/trafficlens/pkg/errclass"
	"github.com/trafficlens/trafficlens/pkg/feed"
	"github.com/trafficlens/trafficlens/pkg/jobstore"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/notify"
	"github.com/trafficlens/trafficlens/pkg/stream"
)

type snapshotMsg struct{ snap jobstore.Snapshot }

type feedStatusMsg struct{ status feed.Status }

type notificationMsg struct{ n notify.Notification }

type frameMsg struct{ frame models.Frame }

type streamClosedMsg struct{}

type tickMsg time.Time

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	watchStateStyle = map[feed.State]lipgloss.Style{
		feed.StateConnected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		feed.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		feed.StateDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		feed.StateError:        lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
)

// watchModel is the dashboard. Every call that may emit a notification
// runs inside a tea.Cmd: dispatcher observers call Program.Send, which
// blocks while Update is running.
type watchModel struct {
	app     *app
	mgr     *feed.Manager
	session *stream.Session

	table  table.Model
	jobs   []models.Job
	snap   jobstore.Snapshot
	status feed.Status
	banner notify.Notification

	streamJob string
	frame     *models.Frame

	// streamIntent counts enter/esc presses; a stream command only acts
	// if no newer press happened before it ran
	streamMu     sync.Mutex
	streamIntent uint64
	streamCancel context.CancelFunc

	width  int
	height int
}

func newWatchModel(a *app, mgr *feed.Manager, session *stream.Session) *watchModel {
	t := table.New(
		table.WithColumns(jobColumns(100)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
	t.SetStyles(styles)

	return &watchModel{
		app:     a,
		mgr:     mgr,
		session: session,
		table:   t,
		status:  feed.Status{State: feed.StateConnecting},
	}
}

func jobColumns(width int) []table.Column {
	fileW := width - 12 - 12 - 18 - 9 - 12
	if fileW < 16 {
		fileW = 16
	}
	return []table.Column{
		{Title: "Job ID", Width: 12},
		{Title: "File", Width: fileW},
		{Title: "Status", Width: 12},
		{Title: "Progress", Width: 18},
		{Title: "Elapsed", Width: 9},
	}
}

func jobRows(jobs []models.Job) []table.Row {
	rows := make([]table.Row, 0, len(jobs))
	for _, j := range jobs {
		p := jobstore.DisplayProgress(j)
		rows = append(rows, table.Row{
			jobstore.Truncate(j.JobID, 12),
			j.FileName,
			jobstore.StatusLabel(j.Status),
			fmt.Sprintf("%s %3d%%", jobstore.ProgressBar(p, 12), p),
			jobstore.FormatElapsed(j.ElapsedTime),
		})
	}
	return rows
}

func (m *watchModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetColumns(jobColumns(msg.Width - 4))
		h := msg.Height - 12
		if m.streamJob != "" {
			h -= 7
		}
		if h < 5 {
			h = 5
		}
		m.table.SetHeight(h)
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		m.jobs = jobstore.Order(msg.snap.Jobs)
		m.table.SetRows(jobRows(m.jobs))
		if m.streamJob != "" && !m.hasJob(m.streamJob) {
			gone := m.streamJob
			m.streamJob = ""
			m.frame = nil
			return m, m.closeStream(m.nextStreamIntent(), "Live stream closed: job "+gone+" is no longer listed.")
		}
		return m, nil

	case feedStatusMsg:
		m.status = msg.status
		return m, nil

	case notificationMsg:
		m.banner = msg.n
		return m, nil

	case frameMsg:
		if msg.frame.JobID == m.streamJob {
			f := msg.frame
			m.frame = &f
		}
		return m, nil

	case streamClosedMsg:
		return m, nil

	case tickMsg:
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			job, ok := m.selected()
			if !ok {
				return m, nil
			}
			m.streamJob = job.JobID
			m.frame = nil
			return m, m.openStream(m.nextStreamIntent(), job.JobID)
		case "esc":
			if m.streamJob == "" {
				return m, nil
			}
			m.streamJob = ""
			m.frame = nil
			return m, m.closeStream(m.nextStreamIntent(), "")
		case "c":
			return m, m.clearCompleted()
		case "x":
			job, ok := m.selected()
			if !ok {
				return m, nil
			}
			return m, m.shutdownJob(job)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *watchModel) selected() (models.Job, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.jobs) {
		return models.Job{}, false
	}
	return m.jobs[i], true
}

func (m *watchModel) hasJob(id string) bool {
	for _, j := range m.jobs {
		if j.JobID == id {
			return true
		}
	}
	return false
}

func (m *watchModel) nextStreamIntent() uint64 {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	m.streamIntent++
	return m.streamIntent
}

func (m *watchModel) openStream(intent uint64, jobID string) tea.Cmd {
	return func() tea.Msg {
		m.streamMu.Lock()
		if m.streamIntent != intent {
			m.streamMu.Unlock()
			return nil
		}
		if m.streamCancel != nil {
			m.streamCancel()
		}
		ctx, cancel := context.WithCancel(context.Background())
		m.streamCancel = cancel
		m.streamMu.Unlock()

		// failures are reported by the session through the dispatcher
		_ = m.session.Open(ctx, jobID)
		return nil
	}
}

func (m *watchModel) closeStream(intent uint64, reason string) tea.Cmd {
	return func() tea.Msg {
		m.streamMu.Lock()
		if m.streamIntent != intent {
			m.streamMu.Unlock()
			return nil
		}
		if m.streamCancel != nil {
			m.streamCancel()
			m.streamCancel = nil
		}
		m.session.Close()
		m.streamMu.Unlock()

		if reason != "" {
			m.app.dispatcher.Show(reason, notify.TypeInfo, 0)
		}
		return streamClosedMsg{}
	}
}

func (m *watchModel) clearCompleted() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.app.cfg.RequestTimeout+time.Second)
		defer cancel()
		resp, err := m.app.client.ClearCompleted(ctx)
		if err != nil {
			m.app.dispatcher.Show("Clear completed failed: "+errclass.Message(err), notify.TypeError, 0)
			return nil
		}
		m.app.dispatcher.Show(actionText(resp.Message, "Completed jobs cleared."), notify.TypeSuccess, 0)
		return nil
	}
}

func (m *watchModel) shutdownJob(job models.Job) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.app.cfg.RequestTimeout+time.Second)
		defer cancel()
		resp, err := m.app.client.ShutdownJob(ctx, job.JobID)
		if err != nil {
			m.app.dispatcher.Show("Shutdown failed: "+errclass.Message(err), notify.TypeError, 0)
			return nil
		}
		m.app.dispatcher.Show(actionText(resp.Message, "Shutdown requested for "+job.FileName+"."), notify.TypeWarning, 0)
		return nil
	}
}

func actionText(msg, fallback string) string {
	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}

func (m *watchModel) View() string {
	var b strings.Builder

	state := m.status.State
	style, ok := watchStateStyle[state]
	if !ok {
		style = watchMutedStyle
	}
	header := watchTitleStyle.Render("trafficlens") + "  " + style.Render(string(state))
	if m.status.Error != "" {
		header += watchMutedStyle.Render("  " + m.status.Error)
	}
	b.WriteString(header + "\n")

	s := m.snap.Summary
	b.WriteString(watchMutedStyle.Render(fmt.Sprintf("Jobs %d · Queue %d · Processor %s · Reconnects %d",
		s.TotalJobs, s.QueueLength, processorLabel(s.QueueProcessorRunning), m.status.Reconnects)) + "\n\n")

	if len(m.jobs) == 0 {
		b.WriteString(watchMutedStyle.Render("No jobs yet") + "\n")
	} else {
		b.WriteString(m.table.View() + "\n")
	}

	if m.streamJob != "" {
		b.WriteString(watchPanelStyle.Render(m.streamView()) + "\n")
	}

	if m.banner.Show {
		b.WriteString(bannerStyle(m.banner.Type).Render(m.banner.Message) + "\n")
	} else {
		b.WriteString("\n")
	}
	b.WriteString(watchMutedStyle.Render("enter stream · esc close · c clear completed · x shutdown job · q quit"))
	return b.String()
}

func (m *watchModel) streamView() string {
	lines := []string{watchTitleStyle.Render("Live stream") + "  " + m.streamJob + "  " + watchMutedStyle.Render(string(m.session.Status()))}
	if m.frame == nil {
		lines = append(lines, watchMutedStyle.Render("Waiting for the first frame..."))
	} else {
		stats := m.session.Stats()
		lines = append(lines,
			fmt.Sprintf("Frame #%d  %s  received %s", m.frame.Sequence, jobstore.FormatBytes(int64(len(m.frame.Data))), humanize.Time(m.frame.ReceivedAt)),
			watchMutedStyle.Render(fmt.Sprintf("overwritten %d · dropped %d", stats.Overwritten, stats.Dropped)),
		)
		if watchFrameOut != "" {
			lines = append(lines, watchMutedStyle.Render("mirroring to "+watchFrameOut))
		}
	}
	return strings.Join(lines, "\n")
}

func runWatchTUI(ctx context.Context, a *app, mgr *feed.Manager) error {
	session := stream.New(stream.Config{
		BaseURL: a.cfg.WebSocketURL(),
		Dialer:  a.dialer,
		Sink:    a.dispatcher,
		Logger:  a.logger,
		Metrics: a.metrics,
	})

	m := newWatchModel(a, mgr, session)
	p := tea.NewProgram(m, tea.WithAltScreen())

	unsubscribe := a.dispatcher.Subscribe(func(n notify.Notification) {
		p.Send(notificationMsg{n: n})
	})
	defer unsubscribe()
	mgr.Store().OnChange(func(snap jobstore.Snapshot, diff jobstore.Diff) {
		p.Send(snapshotMsg{snap: snap})
	})
	mgr.OnStateChange(func(st feed.Status) {
		p.Send(feedStatusMsg{status: st})
	})
	session.OnFrame(func(f models.Frame) {
		if watchFrameOut != "" {
			if err := session.WriteLatest(watchFrameOut); err != nil {
				a.logger.Warn("Failed to write frame", map[string]interface{}{"path": watchFrameOut, "error": err.Error()})
			}
		}
		p.Send(frameMsg{frame: f})
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	mgr.Start(runCtx)

	_, err := p.Run()

	cancel()
	session.Close()
	mgr.Stop()
	mgr.Wait()
	session.Wait()
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "tty") {
		return fmt.Errorf("watch dashboard requires an interactive terminal (TTY); use --plain")
	}
	return err
}
