package sink

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

// statusMsg carries the latest row of one drone.
type statusMsg struct{ telemetry.StatusRow }

// tickMsg refreshes ages and staleness.
type tickMsg time.Time

const (
	maxLogLines = 500
	tableHeight = 8
)

// TUIWriter renders announces using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
func NewTUIWriter(cfg *config.FleetConfig) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(cfg, time.Now), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		// the user quit the UI, stop the whole process
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Write implements StatusWriter.
func (w *TUIWriter) Write(row telemetry.StatusRow) error {
	line := fmt.Sprintf("%s[%s]%s %sANNOUNCE%s %sdrone=%s%s %saddr=%s:%d%s %sbatt=%.2fV%s %smode=%s%s %sarmed=%t%s",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		colorCyan, colorReset,
		colorWhite, row.DroneID, colorReset,
		colorGray, row.Host, row.Port, colorReset,
		batteryColor(row.BatteryVoltage), row.BatteryVoltage, colorReset,
		colorMagenta, row.FlightMode, colorReset,
		armedColor(row.Armed), row.Armed, colorReset,
	)
	w.program.Send(logMsg{line: line})
	w.program.Send(statusMsg{row})
	return nil
}

// LogWriter routes log output into the viewport so it does not tear the
// alternate screen.
func (w *TUIWriter) LogWriter() io.Writer { return tuiLog{w} }

type tuiLog struct{ w *TUIWriter }

func (l tuiLog) Write(p []byte) (int, error) {
	l.w.program.Send(logMsg{line: strings.TrimRight(string(p), "\n")})
	return len(p), nil
}

// Close stops the UI without signalling the process.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	cfg        *config.FleetConfig
	now        func() time.Time
	table      table.Model
	vp         viewport.Model
	logs       []string
	drones     map[string]telemetry.StatusRow
	announces  int
	wrap       bool
	autoscroll bool
	help       bool
	height     int
}

func newTUIModel(cfg *config.FleetConfig, now func() time.Time) tuiModel {
	if cfg == nil {
		cfg = config.Default()
	}
	cols := []table.Column{
		{Title: "Drone", Width: 14},
		{Title: "Address", Width: 21},
		{Title: "Battery", Width: 8},
		{Title: "Mode", Width: 10},
		{Title: "Armed", Width: 6},
		{Title: "GPS", Width: 4},
		{Title: "RSSI", Width: 5},
		{Title: "Seen", Width: 6},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(tableHeight))
	return tuiModel{
		cfg:        cfg,
		now:        now,
		table:      t,
		vp:         viewport.New(0, 0),
		drones:     make(map[string]telemetry.StatusRow),
		autoscroll: true,
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m tuiModel) Init() tea.Cmd { return tick() }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.height = msg.Height
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "h", "?", "esc", "q":
				m.help = false
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		case "h", "?":
			m.help = true
		case "up", "k":
			if !m.autoscroll {
				m.vp.LineUp(1)
			}
		case "down", "j":
			if !m.autoscroll {
				m.vp.LineDown(1)
			}
		case "pgup":
			if !m.autoscroll {
				m.vp.LineUp(10)
			}
		case "pgdown":
			if !m.autoscroll {
				m.vp.LineDown(10)
			}
		}
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case statusMsg:
		m.announces++
		m.drones[msg.DroneID] = msg.StatusRow
		m.refreshTable()
	case tickMsg:
		m.refreshTable()
		return m, tick()
	}
	return m, nil
}

// refreshTable rebuilds the drone table, hiding drones past the TTL.
func (m *tuiModel) refreshTable() {
	now := m.now()
	ids := make([]string, 0, len(m.drones))
	for id, row := range m.drones {
		if now.Sub(row.Timestamp) > m.cfg.TTL {
			delete(m.drones, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		r := m.drones[id]
		gps := "no"
		if r.GPSFix {
			gps = "yes"
		}
		rows = append(rows, table.Row{
			r.DroneID,
			fmt.Sprintf("%s:%d", r.Host, r.Port),
			fmt.Sprintf("%.2fV", r.BatteryVoltage),
			r.FlightMode,
			fmt.Sprintf("%t", r.Armed),
			gps,
			fmt.Sprintf("%d", r.SignalStrength),
			fmt.Sprintf("%ds", int(now.Sub(r.Timestamp).Seconds())),
		})
	}
	m.table.SetRows(rows)
}

func (m *tuiModel) updateViewportHeight() {
	h := m.height - lipgloss.Height(m.table.View()) - lipgloss.Height(m.renderBottom()) - 3
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	return strings.Join([]string{
		m.table.View(),
		divider,
		m.vp.View(),
		divider,
		m.renderBottom(),
	}, "\n")
}

func indicator(on bool) string {
	c := lipgloss.Color("9")
	if on {
		c = lipgloss.Color("10")
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderBottom() string {
	title := lipgloss.NewStyle().Bold(true).Render("FLEET")
	return fmt.Sprintf("%s port=%d drones=%d announces=%d ttl=%s | Wrap %s | Scroll %s | h help",
		title, m.cfg.DiscoveryPort, len(m.drones), m.announces, m.cfg.TTL,
		indicator(m.wrap), indicator(m.autoscroll))
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit",
		" w  toggle wrap for log lines",
		" s  toggle auto-scroll",
		" h/? toggle this help view",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll ten lines",
	}
	return strings.Join(lines, "\n")
}
