// Package tui renders a live dashboard of a self-play run.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxRecent = 10

// GameUpdate is sent once per finished game.
type GameUpdate struct {
	Worker int
	GameID string
	Plies  int
	Result string
}

// Snapshot holds the counters polled on every tick.
type Snapshot struct {
	Plies         int64
	Iterations    int64
	ArenaCapacity int
	ArenaFree     int
}

type TickMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Width(18).Foreground(lipgloss.Color("8"))
	winStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	drawStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
)

type Model struct {
	title       string
	gamesPlayed int
	results     map[string]int
	snap        Snapshot
	startTime   time.Time
	recentGames []GameUpdate
	updates     <-chan GameUpdate
	snapshot    func() Snapshot
}

// New builds the dashboard. snapshot may be nil.
func New(title string, updates <-chan GameUpdate, snapshot func() Snapshot) Model {
	return Model{
		title:     title,
		results:   make(map[string]int),
		startTime: time.Now(),
		updates:   updates,
		snapshot:  snapshot,
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForUpdate(updates <-chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return u
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		if m.snapshot != nil {
			m.snap = m.snapshot()
		}
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.results[msg.Result]++
		m.recentGames = append([]GameUpdate{msg}, m.recentGames...)
		if len(m.recentGames) > maxRecent {
			m.recentGames = m.recentGames[:maxRecent]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func perSec(n int64, d time.Duration) float64 {
	if d < time.Second {
		return 0
	}
	return float64(n) / d.Seconds()
}

func resultStyle(result string) lipgloss.Style {
	switch result {
	case "win":
		return winStyle
	case "loss":
		return lossStyle
	default:
		return drawStyle
	}
}

func (m Model) View() string {
	duration := time.Since(m.startTime)

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title) + "\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	row("Games Played", fmt.Sprintf("%d", m.gamesPlayed))
	row("P0 W/L/D", fmt.Sprintf("%d/%d/%d", m.results["win"], m.results["loss"], m.results["draw"]))
	row("Total Plies", fmt.Sprintf("%d", m.snap.Plies))
	row("Iterations", fmt.Sprintf("%d", m.snap.Iterations))
	row("Arena", fmt.Sprintf("%d/%d slots in use", m.snap.ArenaCapacity-m.snap.ArenaFree, m.snap.ArenaCapacity))
	row("Duration", duration.Round(time.Second).String())
	row("Games/Sec", fmt.Sprintf("%.2f", perSec(int64(m.gamesPlayed), duration)))
	row("Iterations/Sec", fmt.Sprintf("%.2f", perSec(m.snap.Iterations, duration)))

	b.WriteString("\nRecent Games:\n")
	for _, g := range m.recentGames {
		b.WriteString(fmt.Sprintf("worker %d: %s in %d plies (%s)\n",
			g.Worker, resultStyle(g.Result).Render(g.Result), g.Plies, g.GameID))
	}

	b.WriteString("\n" + helpStyle.Render("Press q to quit.") + "\n")
	return b.String()
}

// Run shows the dashboard until the user quits or ctx is done.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
