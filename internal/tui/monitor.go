// Package tui implements the live "monitor" view: a bubbletea program that
// redraws the register file, the most recent host function hits and heap
// occupancy once per executor tick. It gives the cooperative executor's
// Tick boundary a visible home — the same place a host window's frame loop
// would pump it in a full WIPI runtime — instead of only ever driving it
// from a test or a headless run.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wipirt/wipirt/internal/driver"
	"github.com/wipirt/wipirt/internal/sched"
	"github.com/wipirt/wipirt/internal/trace"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	headStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	tagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("176"))
)

const maxEventLog = 200

type tickMsg time.Time

// Model is the bubbletea model driving the monitor screen.
type Model struct {
	sys      *driver.System
	exec     *sched.Executor
	viewport viewport.Model
	events   []*trace.Event
	ticks    int
	done     bool
	width    int
	height   int
}

// New builds a monitor model wired to sys and exec. It installs a trace
// sink on sys so every host function that reports itself via Log.Trace
// appears in the event log.
func New(sys *driver.System, exec *sched.Executor) *Model {
	m := &Model{sys: sys, exec: exec, viewport: viewport.New(80, 20)}
	sys.EnableTrace(func(e *trace.Event) {
		m.events = append(m.events, e)
		if len(m.events) > maxEventLog {
			m.events = m.events[len(m.events)-maxEventLog:]
		}
	})
	return m
}

// Run starts the monitor program and blocks until the user quits.
func Run(m *Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m *Model) Init() tea.Cmd { return tickEvery() }

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second/20, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 10
	case tickMsg:
		if !m.done {
			pending := m.exec.Tick()
			m.ticks++
			if pending == 0 && m.exec.Idle() {
				m.done = true
			}
		}
		m.viewport.SetContent(m.renderEvents())
		return m, tickEvery()
	}
	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(headStyle.Render("wipirt monitor") + "\n\n")
	b.WriteString(m.renderRegisters() + "\n")
	b.WriteString(m.renderHeap() + "\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n" + labelStyle.Render("q to quit"))
	return b.String()
}

func (m *Model) renderRegisters() string {
	ctx, err := m.sys.SaveContext()
	if err != nil {
		return labelStyle.Render("registers unavailable")
	}
	regs := []struct {
		name string
		val  uint32
	}{
		{"r0", ctx.R0}, {"r1", ctx.R1}, {"r2", ctx.R2}, {"r3", ctx.R3},
		{"r4", ctx.R4}, {"r5", ctx.R5}, {"r6", ctx.R6}, {"r7", ctx.R7},
		{"sp", ctx.Sp}, {"lr", ctx.Lr}, {"pc", ctx.Pc},
	}
	var parts []string
	for _, r := range regs {
		parts = append(parts, labelStyle.Render(r.name+"=")+valueStyle.Render(fmt.Sprintf("%08x", r.val)))
	}
	return strings.Join(parts, "  ")
}

func (m *Model) renderHeap() string {
	stats, err := m.sys.Heap.Walk()
	if err != nil {
		return labelStyle.Render("heap unavailable")
	}
	return fmt.Sprintf("%s %s  %s %s  %s %s  %s %d",
		labelStyle.Render("used"), valueStyle.Render(fmt.Sprintf("0x%x", stats.Used)),
		labelStyle.Render("free"), valueStyle.Render(fmt.Sprintf("0x%x", stats.Free)),
		labelStyle.Render("largest"), valueStyle.Render(fmt.Sprintf("0x%x", stats.Largest)),
		labelStyle.Render("blocks"), stats.Blocks,
	)
}

func (m *Model) renderEvents() string {
	var b strings.Builder
	start := 0
	if len(m.events) > 100 {
		start = len(m.events) - 100
	}
	for _, e := range m.events[start:] {
		b.WriteString(fmt.Sprintf("%08x ", e.PC))
		b.WriteString(tagStyle.Render(e.PrimaryTag()))
		b.WriteString(" " + e.Name)
		if e.Detail != "" {
			b.WriteString(" " + labelStyle.Render(e.Detail))
		}
		b.WriteString("\n")
	}
	return b.String()
}
