package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/objmonitor/monitor"
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchHelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// watchCommand launches a live TUI showing contended monitors while a
// background workload hammers a handful of shared objects.
func watchCommand(_ []string) {
	rt := monitor.NewRuntime()
	objects := []*monitor.Object{
		monitor.NewObject(1, "ledger"),
		monitor.NewObject(2, "queue"),
		monitor.NewObject(3, "cache"),
	}

	stop := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			self := rt.NewThread()
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				obj := objects[rand.Intn(len(objects))]
				rt.Enter(self, obj)
				time.Sleep(time.Duration(1+rand.Intn(4)) * time.Millisecond)
				if err := rt.Exit(self, obj); err != nil {
					return err
				}
			}
		})
	}

	p := tea.NewProgram(newWatchModel(rt, objects))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
	}
	close(stop)
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "watch workload: %v\n", err)
	}
}

type tickMsg time.Time

type watchModel struct {
	rt      *monitor.Runtime
	objects []*monitor.Object
	table   table.Model
}

func newWatchModel(rt *monitor.Runtime, objects []*monitor.Object) watchModel {
	columns := []table.Column{
		{Title: "Object", Width: 16},
		{Title: "Owner TID", Width: 10},
		{Title: "Valid Word", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(nil),
		table.WithFocused(false),
		table.WithHeight(len(objects)+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("212"))
	t.SetStyles(styles)

	return watchModel{rt: rt, objects: objects, table: t}
}

func (m watchModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" || msg.String() == "esc" {
			return m, tea.Quit
		}
	case tickMsg:
		rows := make([]table.Row, 0, len(m.objects))
		for _, obj := range m.objects {
			owner := m.rt.OwnerTID(obj)
			ownerCell := "-"
			if owner != monitor.InvalidTID {
				ownerCell = fmt.Sprintf("%d", owner)
			}
			valid := "yes"
			if !m.rt.IsValidLockWord(obj) {
				valid = "no"
			}
			rows = append(rows, table.Row{obj.Ref().Type, ownerCell, valid})
		}
		m.table.SetRows(rows)
		return m, tick()
	}
	return m, nil
}

func (m watchModel) View() string {
	return watchTitleStyle.Render("objmonitor live contention watch") + "\n\n" +
		m.table.View() + "\n\n" +
		watchHelpStyle.Render("press q to quit")
}
