package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/clrmeta/metadata"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	frameStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

const browserHeight = 20

type browserState int

const (
	stateTables browserState = iota
	stateRows
	stateGoto
)

type browserModel struct {
	md       *metadata.Metadata
	filename string
	kinds    []metadata.TableKind
	table    table.Model
	input    textinput.Model
	state    browserState
	current  metadata.TableKind
	err      error
}

func newBrowserModel(filename string, md *metadata.Metadata) *browserModel {
	ti := textinput.New()
	ti.Placeholder = "0x06000001"
	ti.Prompt = "token: "
	ti.Width = 20

	m := &browserModel{
		md:       md,
		filename: filename,
		input:    ti,
		table: table.New(
			table.WithFocused(true),
			table.WithHeight(browserHeight),
		),
	}
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	m.table.SetStyles(styles)
	m.showTables()
	return m
}

func (m *browserModel) Init() tea.Cmd {
	return nil
}

// showTables lists every non-empty table with its row count.
func (m *browserModel) showTables() {
	m.kinds = m.kinds[:0]
	var rows []table.Row
	for kind := metadata.TableKind(0); kind < metadata.TableCount; kind++ {
		t := m.md.Tables.Table(kind)
		if t.Len() == 0 {
			continue
		}
		m.kinds = append(m.kinds, kind)
		rows = append(rows, table.Row{kind.String(), fmt.Sprint(t.Len()), fmt.Sprint(len(t.Layout().Columns))})
	}
	m.table.SetRows(nil)
	m.table.SetColumns([]table.Column{
		{Title: "Table", Width: 24},
		{Title: "Rows", Width: 8},
		{Title: "Columns", Width: 8},
	})
	m.table.SetRows(rows)
	m.table.SetCursor(0)
	m.state = stateTables
}

// showRows lists the rows of kind with decoded cells.
func (m *browserModel) showRows(kind metadata.TableKind, cursor int) {
	t := m.md.Tables.Table(kind)
	layout := t.Layout()

	cols := []table.Column{{Title: "Token", Width: 10}}
	for _, name := range columnNames(layout) {
		cols = append(cols, table.Column{Title: name, Width: max(len(name), 12)})
	}
	rows := make([]table.Row, 0, t.Len())
	for i, row := range t.Rows() {
		r := table.Row{metadata.NewToken(kind, uint32(i+1)).String()}
		rows = append(rows, append(r, rowCells(m.md, layout, row)...))
	}
	m.table.SetRows(nil)
	m.table.SetColumns(cols)
	m.table.SetRows(rows)
	m.table.SetCursor(cursor)
	m.current = kind
	m.state = stateRows
}

func (m *browserModel) jump(s string) {
	tok, err := parseToken(s)
	if err != nil {
		m.err = err
		return
	}
	if _, ok := m.md.Tables.Resolve(tok); !ok {
		m.err = fmt.Errorf("token %s not present", tok)
		return
	}
	m.err = nil
	m.showRows(tok.Table(), int(tok.Rid())-1)
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		if m.state == stateGoto {
			switch key.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "enter":
				m.input.Blur()
				m.jump(m.input.Value())
				if m.err != nil {
					m.showTables()
				}
				return m, nil
			case "esc":
				m.input.Blur()
				m.showTables()
				return m, nil
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}

		switch key.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "enter":
			if m.state == stateTables && len(m.kinds) > 0 {
				m.showRows(m.kinds[m.table.Cursor()], 0)
				return m, nil
			}

		case "esc", "backspace":
			if m.state == stateRows {
				m.showTables()
				return m, nil
			}

		case "g":
			m.state = stateGoto
			m.input.SetValue("")
			m.err = nil
			return m, m.input.Focus()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *browserModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("CLI Metadata"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(m.md.Version))
	b.WriteString("\n\n")

	switch m.state {
	case stateTables:
		b.WriteString("Tables:\n")
	case stateRows:
		b.WriteString(fmt.Sprintf("%s (%d rows):\n", m.current, m.md.Tables.Table(m.current).Len()))
	case stateGoto:
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	b.WriteString(frameStyle.Render(m.table.View()))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	switch m.state {
	case stateTables:
		b.WriteString(helpStyle.Render("↑/↓ select • enter open • g go to token • q quit"))
	case stateRows:
		b.WriteString(helpStyle.Render("↑/↓ scroll • esc back • g go to token • q quit"))
	case stateGoto:
		b.WriteString(helpStyle.Render("enter jump • esc cancel"))
	}
	return b.String()
}

func runInteractive(filename string, md *metadata.Metadata) error {
	p := tea.NewProgram(newBrowserModel(filename, md), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
