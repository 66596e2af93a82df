package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/clrmeta/metadata"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxCell truncates long heap values in table output.
const maxCell = 48

type printer struct {
	color bool
}

func newPrinter() *printer {
	return &printer{color: term.IsTerminal(int(os.Stdout.Fd()))}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) header(text string) {
	fmt.Println(p.render(headerStyle, text))
}

func (p *printer) field(name string, value any) {
	fmt.Printf("  %s %s\n", p.render(nameStyle, name+":"), p.render(valueStyle, fmt.Sprint(value)))
}

func truncate(s string) string {
	if len(s) <= maxCell {
		return s
	}
	return s[:maxCell-3] + "..."
}

// cell renders one column value of a row, following heap and table
// references where possible.
func cell(md *metadata.Metadata, c metadata.Column, v uint32) string {
	switch c.Type {
	case metadata.ColumnU16, metadata.ColumnU32:
		return fmt.Sprintf("0x%X", v)
	case metadata.ColumnString:
		if v == 0 {
			return `""`
		}
		s, err := md.Strings.Get(v)
		if err != nil {
			return fmt.Sprintf("#Strings[0x%X]!", v)
		}
		return truncate(strconv.Quote(s))
	case metadata.ColumnGUID:
		if v == 0 {
			return "null"
		}
		g, err := md.GUID.Get(v)
		if err != nil {
			return fmt.Sprintf("#GUID[%d]!", v)
		}
		return g.String()
	case metadata.ColumnBlob:
		if v == 0 {
			return "[]"
		}
		b, err := md.Blob.Get(v)
		if err != nil {
			return fmt.Sprintf("#Blob[0x%X]!", v)
		}
		return truncate("[" + hex.EncodeToString(b) + "]")
	case metadata.ColumnTable:
		return metadata.NewToken(c.Table, v).String()
	case metadata.ColumnCoded:
		tok, err := c.Coded.Decode(v)
		if err != nil {
			return fmt.Sprintf("%s(0x%X)!", c.Coded, v)
		}
		return tok.String()
	}
	return strconv.FormatUint(uint64(v), 10)
}

func rowCells(md *metadata.Metadata, layout *metadata.TableLayout, row metadata.Row) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = cell(md, layout.Columns[i], v)
	}
	return out
}

func columnNames(layout *metadata.TableLayout) []string {
	names := make([]string, len(layout.Columns))
	for i, c := range layout.Columns {
		names[i] = c.Name
	}
	return names
}

// parseToken accepts 0x06000001 or 06000001.
func parseToken(s string) (metadata.Token, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad token %q: %w", s, err)
	}
	return metadata.Token(v), nil
}
