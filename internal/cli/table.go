package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

const (
	tablePadding      = 2
	defaultTermWidth  = 120
	minPreviewWidth   = 16
	previewEllipsis   = "…"
	defaultPreviewCap = 48
)

var (
	pinnedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	urgentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	unreadStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Underline(true)
)

// writeTable renders rows in aligned columns. Widths ignore ANSI styling.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	colCount := len(headers)
	for _, row := range rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}
	if colCount == 0 {
		return nil
	}

	widths := make([]int, colCount)
	measure := func(row []string) {
		for idx, cell := range row {
			if w := runewidth.StringWidth(stripANSI(cell)); w > widths[idx] {
				widths[idx] = w
			}
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	writer := bufio.NewWriter(out)
	var writeErr error
	writeString := func(value string) {
		if writeErr == nil {
			_, writeErr = writer.WriteString(value)
		}
	}
	writeRow := func(row []string) {
		for idx := 0; idx < colCount; idx++ {
			cell := ""
			if idx < len(row) {
				cell = row[idx]
			}
			writeString(cell)
			if idx < colCount-1 {
				padding := max(widths[idx]-runewidth.StringWidth(stripANSI(cell)), 0)
				writeString(strings.Repeat(" ", padding+tablePadding))
			}
		}
		writeString("\n")
	}

	if len(headers) > 0 {
		styled := make([]string, len(headers))
		for i, h := range headers {
			styled[i] = headerStyle.Render(h)
		}
		writeRow(styled)
	}
	for _, row := range rows {
		writeRow(row)
	}
	if writeErr != nil {
		return writeErr
	}
	return writer.Flush()
}

// terminalWidth returns the width of out when it is a terminal.
func terminalWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return defaultTermWidth
}

// truncate cuts value to width display cells.
func truncate(value string, width int) string {
	value = strings.Join(strings.Fields(value), " ")
	if width <= 0 {
		return value
	}
	return runewidth.Truncate(value, width, previewEllipsis)
}

func stripANSI(value string) string {
	if value == "" {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != 0x1b || i+1 >= len(value) || value[i+1] != '[' {
			b.WriteByte(value[i])
			continue
		}
		i += 2
		for i < len(value) {
			ch := value[i]
			if ch >= 0x40 && ch <= 0x7e {
				break
			}
			i++
		}
	}
	return b.String()
}
