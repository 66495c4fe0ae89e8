package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/tOgg1/threadline/internal/detail"
	"github.com/tOgg1/threadline/internal/models"
)

var conversationHeaders = []string{"", "ID", "PROJECT", "PARTNER", "STATUS", "LAST MESSAGE", "TIME"}

func conversationMarkers(c models.Conversation) string {
	var b strings.Builder
	if c.Pinned {
		b.WriteString(pinnedStyle.Render("^"))
	} else {
		b.WriteString(" ")
	}
	if c.IsUrgent {
		b.WriteString(urgentStyle.Render("!"))
	} else {
		b.WriteString(" ")
	}
	if c.Unread() {
		b.WriteString(unreadStyle.Render("*"))
	} else {
		b.WriteString(" ")
	}
	return b.String()
}

func writeConversations(out io.Writer, conversations []models.Conversation) error {
	if len(conversations) == 0 {
		_, err := fmt.Fprintln(out, mutedStyle.Render("No conversations"))
		return err
	}

	rows := make([][]string, 0, len(conversations))
	fixed := 0
	for _, c := range conversations {
		row := []string{
			conversationMarkers(c),
			c.ID,
			c.ProjectName,
			fmt.Sprintf("%s (%s)", c.PartnerName, c.PartnerRole),
			c.ProjectStatus,
			"",
			c.DisplayTimestamp(),
		}
		width := 0
		for i, cell := range row {
			if i != 5 {
				width += runewidth.StringWidth(stripANSI(cell)) + tablePadding
			}
		}
		fixed = max(fixed, width)
		rows = append(rows, row)
	}

	preview := min(max(terminalWidth(out)-fixed-tablePadding, minPreviewWidth), defaultPreviewCap)
	for i, c := range conversations {
		text := truncate(c.LastMessage, preview)
		if c.Unread() {
			text = unreadStyle.Render(text)
		} else if !c.HasMessages {
			text = mutedStyle.Render(text)
		}
		rows[i][5] = text
	}
	return writeTable(out, conversationHeaders, rows)
}

func writeEntry(out io.Writer, e detail.Entry) error {
	sender := e.SenderID
	if e.IsSystem() {
		sender = "system"
	}
	line := fmt.Sprintf("%s  %s: %s", mutedStyle.Render(e.CreatedAt.Local().Format(models.DisplayTimeLayout)), sender, e.Content)
	switch {
	case e.Pending:
		line += mutedStyle.Render(" (sending)")
	case e.Failed:
		line += urgentStyle.Render(" (failed)")
	}
	_, err := fmt.Fprintln(out, line)
	return err
}
