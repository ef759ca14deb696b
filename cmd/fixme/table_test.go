package main

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_ColumnsAligned(t *testing.T) {
	tbl := newTable("RUNS", "ID", "STATE")
	tbl.addRow("a", "completed")
	tbl.addRow("longer-id", "aborted")

	lines := strings.Split(strings.TrimRight(tbl.render("(none)"), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "RUNS")

	width := lipgloss.Width(lines[1])
	for _, l := range lines[2:] {
		assert.Equal(t, width, lipgloss.Width(l), "line %q", l)
	}
	assert.Equal(t, strings.Index(lines[1], "|"), strings.Index(lines[3], "|"))
	assert.Contains(t, lines[4], "longer-id")
}

func TestTable_EmptyShowsPlaceholder(t *testing.T) {
	out := newTable("", "ID").render("nothing here")
	assert.Equal(t, "nothing here\n", out)
}
