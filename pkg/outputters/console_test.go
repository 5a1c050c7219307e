package outputters

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrascope/entrascope/pkg/directory"
)

func TestTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable("Name", "State")
	table.SetOutput(&buf)
	table.AddRow("a-very-long-name", "ok")
	table.AddRow("short", "failed")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Name")
	assert.Contains(t, lines[1], "----")
	assert.Contains(t, lines[2], "a-very-long-name  ok")
	assert.Contains(t, lines[3], "short             failed")
}

func TestTablePadsMissingCells(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable("A", "B", "C")
	table.SetOutput(&buf)
	table.AddRow("only")
	table.Render()

	assert.Contains(t, buf.String(), "only")
}

func TestMemberKind(t *testing.T) {
	assert.Equal(t, "user", memberKind(directory.Member{ODataType: "#microsoft.graph.user"}))
	assert.Equal(t, "servicePrincipal", memberKind(directory.Member{ODataType: "#microsoft.graph.servicePrincipal"}))
	assert.Equal(t, "unknown", memberKind(directory.Member{}))
}
