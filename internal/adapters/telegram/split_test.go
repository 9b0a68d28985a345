package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextKeepsLinesTogether(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30) + "\n" + strings.Repeat("c", 10)

	parts := splitText(text, 45)
	require.Len(t, parts, 2)
	assert.Equal(t, strings.Repeat("a", 30), parts[0])
	assert.Equal(t, strings.Repeat("b", 30)+"\n"+strings.Repeat("c", 10), parts[1])
}

func TestSplitTextCutsLongLine(t *testing.T) {
	parts := splitText(strings.Repeat("я", 25), 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
	assert.Equal(t, strings.Repeat("я", 5), parts[2])
}

func TestSplitTextShortAndEmpty(t *testing.T) {
	assert.Equal(t, []string{"ok"}, splitText("  ok \n", messageLimit))
	assert.Nil(t, splitText(" \n ", messageLimit))
}

func TestSplitTextDefaultLimit(t *testing.T) {
	text := strings.Repeat("x", messageLimit) + "\n" + "tail"
	parts := splitText(text, 0)
	require.Len(t, parts, 2)
	assert.Equal(t, "tail", parts[1])
}
