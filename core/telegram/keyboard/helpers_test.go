package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineButtonsNPerRow(t *testing.T) {
	btns := []InlineBtn{{Text: "a", Data: "1"}, {Text: "b", Data: "2"}, {Text: "c", Data: "3"}}
	m := InlineButtonsNPerRow(btns, 2)
	require.Len(t, m.InlineKeyboard, 2)
	assert.Len(t, m.InlineKeyboard[0], 2)
	assert.Len(t, m.InlineKeyboard[1], 1)
	assert.Equal(t, "3", m.InlineKeyboard[1][0].Data)
	assert.Empty(t, m.InlineKeyboard[1][0].Unique)
}

func TestInlineButtonsRowsSkipsEmpty(t *testing.T) {
	m := InlineButtonsRows([]InlineBtn{{Text: "x", Data: "menu"}}, nil)
	assert.Len(t, m.InlineKeyboard, 1)
}

func TestInlineButtonsOnePerRow(t *testing.T) {
	m := InlineButtonsNPerRow([]InlineBtn{{Text: "a"}, {Text: "b"}}, 1)
	assert.Len(t, m.InlineKeyboard, 2)
}

func TestRemoveKeyboard(t *testing.T) {
	m := RemoveKeyboard()
	assert.True(t, m.RemoveKeyboard)
	assert.Empty(t, m.InlineKeyboard)
}
