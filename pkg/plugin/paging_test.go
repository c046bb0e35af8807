package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/clawgate/pkg/apierr"
)

func TestParseOffsetCursor(t *testing.T) {
	offset, err := ParseOffsetCursor("")
	require.NoError(t, err)
	assert.Equal(t, 0, offset)

	offset, err = ParseOffsetCursor("40")
	require.NoError(t, err)
	assert.Equal(t, 40, offset)

	for _, cursor := range []string{"abc", "-1", "1.5"} {
		_, err := ParseOffsetCursor(cursor)
		require.Error(t, err, cursor)
		assert.Equal(t, "cursor must be an integer", apierr.From(err).Message)
	}
}

func TestPage(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}

	assert.Equal(t, []int{0, 1}, Page(items, 0, 2))
	assert.Equal(t, []int{3, 4}, Page(items, 3, 10))
	assert.Nil(t, Page(items, 5, 2))
	assert.Nil(t, Page(items, 99, 2))
}

func TestNextOffsetCursor(t *testing.T) {
	assert.Equal(t, "2", NextOffsetCursor(0, 2, 5))
	assert.Equal(t, "4", NextOffsetCursor(2, 2, 5))
	assert.Nil(t, NextOffsetCursor(4, 2, 5))
	assert.Nil(t, NextOffsetCursor(0, 5, 5))
}
