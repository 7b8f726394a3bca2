package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "1234"})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, "1234", cursor.ID)
}

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []int64{9, 8, 7, 6}

	page, info := BuildCursorPageInfo(rows, 3, func(v int64) string { return strconv.FormatInt(v, 10) })
	require.Equal(t, []int64{9, 8, 7}, page)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	require.Equal(t, "7", cursor.ID)

	page, info = BuildCursorPageInfo(rows, 10, func(v int64) string { return strconv.FormatInt(v, 10) })
	require.Len(t, page, 4)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}

func TestLimitBounds(t *testing.T) {
	require.Equal(t, DefaultPageSize, Pagination{}.Limit())
	require.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	require.Equal(t, 5, Pagination{PageSize: 5}.Limit())
}

func TestValidateToken(t *testing.T) {
	require.NoError(t, ValidateToken(""))

	token, err := EncodeCursor(Cursor{ID: "42"})
	require.NoError(t, err)
	require.NoError(t, ValidateToken(token))

	bad, err := EncodeCursor(Cursor{ID: "abc"})
	require.NoError(t, err)
	require.Error(t, ValidateToken(bad))
	require.Error(t, ValidateToken("%%%"))
}
