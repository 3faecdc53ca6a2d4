package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumeric(t *testing.T) {
	d, err := parseNumeric(pgtype.Text{})
	require.NoError(t, err)
	assert.False(t, d.Valid)

	d, err = parseNumeric(pgtype.Text{String: "899.50", Valid: true})
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.Equal(t, "899.50", d.Decimal.StringFixed(2))

	_, err = parseNumeric(pgtype.Text{String: "garbage", Valid: true})
	assert.Error(t, err)
}
