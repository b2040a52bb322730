package cwidget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMinInt(t *testing.T) {
	v, err := parseMinInt("", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = parseMinInt(" 5 ", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	v, err = parseMinInt("0", 3, 1)
	assert.Error(t, err)
	assert.Equal(t, 3, v)

	_, err = parseMinInt("-2", 3, 1)
	assert.Error(t, err)

	_, err = parseMinInt("two", 3, 1)
	assert.Error(t, err)
}
