package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)

	got, ok := ParseTime("2024-10-10T10:10:10Z")
	assert.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = ParseTime(strconv.FormatInt(want.Unix(), 10))
	assert.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = ParseTime(strconv.FormatInt(want.UnixMilli(), 10))
	assert.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = ParseTime("yesterday")
	assert.False(t, ok)
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, def, ParseTimeDefault("", def))
	assert.Equal(t, def, ParseTimeDefault("-5", def))
}

func TestAlignRange(t *testing.T) {
	a := time.Date(2024, 1, 1, 10, 7, 31, 0, time.UTC)
	b := time.Date(2024, 1, 1, 9, 58, 2, 0, time.UTC)

	from, to := AlignRange(a, b, 5*time.Minute)

	assert.Equal(t, time.Date(2024, 1, 1, 9, 55, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), to)
}

func TestIntHelpers(t *testing.T) {
	assert.Equal(t, 7, ParseIntDefault("", 7))
	assert.Equal(t, 7, ParseIntDefault("x", 7))
	assert.Equal(t, 42, ParseIntDefault("42", 7))
	assert.Equal(t, 1, ClampInt(-3, 1, 10))
	assert.Equal(t, 10, ClampInt(30, 1, 10))
	assert.Equal(t, 5, ClampInt(5, 1, 10))
}
